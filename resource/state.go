package resource

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// Layout is the memory layout an image must be in for a given use.
type Layout uint8

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
)

var layoutNames = [...]string{
	LayoutUndefined:              "undefined",
	LayoutGeneral:                "general",
	LayoutColorAttachment:        "color-attachment",
	LayoutDepthStencilAttachment: "depth-stencil-attachment",
	LayoutShaderReadOnly:         "shader-read-only",
	LayoutTransferSrc:            "transfer-src",
	LayoutTransferDst:            "transfer-dst",
}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("Layout(%d)", l)
}

// TextureUsage maps the layout onto the usage carried by a HAL texture
// barrier. Undefined maps to zero.
func (l Layout) TextureUsage() gputypes.TextureUsage {
	switch l {
	case LayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case LayoutColorAttachment, LayoutDepthStencilAttachment:
		return gputypes.TextureUsageRenderAttachment
	case LayoutShaderReadOnly:
		return gputypes.TextureUsageTextureBinding
	case LayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	default:
		return 0
	}
}

// Access is a bitmask of the memory accesses a use performs.
type Access uint16

const (
	AccessShaderRead Access = 1 << iota
	AccessShaderWrite
	AccessColorAttachmentWrite
	AccessDepthStencilWrite
	AccessTransferRead
	AccessTransferWrite

	AccessNone Access = 0
)

func (a Access) String() string {
	if a == AccessNone {
		return "none"
	}
	names := []string{"shader-read", "shader-write", "color-attachment-write",
		"depth-stencil-write", "transfer-read", "transfer-write"}
	var parts []string
	for i, n := range names {
		if a&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// Stage is a pipeline stage used as a barrier's source or destination scope.
type Stage uint8

const (
	StageTopOfPipe Stage = iota
	StageTransfer
	StageVertexInput
	StageEarlyFragmentTests
	StageFragmentShader
	StageColorAttachmentOutput
	StageComputeShader
	StageBottomOfPipe
)

var stageNames = [...]string{
	StageTopOfPipe:             "top-of-pipe",
	StageTransfer:              "transfer",
	StageVertexInput:           "vertex-input",
	StageEarlyFragmentTests:    "early-fragment-tests",
	StageFragmentShader:        "fragment-shader",
	StageColorAttachmentOutput: "color-attachment-output",
	StageComputeShader:         "compute-shader",
	StageBottomOfPipe:          "bottom-of-pipe",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", s)
}

// State is the layout and access an image is in at a point of a command
// sequence.
type State struct {
	Layout Layout
	Access Access
}

// StateUndefined is the state of every image before its first use.
var StateUndefined = State{Layout: LayoutUndefined, Access: AccessNone}

// Common states.
var (
	StateShaderRead   = State{LayoutShaderReadOnly, AccessShaderRead}
	StateColorWrite   = State{LayoutColorAttachment, AccessColorAttachmentWrite}
	StateDepthWrite   = State{LayoutDepthStencilAttachment, AccessDepthStencilWrite}
	StateStorageRead  = State{LayoutGeneral, AccessShaderRead}
	StateStorageWrite = State{LayoutGeneral, AccessShaderWrite}
	StateTransferSrc  = State{LayoutTransferSrc, AccessTransferRead}
	StateTransferDst  = State{LayoutTransferDst, AccessTransferWrite}
)

// StatePresentSource is the state the backbuffer is left in at the end of a
// compiled frame, ready to be read by the presentation blit.
var StatePresentSource = StateTransferSrc

func (s State) String() string {
	return s.Layout.String() + "/" + s.Access.String()
}
