package framegraph

import (
	"github.com/gogpu/framegraph/resource"
)

// Command is one step of a compiled graph. The concrete types are
// GeneralCommand, RenderPipelineCommand, ComputePipelineCommand and
// PipelineBarrierCommand.
type Command interface {
	isCommand()
}

// ImageBarrier transitions one graph image between two states.
type ImageBarrier struct {
	Resource ResourceRef
	Old      resource.State
	New      resource.State
}

// Attachment is a render target of a render pass. Clear is set for the
// first write of a frame, which starts from undefined contents.
type Attachment struct {
	Resource ResourceRef
	Clear    bool
}

// GeneralCommand runs a transfer pass callback outside any render or
// compute pass.
type GeneralCommand struct {
	Pass PassRef
}

// RenderPipelineCommand begins a render pass, binds its pipeline and
// descriptor sets and runs its callback.
type RenderPipelineCommand struct {
	Pass     PassRef
	Pipeline resource.Ref

	// InitialTransitions take attachments out of the undefined state as
	// part of the pass.
	InitialTransitions []ImageBarrier
	Colors             []Attachment
	Depth              *Attachment

	// GroupCount is the number of bind groups the pipeline layout has.
	GroupCount int
}

// ComputePipelineCommand begins a compute pass, binds its pipeline and
// descriptor sets and runs its callback.
type ComputePipelineCommand struct {
	Pass       PassRef
	Pipeline   resource.Ref
	GroupCount int
}

// PipelineBarrierCommand is a merged barrier emitted before a pass.
type PipelineBarrierCommand struct {
	SrcStage resource.Stage
	DstStage resource.Stage
	Barriers []ImageBarrier
}

func (GeneralCommand) isCommand()         {}
func (RenderPipelineCommand) isCommand()  {}
func (ComputePipelineCommand) isCommand() {}
func (PipelineBarrierCommand) isCommand() {}
