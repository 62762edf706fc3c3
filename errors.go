package framegraph

import (
	"errors"
	"fmt"
)

// Configuration errors. Bake wraps them in a *ConfigError naming the pass
// and resource at fault.
var (
	// ErrBackbufferNotSet is returned when Bake runs before SetBackbuffer.
	ErrBackbufferNotSet = errors.New("framegraph: backbuffer not set")

	// ErrInvalidBackbuffer is returned when the backbuffer is not a color image.
	ErrInvalidBackbuffer = errors.New("framegraph: backbuffer must be an image")

	// ErrUnknownResource is returned for a reference whose index is out of
	// range for its kind.
	ErrUnknownResource = errors.New("framegraph: unknown resource")

	// ErrIllegalRole is returned when a pass uses a resource in a role its
	// kind does not support, such as a uniform buffer as a color output.
	ErrIllegalRole = errors.New("framegraph: illegal resource role for pass")

	// ErrMultipleDepthOutputs is returned for a render pass with more than
	// one depth-stencil output.
	ErrMultipleDepthOutputs = errors.New("framegraph: render pass has more than one depth output")

	// ErrConflictingRoles is returned when one pass needs a resource in two
	// different layouts.
	ErrConflictingRoles = errors.New("framegraph: conflicting roles for resource in one pass")

	// ErrDuplicateBinding is returned when two declarations of the same
	// frequency claim the same binding slot.
	ErrDuplicateBinding = errors.New("framegraph: duplicate binding in frequency")

	// ErrShaderNotFound is returned when a shader path cannot be resolved
	// or compiled.
	ErrShaderNotFound = errors.New("framegraph: shader not found")

	// ErrInvalidFormat is returned for a depth target declared with a color
	// format or an image declared with a depth format.
	ErrInvalidFormat = errors.New("framegraph: invalid format for resource kind")

	// ErrInvalidExtent is returned when the output extent has a zero side.
	ErrInvalidExtent = errors.New("framegraph: invalid output extent")

	// ErrFrequencyOutOfRange is returned for a frequency at or above
	// MaxFrequencies.
	ErrFrequencyOutOfRange = errors.New("framegraph: frequency exceeds bind group limit")
)

// ErrFrameOutOfRange is returned by Graph methods given a frame index
// outside [0, FramesInFlight).
var ErrFrameOutOfRange = errors.New("framegraph: frame index out of range")

// ConfigError reports a configuration error found while baking.
type ConfigError struct {
	// Pass is the name of the offending pass, empty for graph-level errors.
	Pass string
	// Resource is the offending reference, or NoResource.
	Resource ResourceRef
	Err      error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Pass != "" && e.Resource != NoResource:
		return fmt.Sprintf("pass %q, %v: %v", e.Pass, e.Resource, e.Err)
	case e.Pass != "":
		return fmt.Sprintf("pass %q: %v", e.Pass, e.Err)
	case e.Resource != NoResource:
		return fmt.Sprintf("%v: %v", e.Resource, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(pass string, ref ResourceRef, err error) error {
	return &ConfigError{Pass: pass, Resource: ref, Err: err}
}
