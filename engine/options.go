package engine

import (
	"time"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/gputypes"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	framesInFlight int
	fenceTimeout   time.Duration
	presentFilter  gputypes.FilterMode
	label          string
}

func defaultOptions() options {
	return options{
		framesInFlight: framegraph.DefaultFramesInFlight,
		fenceTimeout:   device.DefaultWaitTimeout,
		presentFilter:  gputypes.FilterModeLinear,
		label:          "framegraph",
	}
}

// WithFramesInFlight sets how many frames may be recorded before the CPU
// waits for the GPU. Values below 1 are ignored.
func WithFramesInFlight(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.framesInFlight = n
		}
	}
}

// WithFenceTimeout bounds the wait for a frame slot to become free.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// WithPresentFilter selects the filter used when the backbuffer is scaled
// onto the surface.
func WithPresentFilter(f gputypes.FilterMode) Option {
	return func(o *options) {
		o.presentFilter = f
	}
}

// WithLabel sets the label prefix of the baked graph objects.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}
