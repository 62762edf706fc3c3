package framegraph

import "github.com/gogpu/gputypes"

// DefaultFramesInFlight is the number of frames whose GPU work may overlap
// when WithFramesInFlight is not given.
const DefaultFramesInFlight = 2

// Option configures a Bake call.
//
// Example:
//
//	graph, err := b.Bake(mgr, shaders, extent,
//	    framegraph.WithFramesInFlight(3),
//	    framegraph.WithLabel("main"))
type Option func(*options)

type options struct {
	framesInFlight  int
	label           string
	backbufferUsage gputypes.TextureUsage
}

func defaultOptions() options {
	return options{
		framesInFlight: DefaultFramesInFlight,
		label:          "framegraph",
	}
}

// WithFramesInFlight sets how many instances of every per-frame resource
// and descriptor set the graph allocates. Values below 1 are ignored.
func WithFramesInFlight(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.framesInFlight = n
		}
	}
}

// WithLabel prefixes the debug labels of every GPU object the graph
// creates.
func WithLabel(label string) Option {
	return func(o *options) {
		if label != "" {
			o.label = label
		}
	}
}

// WithBackbufferUsage adds usage to the backbuffer on top of CopySrc, for
// presenters that read it some other way, such as sampling it in a blit.
func WithBackbufferUsage(u gputypes.TextureUsage) Option {
	return func(o *options) {
		o.backbufferUsage |= u
	}
}
