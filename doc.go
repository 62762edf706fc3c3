// Package framegraph compiles a declarative description of GPU passes and
// resources into a replayable, barrier-synchronized command sequence.
//
// # Overview
//
// Client code describes one frame configuration with a [Builder]: images
// and depth targets, uniform buffers and sampled/storage image bindings
// grouped by update frequency, and an ordered list of render, compute and
// transfer passes that consume and produce references to them. One image
// is designated the backbuffer.
//
//	b := framegraph.NewBuilder()
//	color := b.CreateImage(framegraph.ImageInfo{Name: "color", Format: gputypes.TextureFormatRGBA8Unorm})
//	b.AddRenderPass(framegraph.NewRenderPassInfo("scene", "scene.wgsl", "scene.wgsl",
//	    nil, []framegraph.ResourceRef{color}, drawScene))
//	b.SetBackbuffer(color)
//
//	graph, err := b.Bake(mgr, shaders, framegraph.Extent{Width: 1280, Height: 720})
//
// [Builder.Bake] runs four phases: usage inference over every pass,
// allocation of per-frame resource instances and descriptor sets,
// pipeline construction, and a forward scheduling walk that tracks each
// image's layout and access and emits the minimal set of barriers. The
// result is a [Graph] whose [Graph.Execute] replays the sequence into a
// command encoder for a given frame-in-flight index.
//
// Configuration errors (no backbuffer, two depth outputs in one pass, a
// reference used in a role its kind does not support, a missing shader)
// are reported as [*ConfigError] before any GPU object is created.
//
// # Packages
//
//   - resource: pooled GPU objects addressed by opaque refs
//   - staging: CPU-to-GPU uploads with their barriers
//   - shader: logical shader paths to SPIR-V
//   - asset: textures, cube maps and per-frame uniform buffers
//   - engine: frames in flight, submission and presentation
//   - device: the explicit GPU context
//
// # Logging
//
// framegraph is silent by default. Use [SetLogger] to route diagnostics to
// a [log/slog] logger.
package framegraph
