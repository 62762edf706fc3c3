package framegraph

import (
	"fmt"
	"slices"

	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Graph is a compiled frame configuration: the GPU objects of every
// declared resource and pass, and the command sequence that replays them.
//
// A Graph is used from the render thread only. Destroy it before the
// manager that owns its objects.
type Graph struct {
	mgr     *resource.Manager
	builder *Builder
	label   string
	frames  int
	extent  Extent

	backbuffer ResourceRef
	commands   []Command
	passes     []passRuntime

	// Per declaration, per frame.
	images   [][]resource.Ref
	depths   [][]resource.Ref
	uniforms [][]resource.Ref

	samplers []resource.Ref
	buckets  map[Frequency]*bucket
	empty    *bucket

	owned ownedObjects
}

func newGraph(mgr *resource.Manager, p *plan, o options) *Graph {
	return &Graph{
		mgr:        mgr,
		builder:    p.b,
		label:      o.label,
		frames:     o.framesInFlight,
		extent:     p.output,
		backbuffer: p.b.backbuffer,
	}
}

// FramesInFlight returns the number of per-frame instances of every
// resource.
func (g *Graph) FramesInFlight() int { return g.frames }

// Extent returns the output extent the graph was baked against.
func (g *Graph) Extent() Extent { return g.extent }

// Commands returns a copy of the compiled command sequence.
func (g *Graph) Commands() []Command { return slices.Clone(g.commands) }

// Resources returns the manager the graph allocates from.
func (g *Graph) Resources() *resource.Manager { return g.mgr }

// Backbuffer returns the reference of the backbuffer declaration.
func (g *Graph) Backbuffer() ResourceRef { return g.backbuffer }

// BackbufferImage returns the backbuffer instance of frame.
func (g *Graph) BackbufferImage(frame int) resource.Ref {
	return g.Image(g.backbuffer, frame)
}

// instance returns the frame instance of a graph image or depth target.
func (g *Graph) instance(ref ResourceRef, frame int) resource.Ref {
	var set [][]resource.Ref
	switch ref.Kind {
	case KindImage:
		set = g.images
	case KindDepthStencil:
		set = g.depths
	default:
		return resource.InvalidRef
	}
	if int(ref.Index) >= len(set) || frame < 0 || frame >= len(set[ref.Index]) {
		return resource.InvalidRef
	}
	return set[ref.Index][frame]
}

// Image returns the frame instance of an image or depth target, or
// resource.InvalidRef if the declaration was never used and so never
// allocated.
func (g *Graph) Image(ref ResourceRef, frame int) resource.Ref {
	return g.instance(ref, frame)
}

// UniformBuffer returns the buffer bound for a uniform buffer declaration
// in frame.
func (g *Graph) UniformBuffer(ref ResourceRef, frame int) resource.Ref {
	if ref.Kind != KindUniformBuffer || int(ref.Index) >= len(g.uniforms) ||
		frame < 0 || frame >= g.frames {
		return resource.InvalidRef
	}
	return g.uniforms[ref.Index][frame]
}

// Sampler returns the sampler of a sampled image declaration.
func (g *Graph) Sampler(ref ResourceRef) resource.Ref {
	if ref.Kind != KindUniformSampledImage || int(ref.Index) >= len(g.samplers) {
		return resource.InvalidRef
	}
	return g.samplers[ref.Index]
}

// DescriptorSets returns the per-frame descriptor sets of freq, or nil if
// nothing is declared at freq.
func (g *Graph) DescriptorSets(freq Frequency) []resource.Ref {
	bk, ok := g.buckets[freq]
	if !ok {
		return nil
	}
	return slices.Clone(bk.sets)
}

// Layout returns the descriptor-set layout of freq.
func (g *Graph) Layout(freq Frequency) resource.Ref {
	bk, ok := g.buckets[freq]
	if !ok {
		return resource.InvalidRef
	}
	return bk.layout
}

// Frequencies returns the declared frequencies in ascending order.
func (g *Graph) Frequencies() []Frequency {
	freqs := make([]Frequency, 0, len(g.buckets))
	for f := range g.buckets {
		freqs = append(freqs, f)
	}
	slices.Sort(freqs)
	return freqs
}

// ObjectCount returns the number of GPU objects the graph owns.
func (g *Graph) ObjectCount() int { return g.owned.count() }

// Destroy releases every object the graph created. The graph must not be
// executed afterwards. Destroy is idempotent.
func (g *Graph) Destroy() {
	if g.owned.count() == 0 {
		return
	}
	n := g.owned.count()
	g.owned.release(g.mgr)
	g.commands = nil
	g.passes = nil
	g.buckets = nil
	g.empty = nil
	slogger().Debug("framegraph: graph destroyed", "label", g.label, "objects", n)
}

// Execute records the compiled commands of frame into enc. A pass callback
// error stops recording after the open pass has been ended.
func (g *Graph) Execute(enc hal.CommandEncoder, frame int) error {
	if frame < 0 || frame >= g.frames {
		return fmt.Errorf("%w: %d of %d", ErrFrameOutOfRange, frame, g.frames)
	}
	for _, cmd := range g.commands {
		var err error
		switch c := cmd.(type) {
		case PipelineBarrierCommand:
			enc.TransitionTextures(g.textureBarriers(c.Barriers, frame))
		case RenderPipelineCommand:
			err = g.executeRender(enc, c, frame)
		case ComputePipelineCommand:
			err = g.executeCompute(enc, c, frame)
		case GeneralCommand:
			err = g.executeGeneral(enc, c, frame)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) textureBarriers(barriers []ImageBarrier, frame int) []hal.TextureBarrier {
	out := make([]hal.TextureBarrier, len(barriers))
	for i, b := range barriers {
		out[i] = hal.TextureBarrier{
			Texture: g.mgr.Image(g.instance(b.Resource, frame)).Texture,
			Usage: hal.TextureUsageTransition{
				OldUsage: b.Old.Layout.TextureUsage(),
				NewUsage: b.New.Layout.TextureUsage(),
			},
		}
	}
	return out
}

func loadOp(clear bool) gputypes.LoadOp {
	if clear {
		return gputypes.LoadOpClear
	}
	return gputypes.LoadOpLoad
}

func (g *Graph) executeRender(enc hal.CommandEncoder, c RenderPipelineCommand, frame int) error {
	rt := &g.passes[c.Pass.Index]
	if len(c.InitialTransitions) > 0 {
		enc.TransitionTextures(g.textureBarriers(c.InitialTransitions, frame))
	}

	desc := &hal.RenderPassDescriptor{Label: rt.decl.passName()}
	for _, a := range c.Colors {
		img := g.mgr.Image(g.instance(a.Resource, frame))
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:       img.View,
			LoadOp:     loadOp(a.Clear),
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: img.Info.ClearColor,
		})
	}
	if c.Depth != nil {
		img := g.mgr.Image(g.instance(c.Depth.Resource, frame))
		ds := &hal.RenderPassDepthStencilAttachment{
			View:            img.View,
			DepthLoadOp:     loadOp(c.Depth.Clear),
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: img.Info.ClearDepth,
		}
		if img.Info.Aspect()&resource.AspectStencil != 0 {
			ds.StencilLoadOp = loadOp(c.Depth.Clear)
			ds.StencilStoreOp = gputypes.StoreOpStore
		}
		desc.DepthStencilAttachment = ds
	}

	rp := enc.BeginRenderPass(desc)
	rp.SetPipeline(g.mgr.RenderPipeline(c.Pipeline).Pipeline)
	for i, bk := range rt.groups {
		rp.SetBindGroup(uint32(i), g.mgr.DescriptorSet(bk.sets[frame]).Raw, nil)
	}
	err := g.run(rt, &PassContext{
		Frame:    frame,
		Extent:   rt.extent,
		Pass:     c.Pass,
		Name:     rt.decl.passName(),
		Encoder:  enc,
		Render:   rp,
		Pipeline: c.Pipeline,
		graph:    g,
	})
	rp.End()
	return err
}

func (g *Graph) executeCompute(enc hal.CommandEncoder, c ComputePipelineCommand, frame int) error {
	rt := &g.passes[c.Pass.Index]
	cp := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: rt.decl.passName()})
	cp.SetPipeline(g.mgr.ComputePipeline(c.Pipeline).Pipeline)
	for i, bk := range rt.groups {
		cp.SetBindGroup(uint32(i), g.mgr.DescriptorSet(bk.sets[frame]).Raw, nil)
	}
	err := g.run(rt, &PassContext{
		Frame:    frame,
		Extent:   rt.extent,
		Pass:     c.Pass,
		Name:     rt.decl.passName(),
		Encoder:  enc,
		Compute:  cp,
		Pipeline: c.Pipeline,
		graph:    g,
	})
	cp.End()
	return err
}

func (g *Graph) executeGeneral(enc hal.CommandEncoder, c GeneralCommand, frame int) error {
	rt := &g.passes[c.Pass.Index]
	return g.run(rt, &PassContext{
		Frame:    frame,
		Extent:   rt.extent,
		Pass:     c.Pass,
		Name:     rt.decl.passName(),
		Encoder:  enc,
		Pipeline: resource.InvalidRef,
		graph:    g,
	})
}

func (g *Graph) run(rt *passRuntime, ctx *PassContext) error {
	exec := rt.decl.passExecute()
	if exec == nil {
		return nil
	}
	if err := exec(ctx); err != nil {
		return fmt.Errorf("framegraph: pass %q: %w", ctx.Name, err)
	}
	return nil
}
