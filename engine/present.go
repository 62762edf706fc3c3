package engine

import (
	"fmt"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/shader"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// presenter draws the backbuffer into the surface texture with a
// full-screen triangle, which also scales it when the sizes differ.
type presenter struct {
	mgr      *resource.Manager
	layout   resource.Ref
	sampler  resource.Ref
	pipeline resource.Ref
	// sets holds one descriptor set per frame, each sampling that frame's
	// backbuffer instance.
	sets []resource.Ref
}

func newPresenter(mgr *resource.Manager, shaders framegraph.ShaderSource, format gputypes.TextureFormat, filter gputypes.FilterMode) (*presenter, error) {
	spirv, err := shaders.Load(shader.BlitPath)
	if err != nil {
		return nil, fmt.Errorf("load blit shader: %w", err)
	}

	p := &presenter{
		mgr:      mgr,
		layout:   resource.InvalidRef,
		sampler:  resource.InvalidRef,
		pipeline: resource.InvalidRef,
	}
	p.layout, err = mgr.CreateDescriptorSetLayout(resource.LayoutInfo{
		Label: "present",
		Bindings: []resource.LayoutBinding{
			{Binding: 0, Kind: resource.BindingSampledImage, Visibility: gputypes.ShaderStageFragment},
			{Binding: 1, Kind: resource.BindingSampler, Visibility: gputypes.ShaderStageFragment},
		},
	})
	if err != nil {
		p.destroy()
		return nil, err
	}
	p.sampler, err = mgr.CreateSampler(resource.SamplerInfo{
		Label:        "present",
		MagFilter:    filter,
		MinFilter:    filter,
		MipmapFilter: gputypes.FilterModeNearest,
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
	})
	if err != nil {
		p.destroy()
		return nil, err
	}
	p.pipeline, err = mgr.CreateRenderPipeline(resource.RenderPipelineInfo{
		Label:          "present",
		VertexShader:   spirv,
		FragmentShader: spirv,
		ColorFormats:   []gputypes.TextureFormat{format},
		Layouts:        []resource.Ref{p.layout},
	})
	if err != nil {
		p.destroy()
		return nil, err
	}
	return p, nil
}

// bind creates the per-frame descriptor sets for g. On success the sets of
// the previous graph are released.
func (p *presenter) bind(g *framegraph.Graph) error {
	sets := make([]resource.Ref, 0, g.FramesInFlight())
	for f := range g.FramesInFlight() {
		set, err := p.mgr.CreateDescriptorSet(resource.DescriptorSetInfo{
			Label:  fmt.Sprintf("present[%d]", f),
			Layout: p.layout,
			Writes: []resource.Write{
				{Binding: 0, Kind: resource.BindingSampledImage, Resource: g.BackbufferImage(f)},
				{Binding: 1, Kind: resource.BindingSampler, Resource: p.sampler},
			},
		})
		if err != nil {
			for _, s := range sets {
				_ = p.mgr.DestroyDescriptorSet(s)
			}
			return err
		}
		sets = append(sets, set)
	}
	p.releaseSets()
	p.sets = sets
	return nil
}

func (p *presenter) releaseSets() {
	for _, s := range p.sets {
		_ = p.mgr.DestroyDescriptorSet(s)
	}
	p.sets = nil
}

// record samples the frame's backbuffer into target. The backbuffer is
// expected in the transfer-source state and is left there.
func (p *presenter) record(enc hal.CommandEncoder, g *framegraph.Graph, frame int, target *SurfaceTexture) {
	bb := p.mgr.Image(g.BackbufferImage(frame))
	src := resource.StatePresentSource.Layout.TextureUsage()
	read := resource.StateShaderRead.Layout.TextureUsage()

	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: bb.Texture,
		Usage:   hal.TextureUsageTransition{OldUsage: src, NewUsage: read},
	}})

	rp := enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "present",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       target.View,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	rp.SetPipeline(p.mgr.RenderPipeline(p.pipeline).Pipeline)
	rp.SetBindGroup(0, p.mgr.DescriptorSet(p.sets[frame]).Raw, nil)
	rp.Draw(3, 1, 0, 0)
	rp.End()

	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: bb.Texture,
		Usage:   hal.TextureUsageTransition{OldUsage: read, NewUsage: src},
	}})
}

func (p *presenter) destroy() {
	p.releaseSets()
	if p.pipeline.Valid() {
		_ = p.mgr.DestroyRenderPipeline(p.pipeline)
		p.pipeline = resource.InvalidRef
	}
	if p.sampler.Valid() {
		_ = p.mgr.DestroySampler(p.sampler)
		p.sampler = resource.InvalidRef
	}
	if p.layout.Valid() {
		_ = p.mgr.DestroyDescriptorSetLayout(p.layout)
		p.layout = resource.InvalidRef
	}
}
