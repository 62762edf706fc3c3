package framegraph

import (
	"fmt"
	"slices"

	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/gputypes"
)

// ownedObjects records every object a graph created so a failed bake and
// Graph.Destroy release exactly those.
type ownedObjects struct {
	images           []resource.Ref
	buffers          []resource.Ref
	samplers         []resource.Ref
	layouts          []resource.Ref
	sets             []resource.Ref
	renderPipelines  []resource.Ref
	computePipelines []resource.Ref
}

func (o *ownedObjects) count() int {
	return len(o.images) + len(o.buffers) + len(o.samplers) + len(o.layouts) +
		len(o.sets) + len(o.renderPipelines) + len(o.computePipelines)
}

// release destroys dependents before their dependencies, newest first.
func (o *ownedObjects) release(mgr *resource.Manager) {
	destroy := func(refs []resource.Ref, kind string, fn func(resource.Ref) error) {
		for _, ref := range slices.Backward(refs) {
			if err := fn(ref); err != nil {
				slogger().Warn("framegraph: release failed", "kind", kind, "ref", ref, "err", err)
			}
		}
	}
	destroy(o.renderPipelines, "render-pipeline", mgr.DestroyRenderPipeline)
	destroy(o.computePipelines, "compute-pipeline", mgr.DestroyComputePipeline)
	destroy(o.sets, "descriptor-set", mgr.DestroyDescriptorSet)
	destroy(o.layouts, "layout", mgr.DestroyDescriptorSetLayout)
	destroy(o.samplers, "sampler", mgr.DestroySampler)
	destroy(o.images, "image", mgr.DestroyImage)
	destroy(o.buffers, "buffer", mgr.DestroyBuffer)
	*o = ownedObjects{}
}

// bucket is the layout and per-frame descriptor sets of one frequency.
type bucket struct {
	freq   Frequency
	layout resource.Ref
	sets   []resource.Ref
}

func (g *Graph) allocate(p *plan) error {
	b := p.b
	frames := g.frames

	g.images = make([][]resource.Ref, len(b.images))
	for i, info := range b.images {
		ref := ResourceRef{KindImage, uint32(i)}
		usage := p.usage(ref)
		if usage == 0 {
			slogger().Debug("framegraph: skipping unused image", "name", info.Name)
			continue
		}
		ext := info.Extent.resolve(p.output)
		refs, err := g.createInstances(resource.ImageInfo{
			Label:      g.objectLabel(info.Name, ref),
			Format:     info.Format,
			Usage:      usage,
			Width:      ext.Width,
			Height:     ext.Height,
			ClearColor: info.ClearColor,
		})
		if err != nil {
			return err
		}
		g.images[i] = refs
	}

	g.depths = make([][]resource.Ref, len(b.depths))
	for i, info := range b.depths {
		ref := ResourceRef{KindDepthStencil, uint32(i)}
		usage := p.usage(ref)
		if usage == 0 {
			slogger().Debug("framegraph: skipping unused depth target", "name", info.Name)
			continue
		}
		ext := info.Extent.resolve(p.output)
		refs, err := g.createInstances(resource.ImageInfo{
			Label:      g.objectLabel(info.Name, ref),
			Format:     info.Format,
			Usage:      usage,
			Width:      ext.Width,
			Height:     ext.Height,
			ClearDepth: *info.ClearDepth,
		})
		if err != nil {
			return err
		}
		g.depths[i] = refs
	}

	g.uniforms = make([][]resource.Ref, len(b.uniforms))
	for i, info := range b.uniforms {
		refs := make([]resource.Ref, frames)
		for f := range frames {
			if info.Source != nil {
				refs[f] = info.Source.FrameBuffer(f)
				continue
			}
			ref, err := g.mgr.CreateBuffer(resource.BufferInfo{
				Label: fmt.Sprintf("%s/uniform%d[%d]", g.label, i, f),
				Size:  info.Size,
				Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
			})
			if err != nil {
				return err
			}
			g.owned.buffers = append(g.owned.buffers, ref)
			refs[f] = ref
		}
		g.uniforms[i] = refs
	}

	g.samplers = make([]resource.Ref, len(b.sampled))
	for i, info := range b.sampled {
		si := info.Sampler
		if si.Label == "" {
			si.Label = fmt.Sprintf("%s/sampler%d", g.label, i)
		}
		if info.samplesDepth() {
			si.MagFilter = gputypes.FilterModeNearest
			si.MinFilter = gputypes.FilterModeNearest
			si.MipmapFilter = gputypes.FilterModeNearest
		}
		ref, err := g.mgr.CreateSampler(si)
		if err != nil {
			return err
		}
		g.owned.samplers = append(g.owned.samplers, ref)
		g.samplers[i] = ref
	}

	g.buckets = make(map[Frequency]*bucket, len(p.frequencies))
	for _, freq := range p.frequencies {
		bk, err := g.createBucket(freq, p.buckets[freq])
		if err != nil {
			return err
		}
		g.buckets[freq] = bk
	}
	return nil
}

func (g *Graph) objectLabel(name string, ref ResourceRef) string {
	if name == "" {
		name = ref.String()
	}
	return g.label + "/" + name
}

// createInstances creates one image per frame in flight.
func (g *Graph) createInstances(info resource.ImageInfo) ([]resource.Ref, error) {
	base := info.Label
	refs := make([]resource.Ref, g.frames)
	for f := range g.frames {
		info.Label = fmt.Sprintf("%s[%d]", base, f)
		ref, err := g.mgr.CreateImage(info)
		if err != nil {
			return nil, err
		}
		g.owned.images = append(g.owned.images, ref)
		refs[f] = ref
	}
	slogger().Debug("framegraph: allocated image",
		"label", base, "format", info.Format, "usage", info.Usage,
		"width", info.Width, "height", info.Height, "instances", g.frames)
	return refs, nil
}

// createBucket creates the layout of one frequency and its per-frame sets.
// Set f only references frame-f instances.
func (g *Graph) createBucket(freq Frequency, decls []ResourceRef) (*bucket, error) {
	var bindings []resource.LayoutBinding
	for _, ref := range decls {
		bindings = append(bindings, g.builder.layoutBindings(ref)...)
	}
	layout, err := g.mgr.CreateDescriptorSetLayout(resource.LayoutInfo{
		Label:    fmt.Sprintf("%s/layout%d", g.label, freq),
		Bindings: bindings,
	})
	if err != nil {
		return nil, err
	}
	g.owned.layouts = append(g.owned.layouts, layout)

	bk := &bucket{freq: freq, layout: layout, sets: make([]resource.Ref, g.frames)}
	for f := range g.frames {
		var writes []resource.Write
		for _, ref := range decls {
			writes = append(writes, g.writes(ref, f)...)
		}
		set, err := g.mgr.CreateDescriptorSet(resource.DescriptorSetInfo{
			Label:  fmt.Sprintf("%s/set%d[%d]", g.label, freq, f),
			Layout: layout,
			Writes: writes,
		})
		if err != nil {
			return nil, err
		}
		g.owned.sets = append(g.owned.sets, set)
		bk.sets[f] = set
	}
	slogger().Debug("framegraph: allocated descriptor sets",
		"frequency", freq, "bindings", len(bindings), "sets", g.frames)
	return bk, nil
}

// emptyGroup returns the shared bindingless layout used for frequencies a
// pipeline does not bind, creating it on first use.
func (g *Graph) emptyGroup() (*bucket, error) {
	if g.empty != nil {
		return g.empty, nil
	}
	bk, err := g.createBucket(0, nil)
	if err != nil {
		return nil, err
	}
	g.empty = bk
	return bk, nil
}

// layoutBindings returns the layout slots one uniform declaration
// occupies.
func (b *Builder) layoutBindings(ref ResourceRef) []resource.LayoutBinding {
	switch ref.Kind {
	case KindUniformBuffer:
		u := b.uniforms[ref.Index]
		return []resource.LayoutBinding{{
			Binding:    u.Binding,
			Kind:       resource.BindingUniformBuffer,
			Visibility: u.Visibility,
		}}
	case KindUniformSampledImage:
		s := b.sampled[ref.Index]
		depth := s.samplesDepth()
		return []resource.LayoutBinding{
			{Binding: s.Binding, Kind: resource.BindingSampledImage, Visibility: s.Visibility, Cube: s.Cube, Depth: depth},
			{Binding: s.SamplerBinding, Kind: resource.BindingSampler, Visibility: s.Visibility, Depth: depth},
		}
	case KindUniformStorageImage:
		s := b.storage[ref.Index]
		return []resource.LayoutBinding{{
			Binding:       s.Binding,
			Kind:          resource.BindingStorageImage,
			Visibility:    s.Visibility,
			StorageFormat: b.format(s.Image),
		}}
	default:
		return nil
	}
}

// writes returns the descriptor writes of one declaration for frame f.
func (g *Graph) writes(ref ResourceRef, f int) []resource.Write {
	b := g.builder
	switch ref.Kind {
	case KindUniformBuffer:
		u := b.uniforms[ref.Index]
		return []resource.Write{{
			Binding:  u.Binding,
			Kind:     resource.BindingUniformBuffer,
			Resource: g.uniforms[ref.Index][f],
		}}
	case KindUniformSampledImage:
		s := b.sampled[ref.Index]
		tex := s.Texture
		if !s.External {
			tex = g.instance(s.Image, f)
		}
		return []resource.Write{
			{Binding: s.Binding, Kind: resource.BindingSampledImage, Resource: tex},
			{Binding: s.SamplerBinding, Kind: resource.BindingSampler, Resource: g.samplers[ref.Index]},
		}
	case KindUniformStorageImage:
		s := b.storage[ref.Index]
		return []resource.Write{{
			Binding:  s.Binding,
			Kind:     resource.BindingStorageImage,
			Resource: g.instance(s.Image, f),
		}}
	default:
		return nil
	}
}
