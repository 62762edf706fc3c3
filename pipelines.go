package framegraph

import (
	"slices"

	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/gputypes"
)

// passRuntime is what Execute needs to replay one pass.
type passRuntime struct {
	decl     passDecl
	extent   Extent
	pipeline resource.Ref
	// groups holds the bucket bound at each bind group index.
	groups []*bucket
}

// groups returns the buckets a pass binds at groups 0..max(buckets).
// Frequencies the pass does not use get the empty group.
func (g *Graph) groups(pp *passPlan) ([]*bucket, error) {
	if len(pp.buckets) == 0 {
		return nil, nil
	}
	top := pp.buckets[len(pp.buckets)-1]
	groups := make([]*bucket, top+1)
	for i := range groups {
		if freq := Frequency(i); slices.Contains(pp.buckets, freq) {
			groups[i] = g.buckets[freq]
			continue
		}
		empty, err := g.emptyGroup()
		if err != nil {
			return nil, err
		}
		groups[i] = empty
	}
	return groups, nil
}

func layoutRefs(groups []*bucket) []resource.Ref {
	refs := make([]resource.Ref, len(groups))
	for i, bk := range groups {
		refs[i] = bk.layout
	}
	return refs
}

func (g *Graph) buildPipelines(p *plan) error {
	g.passes = make([]passRuntime, len(p.passes))
	for i := range p.passes {
		pp := &p.passes[i]
		rt := passRuntime{decl: pp.decl, extent: pp.extent, pipeline: resource.InvalidRef}

		switch decl := pp.decl.(type) {
		case RenderPassInfo:
			groups, err := g.groups(pp)
			if err != nil {
				return err
			}
			info := resource.RenderPipelineInfo{
				Label:          g.label + "/" + decl.Name,
				VertexShader:   p.shaders[decl.VertexShader],
				FragmentShader: p.shaders[decl.FragmentShader],
				VertexInput:    decl.VertexInput,
				DepthFormat:    gputypes.TextureFormatUndefined,
				DepthTest:      decl.DepthTest,
				DepthWrite:     decl.DepthWrite,
				Width:          pp.extent.Width,
				Height:         pp.extent.Height,
				Layouts:        layoutRefs(groups),
			}
			for _, c := range pp.colors {
				info.ColorFormats = append(info.ColorFormats, g.builder.format(c))
			}
			if pp.depth != NoResource {
				info.DepthFormat = g.builder.format(pp.depth)
			}
			ref, err := g.mgr.CreateRenderPipeline(info)
			if err != nil {
				return err
			}
			g.owned.renderPipelines = append(g.owned.renderPipelines, ref)
			rt.pipeline, rt.groups = ref, groups

		case ComputePassInfo:
			groups, err := g.groups(pp)
			if err != nil {
				return err
			}
			ref, err := g.mgr.CreateComputePipeline(resource.ComputePipelineInfo{
				Label:   g.label + "/" + decl.Name,
				Shader:  p.shaders[decl.Shader],
				Layouts: layoutRefs(groups),
			})
			if err != nil {
				return err
			}
			g.owned.computePipelines = append(g.owned.computePipelines, ref)
			rt.pipeline, rt.groups = ref, groups
		}
		g.passes[i] = rt
	}
	return nil
}
