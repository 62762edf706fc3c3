package framegraph

import (
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/wgpu/hal"
)

// PassContext is handed to a pass callback while its pass is recorded.
// Exactly one of Render and Compute is set for render and compute passes;
// transfer passes only get Encoder.
type PassContext struct {
	Frame  int
	Extent Extent
	Pass   PassRef
	Name   string

	Encoder hal.CommandEncoder
	Render  hal.RenderPassEncoder
	Compute hal.ComputePassEncoder

	// Pipeline is resource.InvalidRef for transfer passes.
	Pipeline resource.Ref

	graph *Graph
}

// Graph returns the graph being executed.
func (c *PassContext) Graph() *Graph { return c.graph }

// Resources returns the resource manager of the graph.
func (c *PassContext) Resources() *resource.Manager { return c.graph.mgr }

// Image returns the current frame's instance of a graph image.
func (c *PassContext) Image(ref ResourceRef) *resource.Image {
	return c.graph.mgr.Image(c.graph.instance(ref, c.Frame))
}

// UniformBuffer returns the current frame's buffer of a uniform buffer
// declaration.
func (c *PassContext) UniformBuffer(ref ResourceRef) resource.Ref {
	return c.graph.UniformBuffer(ref, c.Frame)
}

// DescriptorSet returns the current frame's descriptor set of freq, or nil
// if nothing is declared at freq.
func (c *PassContext) DescriptorSet(freq Frequency) *resource.DescriptorSet {
	bk, ok := c.graph.buckets[freq]
	if !ok {
		return nil
	}
	return c.graph.mgr.DescriptorSet(bk.sets[c.Frame])
}
