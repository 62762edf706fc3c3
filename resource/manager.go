package resource

import (
	"errors"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/wgpu/hal"
)

// ErrInvalidInfo is returned when a create call receives an info struct
// that cannot describe a GPU object (zero extent, zero size, missing
// shader, unknown layout).
var ErrInvalidInfo = errors.New("resource: invalid create info")

// Manager owns one pool per object kind and creates every object on the
// device of its context.
//
// Create and Destroy methods are safe for concurrent use. Accessors return
// the pooled object; callers must not keep it past Destroy.
type Manager struct {
	ctx *device.Context

	images           *Pool[*Image]
	buffers          *Pool[*Buffer]
	samplers         *Pool[*Sampler]
	layouts          *Pool[*DescriptorSetLayout]
	sets             *Pool[*DescriptorSet]
	renderPipelines  *Pool[*RenderPipeline]
	computePipelines *Pool[*ComputePipeline]
}

// NewManager creates an empty manager bound to ctx.
func NewManager(ctx *device.Context) *Manager {
	return &Manager{
		ctx:              ctx,
		images:           NewPool[*Image](),
		buffers:          NewPool[*Buffer](),
		samplers:         NewPool[*Sampler](),
		layouts:          NewPool[*DescriptorSetLayout](),
		sets:             NewPool[*DescriptorSet](),
		renderPipelines:  NewPool[*RenderPipeline](),
		computePipelines: NewPool[*ComputePipeline](),
	}
}

// Context returns the device context objects are created on.
func (m *Manager) Context() *device.Context { return m.ctx }

func (m *Manager) device() hal.Device { return m.ctx.Device }

// Stats counts live objects per kind.
type Stats struct {
	Images           int
	Buffers          int
	Samplers         int
	Layouts          int
	DescriptorSets   int
	RenderPipelines  int
	ComputePipelines int
}

// Total returns the number of live objects of all kinds.
func (s Stats) Total() int {
	return s.Images + s.Buffers + s.Samplers + s.Layouts + s.DescriptorSets +
		s.RenderPipelines + s.ComputePipelines
}

// Stats returns the current live object counts.
func (m *Manager) Stats() Stats {
	return Stats{
		Images:           m.images.Len(),
		Buffers:          m.buffers.Len(),
		Samplers:         m.samplers.Len(),
		Layouts:          m.layouts.Len(),
		DescriptorSets:   m.sets.Len(),
		RenderPipelines:  m.renderPipelines.Len(),
		ComputePipelines: m.computePipelines.Len(),
	}
}

// Destroy releases every live object, dependents first.
func (m *Manager) Destroy() {
	for _, r := range m.renderPipelines.Refs() {
		_ = m.DestroyRenderPipeline(r)
	}
	for _, r := range m.computePipelines.Refs() {
		_ = m.DestroyComputePipeline(r)
	}
	for _, r := range m.sets.Refs() {
		_ = m.DestroyDescriptorSet(r)
	}
	for _, r := range m.layouts.Refs() {
		_ = m.DestroyDescriptorSetLayout(r)
	}
	for _, r := range m.samplers.Refs() {
		_ = m.DestroySampler(r)
	}
	for _, r := range m.images.Refs() {
		_ = m.DestroyImage(r)
	}
	for _, r := range m.buffers.Refs() {
		_ = m.DestroyBuffer(r)
	}
	logging.Logger().Debug("resource: manager destroyed")
}
