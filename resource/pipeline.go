package resource

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// VertexAttribute is one attribute of a vertex input layout.
type VertexAttribute struct {
	Location uint32
	Offset   uint64
	Format   gputypes.VertexFormat
}

// VertexInput describes a single interleaved vertex buffer.
type VertexInput struct {
	Stride     uint64
	Attributes []VertexAttribute
}

func (v *VertexInput) layouts() []gputypes.VertexBufferLayout {
	if v == nil {
		return nil
	}
	attrs := make([]gputypes.VertexAttribute, len(v.Attributes))
	for i, a := range v.Attributes {
		attrs[i] = gputypes.VertexAttribute{
			Format:         a.Format,
			Offset:         a.Offset,
			ShaderLocation: a.Location,
		}
	}
	return []gputypes.VertexBufferLayout{{
		ArrayStride: v.Stride,
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes:  attrs,
	}}
}

// RenderPipelineInfo describes a graphics pipeline and the fixed-function
// state of the pass it serves.
type RenderPipelineInfo struct {
	Label string

	VertexShader   []uint32
	VertexEntry    string
	FragmentShader []uint32
	FragmentEntry  string
	VertexInput    *VertexInput

	ColorFormats []gputypes.TextureFormat
	// DepthFormat is TextureFormatUndefined when the pass has no depth output.
	DepthFormat gputypes.TextureFormat
	DepthTest   bool
	DepthWrite  bool

	Width, Height uint32

	// Layouts are descriptor-set layout refs indexed by bind group.
	Layouts []Ref
}

// RenderPipeline is a graphics pipeline with its layout and modules.
type RenderPipeline struct {
	Info     RenderPipelineInfo
	Layout   hal.PipelineLayout
	Pipeline hal.RenderPipeline

	vertexModule   hal.ShaderModule
	fragmentModule hal.ShaderModule
}

// ComputePipelineInfo describes a compute pipeline.
type ComputePipelineInfo struct {
	Label   string
	Shader  []uint32
	Entry   string
	Layouts []Ref
}

// ComputePipeline is a compute pipeline with its layout and module.
type ComputePipeline struct {
	Info     ComputePipelineInfo
	Layout   hal.PipelineLayout
	Pipeline hal.ComputePipeline

	module hal.ShaderModule
}

func (m *Manager) pipelineLayout(label string, refs []Ref) (hal.PipelineLayout, error) {
	layouts := make([]hal.BindGroupLayout, len(refs))
	for i, r := range refs {
		l, ok := m.layouts.Lookup(r)
		if !ok {
			return nil, fmt.Errorf("%w: layout %d at group %d", ErrStaleRef, r, i)
		}
		layouts[i] = l.Raw
	}
	pl, err := m.device().CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_layout",
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline layout %q: %w", label, err)
	}
	return pl, nil
}

func (m *Manager) shaderModule(label string, spirv []uint32) (hal.ShaderModule, error) {
	mod, err := m.device().CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("create shader module %q: %w", label, err)
	}
	return mod, nil
}

// CreateRenderPipeline builds the shader modules, the pipeline layout and
// the pipeline. Partial objects are released on failure.
func (m *Manager) CreateRenderPipeline(info RenderPipelineInfo) (Ref, error) {
	if len(info.VertexShader) == 0 || len(info.FragmentShader) == 0 {
		return InvalidRef, fmt.Errorf("%w: render pipeline %q is missing a shader", ErrInvalidInfo, info.Label)
	}
	if info.VertexEntry == "" {
		info.VertexEntry = "vs_main"
	}
	if info.FragmentEntry == "" {
		info.FragmentEntry = "fs_main"
	}

	p := &RenderPipeline{Info: info}
	var err error
	if p.Layout, err = m.pipelineLayout(info.Label, info.Layouts); err != nil {
		return InvalidRef, err
	}
	if p.vertexModule, err = m.shaderModule(info.Label+"_vs", info.VertexShader); err != nil {
		m.releaseRenderPipeline(p)
		return InvalidRef, err
	}
	if p.fragmentModule, err = m.shaderModule(info.Label+"_fs", info.FragmentShader); err != nil {
		m.releaseRenderPipeline(p)
		return InvalidRef, err
	}

	targets := make([]gputypes.ColorTargetState, len(info.ColorFormats))
	for i, f := range info.ColorFormats {
		targets[i] = gputypes.ColorTargetState{
			Format:    f,
			WriteMask: gputypes.ColorWriteMaskAll,
		}
	}

	desc := &hal.RenderPipelineDescriptor{
		Label:  info.Label,
		Layout: p.Layout,
		Vertex: hal.VertexState{
			Module:     p.vertexModule,
			EntryPoint: info.VertexEntry,
			Buffers:    info.VertexInput.layouts(),
		},
		Fragment: &hal.FragmentState{
			Module:     p.fragmentModule,
			EntryPoint: info.FragmentEntry,
			Targets:    targets,
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}
	if info.DepthFormat != gputypes.TextureFormatUndefined {
		desc.DepthStencil = depthStencilState(info)
	}

	if p.Pipeline, err = m.device().CreateRenderPipeline(desc); err != nil {
		m.releaseRenderPipeline(p)
		return InvalidRef, fmt.Errorf("create render pipeline %q: %w", info.Label, err)
	}
	return m.renderPipelines.Insert(p), nil
}

func depthStencilState(info RenderPipelineInfo) *hal.DepthStencilState {
	compare := gputypes.CompareFunctionAlways
	if info.DepthTest {
		compare = gputypes.CompareFunctionLess
	}
	keep := hal.StencilFaceState{
		Compare:     gputypes.CompareFunctionAlways,
		FailOp:      hal.StencilOperationKeep,
		DepthFailOp: hal.StencilOperationKeep,
		PassOp:      hal.StencilOperationKeep,
	}
	return &hal.DepthStencilState{
		Format:            info.DepthFormat,
		DepthWriteEnabled: info.DepthWrite,
		DepthCompare:      compare,
		StencilFront:      keep,
		StencilBack:       keep,
		StencilReadMask:   0xFF,
		StencilWriteMask:  0xFF,
	}
}

func (m *Manager) releaseRenderPipeline(p *RenderPipeline) {
	dev := m.device()
	if p.Pipeline != nil {
		dev.DestroyRenderPipeline(p.Pipeline)
	}
	if p.fragmentModule != nil {
		dev.DestroyShaderModule(p.fragmentModule)
	}
	if p.vertexModule != nil {
		dev.DestroyShaderModule(p.vertexModule)
	}
	if p.Layout != nil {
		dev.DestroyPipelineLayout(p.Layout)
	}
}

// RenderPipeline returns the render pipeline at ref. It panics on a stale ref.
func (m *Manager) RenderPipeline(ref Ref) *RenderPipeline { return m.renderPipelines.Get(ref) }

// DestroyRenderPipeline releases the pipeline at ref with its layout and modules.
func (m *Manager) DestroyRenderPipeline(ref Ref) error {
	p, ok := m.renderPipelines.Remove(ref)
	if !ok {
		return fmt.Errorf("%w: render pipeline %d", ErrStaleRef, ref)
	}
	m.releaseRenderPipeline(p)
	return nil
}

// CreateComputePipeline builds the shader module, the pipeline layout and
// the pipeline.
func (m *Manager) CreateComputePipeline(info ComputePipelineInfo) (Ref, error) {
	if len(info.Shader) == 0 {
		return InvalidRef, fmt.Errorf("%w: compute pipeline %q is missing a shader", ErrInvalidInfo, info.Label)
	}
	if info.Entry == "" {
		info.Entry = "main"
	}

	p := &ComputePipeline{Info: info}
	var err error
	if p.Layout, err = m.pipelineLayout(info.Label, info.Layouts); err != nil {
		return InvalidRef, err
	}
	if p.module, err = m.shaderModule(info.Label+"_cs", info.Shader); err != nil {
		m.releaseComputePipeline(p)
		return InvalidRef, err
	}
	p.Pipeline, err = m.device().CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  info.Label,
		Layout: p.Layout,
		Compute: hal.ComputeState{
			Module:     p.module,
			EntryPoint: info.Entry,
		},
	})
	if err != nil {
		m.releaseComputePipeline(p)
		return InvalidRef, fmt.Errorf("create compute pipeline %q: %w", info.Label, err)
	}
	return m.computePipelines.Insert(p), nil
}

func (m *Manager) releaseComputePipeline(p *ComputePipeline) {
	dev := m.device()
	if p.Pipeline != nil {
		dev.DestroyComputePipeline(p.Pipeline)
	}
	if p.module != nil {
		dev.DestroyShaderModule(p.module)
	}
	if p.Layout != nil {
		dev.DestroyPipelineLayout(p.Layout)
	}
}

// ComputePipeline returns the compute pipeline at ref. It panics on a stale ref.
func (m *Manager) ComputePipeline(ref Ref) *ComputePipeline { return m.computePipelines.Get(ref) }

// DestroyComputePipeline releases the pipeline at ref with its layout and module.
func (m *Manager) DestroyComputePipeline(ref Ref) error {
	p, ok := m.computePipelines.Remove(ref)
	if !ok {
		return fmt.Errorf("%w: compute pipeline %d", ErrStaleRef, ref)
	}
	m.releaseComputePipeline(p)
	return nil
}
