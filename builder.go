package framegraph

import (
	"fmt"
	"math"
	"slices"

	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/gputypes"
)

// ResourceKind is the closed set of resources a graph can declare.
type ResourceKind uint8

const (
	KindImage ResourceKind = iota
	KindDepthStencil
	KindUniformBuffer
	KindUniformSampledImage
	KindUniformStorageImage
)

var kindNames = [...]string{
	KindImage:               "image",
	KindDepthStencil:        "depth-stencil",
	KindUniformBuffer:       "uniform-buffer",
	KindUniformSampledImage: "uniform-sampled-image",
	KindUniformStorageImage: "uniform-storage-image",
}

func (k ResourceKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ResourceKind(%d)", k)
}

// ResourceRef names a declared resource by kind and declaration index.
type ResourceRef struct {
	Kind  ResourceKind
	Index uint32
}

// NoResource is a ResourceRef that names nothing.
var NoResource = ResourceRef{Kind: KindImage, Index: math.MaxUint32}

func (r ResourceRef) String() string {
	if r == NoResource {
		return "none"
	}
	return fmt.Sprintf("%v#%d", r.Kind, r.Index)
}

// PassKind is the closed set of pass types.
type PassKind uint8

const (
	PassRender PassKind = iota
	PassCompute
	PassTransfer
)

func (k PassKind) String() string {
	switch k {
	case PassRender:
		return "render"
	case PassCompute:
		return "compute"
	case PassTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("PassKind(%d)", k)
	}
}

// PassRef names a pass by kind and position in submission order.
type PassRef struct {
	Kind  PassKind
	Index uint32
}

// Extent is a width and height in texels.
type Extent struct {
	Width, Height uint32
}

// MatchOutput is the extent that resolves to the output extent given to
// Bake.
var MatchOutput = Extent{}

// IsZero reports whether e is MatchOutput.
func (e Extent) IsZero() bool { return e.Width == 0 && e.Height == 0 }

func (e Extent) resolve(output Extent) Extent {
	if e.IsZero() {
		return output
	}
	return e
}

// Frequency groups uniform declarations updated together. It is also the
// bind group index the declarations are bound at.
type Frequency uint32

const (
	PerFrame Frequency = 0
	PerPass  Frequency = 1
)

// MaxFrequencies is the number of frequencies a graph may use: the bind
// group limit every device guarantees.
var MaxFrequencies = gputypes.DefaultLimits().MaxBindGroups

// DefaultClearDepth is the depth a depth target is cleared to when its
// ClearDepth is nil.
const DefaultClearDepth = 1.0

// DepthValue returns a pointer to v, for DepthStencilInfo.ClearDepth.
func DepthValue(v float32) *float32 { return &v }

const defaultVisibility = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment | gputypes.ShaderStageCompute

// ImageInfo declares a color image. A zero Format means RGBA8Unorm.
type ImageInfo struct {
	Name       string
	Format     gputypes.TextureFormat
	Extent     Extent
	ClearColor gputypes.Color
}

// DepthStencilInfo declares a depth-stencil target. A zero Format means
// Depth24PlusStencil8.
type DepthStencilInfo struct {
	Name   string
	Format gputypes.TextureFormat
	Extent Extent
	// ClearDepth is the depth the target is cleared to. Nil means
	// DefaultClearDepth; reverse-Z graphs set DepthValue(0).
	ClearDepth *float32
}

// UniformSource supplies externally owned per-frame uniform buffers.
type UniformSource interface {
	FrameBuffer(frame int) resource.Ref
}

// UniformBufferInfo declares a uniform buffer binding. When Source is nil
// the graph allocates one buffer of Size bytes per frame in flight.
type UniformBufferInfo struct {
	Frequency  Frequency
	Binding    uint32
	Size       uint64
	Source     UniformSource
	Visibility gputypes.ShaderStages
}

// SampledImageInfo declares a sampled image and its sampler.
//
// The sampled texture is either a graph image (Image) or, when External is
// set, a texture owned by the caller (Texture) such as a loaded asset. A
// graph image is sampled per frame; an external texture is shared by all
// frames.
type SampledImageInfo struct {
	Frequency      Frequency
	Binding        uint32
	SamplerBinding uint32

	Image    ResourceRef
	External bool
	Texture  resource.Ref
	// Cube binds the texture as a cube view. Only external textures can be
	// cube maps.
	Cube bool

	// Sampler is the sampler state. The zero value means
	// resource.DefaultSamplerInfo.
	Sampler    resource.SamplerInfo
	Visibility gputypes.ShaderStages
}

// samplesDepth reports whether the declaration samples a graph depth
// target. Depth targets bind their depth plane with a non-filtering
// sampler.
func (s SampledImageInfo) samplesDepth() bool {
	return !s.External && s.Image.Kind == KindDepthStencil
}

// StorageImageInfo declares a read-write storage image binding of a graph
// image.
type StorageImageInfo struct {
	Frequency  Frequency
	Binding    uint32
	Image      ResourceRef
	Visibility gputypes.ShaderStages
}

// PassFunc records the work of one pass. It must not modify the Builder.
type PassFunc func(*PassContext) error

// RenderPassInfo declares a render pass.
type RenderPassInfo struct {
	Name           string
	VertexShader   string
	FragmentShader string
	Inputs         []ResourceRef
	Outputs        []ResourceRef
	Execute        PassFunc

	// Extent is the pipeline viewport. MatchOutput uses the output extent.
	Extent      Extent
	VertexInput *resource.VertexInput
	DepthTest   bool
	DepthWrite  bool
}

// NewRenderPassInfo returns a RenderPassInfo with depth test and depth
// write enabled.
func NewRenderPassInfo(name, vertexShader, fragmentShader string, inputs, outputs []ResourceRef, execute PassFunc) RenderPassInfo {
	return RenderPassInfo{
		Name:           name,
		VertexShader:   vertexShader,
		FragmentShader: fragmentShader,
		Inputs:         inputs,
		Outputs:        outputs,
		Execute:        execute,
		DepthTest:      true,
		DepthWrite:     true,
	}
}

// ComputePassInfo declares a compute pass.
type ComputePassInfo struct {
	Name    string
	Shader  string
	Inputs  []ResourceRef
	Outputs []ResourceRef
	Execute PassFunc
}

// TransferPassInfo declares a pass that only records copies.
type TransferPassInfo struct {
	Name    string
	Inputs  []ResourceRef
	Outputs []ResourceRef
	Execute PassFunc
}

// passDecl is implemented by the three pass info types.
type passDecl interface {
	passKind() PassKind
	passName() string
	passInputs() []ResourceRef
	passOutputs() []ResourceRef
	passExecute() PassFunc
}

func (p RenderPassInfo) passKind() PassKind         { return PassRender }
func (p RenderPassInfo) passName() string           { return p.Name }
func (p RenderPassInfo) passInputs() []ResourceRef  { return p.Inputs }
func (p RenderPassInfo) passOutputs() []ResourceRef { return p.Outputs }
func (p RenderPassInfo) passExecute() PassFunc      { return p.Execute }

func (p ComputePassInfo) passKind() PassKind         { return PassCompute }
func (p ComputePassInfo) passName() string           { return p.Name }
func (p ComputePassInfo) passInputs() []ResourceRef  { return p.Inputs }
func (p ComputePassInfo) passOutputs() []ResourceRef { return p.Outputs }
func (p ComputePassInfo) passExecute() PassFunc      { return p.Execute }

func (p TransferPassInfo) passKind() PassKind         { return PassTransfer }
func (p TransferPassInfo) passName() string           { return p.Name }
func (p TransferPassInfo) passInputs() []ResourceRef  { return p.Inputs }
func (p TransferPassInfo) passOutputs() []ResourceRef { return p.Outputs }
func (p TransferPassInfo) passExecute() PassFunc      { return p.Execute }

// Builder accumulates the declarations of one frame configuration. It makes
// no GPU calls. A Builder can be baked any number of times, for example
// after every resize.
//
// Builder is not safe for concurrent use.
type Builder struct {
	images   []ImageInfo
	depths   []DepthStencilInfo
	uniforms []UniformBufferInfo
	sampled  []SampledImageInfo
	storage  []StorageImageInfo
	passes   []passDecl

	backbuffer ResourceRef
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{backbuffer: NoResource}
}

// CreateImage declares a color image.
func (b *Builder) CreateImage(info ImageInfo) ResourceRef {
	if info.Format == gputypes.TextureFormatUndefined {
		info.Format = gputypes.TextureFormatRGBA8Unorm
	}
	b.images = append(b.images, info)
	return ResourceRef{Kind: KindImage, Index: uint32(len(b.images) - 1)}
}

// CreateDepthStencil declares a depth-stencil target.
func (b *Builder) CreateDepthStencil(info DepthStencilInfo) ResourceRef {
	if info.Format == gputypes.TextureFormatUndefined {
		info.Format = gputypes.TextureFormatDepth24PlusStencil8
	}
	clear := float32(DefaultClearDepth)
	if info.ClearDepth != nil {
		clear = *info.ClearDepth
	}
	info.ClearDepth = &clear
	b.depths = append(b.depths, info)
	return ResourceRef{Kind: KindDepthStencil, Index: uint32(len(b.depths) - 1)}
}

// AddUniformBuffer declares a uniform buffer binding.
func (b *Builder) AddUniformBuffer(info UniformBufferInfo) ResourceRef {
	if info.Visibility == 0 {
		info.Visibility = defaultVisibility
	}
	b.uniforms = append(b.uniforms, info)
	return ResourceRef{Kind: KindUniformBuffer, Index: uint32(len(b.uniforms) - 1)}
}

// AddUniformSampledImage declares a sampled image binding and its sampler
// binding.
func (b *Builder) AddUniformSampledImage(info SampledImageInfo) ResourceRef {
	if info.Visibility == 0 {
		info.Visibility = defaultVisibility
	}
	if info.Sampler == (resource.SamplerInfo{}) {
		info.Sampler = resource.DefaultSamplerInfo()
	}
	b.sampled = append(b.sampled, info)
	return ResourceRef{Kind: KindUniformSampledImage, Index: uint32(len(b.sampled) - 1)}
}

// AddUniformStorageImage declares a storage image binding.
func (b *Builder) AddUniformStorageImage(info StorageImageInfo) ResourceRef {
	if info.Visibility == 0 {
		info.Visibility = defaultVisibility
	}
	b.storage = append(b.storage, info)
	return ResourceRef{Kind: KindUniformStorageImage, Index: uint32(len(b.storage) - 1)}
}

// AddRenderPass appends a render pass.
func (b *Builder) AddRenderPass(info RenderPassInfo) PassRef {
	info.Inputs = slices.Clone(info.Inputs)
	info.Outputs = slices.Clone(info.Outputs)
	return b.addPass(info)
}

// AddComputePass appends a compute pass.
func (b *Builder) AddComputePass(info ComputePassInfo) PassRef {
	info.Inputs = slices.Clone(info.Inputs)
	info.Outputs = slices.Clone(info.Outputs)
	return b.addPass(info)
}

// AddTransferPass appends a transfer pass.
func (b *Builder) AddTransferPass(info TransferPassInfo) PassRef {
	info.Inputs = slices.Clone(info.Inputs)
	info.Outputs = slices.Clone(info.Outputs)
	return b.addPass(info)
}

func (b *Builder) addPass(p passDecl) PassRef {
	b.passes = append(b.passes, p)
	return PassRef{Kind: p.passKind(), Index: uint32(len(b.passes) - 1)}
}

// SetBackbuffer designates the image presented at the end of each frame.
func (b *Builder) SetBackbuffer(ref ResourceRef) {
	b.backbuffer = ref
}

// Backbuffer returns the designated backbuffer, or NoResource.
func (b *Builder) Backbuffer() ResourceRef { return b.backbuffer }

// PassCount returns the number of declared passes.
func (b *Builder) PassCount() int { return len(b.passes) }

func (b *Builder) count(kind ResourceKind) int {
	switch kind {
	case KindImage:
		return len(b.images)
	case KindDepthStencil:
		return len(b.depths)
	case KindUniformBuffer:
		return len(b.uniforms)
	case KindUniformSampledImage:
		return len(b.sampled)
	case KindUniformStorageImage:
		return len(b.storage)
	default:
		return 0
	}
}

func (b *Builder) valid(ref ResourceRef) bool {
	return int64(ref.Index) < int64(b.count(ref.Kind))
}

// format returns the texel format of a graph image or depth target.
func (b *Builder) format(ref ResourceRef) gputypes.TextureFormat {
	if ref.Kind == KindDepthStencil {
		return b.depths[ref.Index].Format
	}
	return b.images[ref.Index].Format
}

// frequency returns the frequency of a uniform declaration.
func (b *Builder) frequency(ref ResourceRef) (Frequency, bool) {
	switch ref.Kind {
	case KindUniformBuffer:
		return b.uniforms[ref.Index].Frequency, true
	case KindUniformSampledImage:
		return b.sampled[ref.Index].Frequency, true
	case KindUniformStorageImage:
		return b.storage[ref.Index].Frequency, true
	default:
		return 0, false
	}
}
