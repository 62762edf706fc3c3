package resource

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// BindingKind is the type of resource a descriptor binding holds.
type BindingKind uint8

const (
	BindingUniformBuffer BindingKind = iota
	BindingSampledImage
	BindingSampler
	BindingStorageImage
)

func (k BindingKind) String() string {
	switch k {
	case BindingUniformBuffer:
		return "uniform-buffer"
	case BindingSampledImage:
		return "sampled-image"
	case BindingSampler:
		return "sampler"
	case BindingStorageImage:
		return "storage-image"
	default:
		return fmt.Sprintf("BindingKind(%d)", k)
	}
}

// LayoutBinding is one slot of a descriptor-set layout.
type LayoutBinding struct {
	Binding    uint32
	Kind       BindingKind
	Visibility gputypes.ShaderStages
	// StorageFormat is the texel format of a storage image binding.
	StorageFormat gputypes.TextureFormat
	// Cube marks a sampled image binding as a cube view.
	Cube bool
	// Depth marks a sampled image binding, or the sampler paired with it,
	// as reading a depth image. Depth images are sampled unfiltered.
	Depth bool
}

// LayoutInfo describes a descriptor-set layout.
type LayoutInfo struct {
	Label    string
	Bindings []LayoutBinding
}

// DescriptorSetLayout is an immutable bind group layout.
type DescriptorSetLayout struct {
	Info LayoutInfo
	Raw  hal.BindGroupLayout
}

// CreateDescriptorSetLayout allocates a bind group layout. Bindings are
// emitted in ascending binding order.
func (m *Manager) CreateDescriptorSetLayout(info LayoutInfo) (Ref, error) {
	bindings := slices.Clone(info.Bindings)
	slices.SortFunc(bindings, func(a, b LayoutBinding) int {
		return int(a.Binding) - int(b.Binding)
	})
	for i := 1; i < len(bindings); i++ {
		if bindings[i].Binding == bindings[i-1].Binding {
			return InvalidRef, fmt.Errorf("%w: layout %q binds %d twice",
				ErrInvalidInfo, info.Label, bindings[i].Binding)
		}
	}
	info.Bindings = bindings

	entries := make([]gputypes.BindGroupLayoutEntry, len(bindings))
	for i, b := range bindings {
		entries[i] = layoutEntry(b)
	}

	layout, err := m.device().CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   info.Label,
		Entries: entries,
	})
	if err != nil {
		return InvalidRef, fmt.Errorf("create bind group layout %q: %w", info.Label, err)
	}
	return m.layouts.Insert(&DescriptorSetLayout{Info: info, Raw: layout}), nil
}

func layoutEntry(b LayoutBinding) gputypes.BindGroupLayoutEntry {
	e := gputypes.BindGroupLayoutEntry{
		Binding:    b.Binding,
		Visibility: b.Visibility,
	}
	viewDim := gputypes.TextureViewDimension2D
	if b.Cube {
		viewDim = gputypes.TextureViewDimensionCube
	}
	switch b.Kind {
	case BindingUniformBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case BindingSampledImage:
		sampleType := gputypes.TextureSampleTypeFloat
		if b.Depth {
			sampleType = gputypes.TextureSampleTypeDepth
		}
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    sampleType,
			ViewDimension: viewDim,
		}
	case BindingSampler:
		samplerType := gputypes.SamplerBindingTypeFiltering
		if b.Depth {
			samplerType = gputypes.SamplerBindingTypeNonFiltering
		}
		e.Sampler = &gputypes.SamplerBindingLayout{Type: samplerType}
	case BindingStorageImage:
		e.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessReadWrite,
			Format:        b.StorageFormat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	}
	return e
}

// DescriptorSetLayout returns the layout at ref. It panics on a stale ref.
func (m *Manager) DescriptorSetLayout(ref Ref) *DescriptorSetLayout { return m.layouts.Get(ref) }

// DestroyDescriptorSetLayout releases the layout at ref.
func (m *Manager) DestroyDescriptorSetLayout(ref Ref) error {
	l, ok := m.layouts.Remove(ref)
	if !ok {
		return fmt.Errorf("%w: layout %d", ErrStaleRef, ref)
	}
	m.device().DestroyBindGroupLayout(l.Raw)
	return nil
}

// Write points one binding of a descriptor set at a pooled resource. The
// Resource ref names a buffer, image or sampler depending on Kind.
type Write struct {
	Binding  uint32
	Kind     BindingKind
	Resource Ref
	// Offset and Size select a buffer range. Size 0 means the whole buffer.
	Offset uint64
	Size   uint64
}

// DescriptorSetInfo describes a descriptor set.
type DescriptorSetInfo struct {
	Label  string
	Layout Ref
	Writes []Write
}

// DescriptorSet is a bind group bound to exactly one layout.
type DescriptorSet struct {
	Info DescriptorSetInfo
	Raw  hal.BindGroup
}

// CreateDescriptorSet allocates a bind group and resolves its writes.
func (m *Manager) CreateDescriptorSet(info DescriptorSetInfo) (Ref, error) {
	layout, ok := m.layouts.Lookup(info.Layout)
	if !ok {
		return InvalidRef, fmt.Errorf("%w: descriptor set %q names layout %d",
			ErrInvalidInfo, info.Label, info.Layout)
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(info.Writes))
	for _, w := range info.Writes {
		entry, err := m.bindGroupEntry(w)
		if err != nil {
			return InvalidRef, fmt.Errorf("descriptor set %q: %w", info.Label, err)
		}
		entries = append(entries, entry)
	}

	bg, err := m.device().CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   info.Label,
		Layout:  layout.Raw,
		Entries: entries,
	})
	if err != nil {
		return InvalidRef, fmt.Errorf("create bind group %q: %w", info.Label, err)
	}
	return m.sets.Insert(&DescriptorSet{Info: info, Raw: bg}), nil
}

func (m *Manager) bindGroupEntry(w Write) (gputypes.BindGroupEntry, error) {
	entry := gputypes.BindGroupEntry{Binding: w.Binding}
	switch w.Kind {
	case BindingUniformBuffer:
		buf, ok := m.buffers.Lookup(w.Resource)
		if !ok {
			return entry, fmt.Errorf("%w: buffer %d at binding %d", ErrStaleRef, w.Resource, w.Binding)
		}
		size := w.Size
		if size == 0 {
			size = buf.Info.Size - w.Offset
		}
		entry.Resource = gputypes.BufferBinding{
			Buffer: buf.Raw.NativeHandle(),
			Offset: w.Offset,
			Size:   size,
		}
	case BindingSampledImage, BindingStorageImage:
		img, ok := m.images.Lookup(w.Resource)
		if !ok {
			return entry, fmt.Errorf("%w: image %d at binding %d", ErrStaleRef, w.Resource, w.Binding)
		}
		view := img.View
		if w.Kind == BindingSampledImage {
			view = img.SampledView()
		}
		entry.Resource = gputypes.TextureViewBinding{TextureView: view.NativeHandle()}
	case BindingSampler:
		s, ok := m.samplers.Lookup(w.Resource)
		if !ok {
			return entry, fmt.Errorf("%w: sampler %d at binding %d", ErrStaleRef, w.Resource, w.Binding)
		}
		entry.Resource = gputypes.SamplerBinding{Sampler: s.Raw.NativeHandle()}
	default:
		return entry, fmt.Errorf("%w: binding kind %v", ErrInvalidInfo, w.Kind)
	}
	return entry, nil
}

// DescriptorSet returns the descriptor set at ref. It panics on a stale ref.
func (m *Manager) DescriptorSet(ref Ref) *DescriptorSet { return m.sets.Get(ref) }

// DestroyDescriptorSet releases the descriptor set at ref.
func (m *Manager) DestroyDescriptorSet(ref Ref) error {
	s, ok := m.sets.Remove(ref)
	if !ok {
		return fmt.Errorf("%w: descriptor set %d", ErrStaleRef, ref)
	}
	m.device().DestroyBindGroup(s.Raw)
	return nil
}
