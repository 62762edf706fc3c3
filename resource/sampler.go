package resource

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// SamplerInfo describes a sampler.
type SamplerInfo struct {
	Label        string
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.FilterMode
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
}

// DefaultSamplerInfo returns linear filtering with repeat addressing.
func DefaultSamplerInfo() SamplerInfo {
	return SamplerInfo{
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
		AddressModeU: gputypes.AddressModeRepeat,
		AddressModeV: gputypes.AddressModeRepeat,
		AddressModeW: gputypes.AddressModeRepeat,
	}
}

// Sampler is an immutable sampler object.
type Sampler struct {
	Info SamplerInfo
	Raw  hal.Sampler
}

// CreateSampler allocates a sampler.
func (m *Manager) CreateSampler(info SamplerInfo) (Ref, error) {
	s, err := m.device().CreateSampler(&hal.SamplerDescriptor{
		Label:        info.Label,
		AddressModeU: info.AddressModeU,
		AddressModeV: info.AddressModeV,
		AddressModeW: info.AddressModeW,
		MagFilter:    info.MagFilter,
		MinFilter:    info.MinFilter,
		MipmapFilter: info.MipmapFilter,
	})
	if err != nil {
		return InvalidRef, fmt.Errorf("create sampler %q: %w", info.Label, err)
	}
	return m.samplers.Insert(&Sampler{Info: info, Raw: s}), nil
}

// Sampler returns the sampler at ref. It panics on a stale ref.
func (m *Manager) Sampler(ref Ref) *Sampler { return m.samplers.Get(ref) }

// DestroySampler releases the sampler at ref.
func (m *Manager) DestroySampler(ref Ref) error {
	s, ok := m.samplers.Remove(ref)
	if !ok {
		return fmt.Errorf("%w: sampler %d", ErrStaleRef, ref)
	}
	m.device().DestroySampler(s.Raw)
	return nil
}
