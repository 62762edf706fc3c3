package resource

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Residency is the memory class a buffer lives in.
type Residency uint8

const (
	// DeviceLocal buffers are written through staging or queue writes.
	DeviceLocal Residency = iota
	// HostVisible buffers are CPU-writable; staging buffers use this.
	HostVisible
)

func (r Residency) String() string {
	if r == HostVisible {
		return "host-visible"
	}
	return "device-local"
}

// BufferInfo describes a buffer to create.
type BufferInfo struct {
	Label     string
	Size      uint64
	Usage     gputypes.BufferUsage
	Residency Residency
}

// Buffer is a GPU buffer.
type Buffer struct {
	Info BufferInfo
	Raw  hal.Buffer
}

// CreateBuffer allocates a buffer. Host-visible buffers get MapWrite added
// to their usage.
func (m *Manager) CreateBuffer(info BufferInfo) (Ref, error) {
	if info.Size == 0 {
		return InvalidRef, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidInfo, info.Label)
	}
	if info.Residency == HostVisible {
		info.Usage |= gputypes.BufferUsageMapWrite
	}

	buf, err := m.device().CreateBuffer(&hal.BufferDescriptor{
		Label: info.Label,
		Size:  info.Size,
		Usage: info.Usage,
	})
	if err != nil {
		return InvalidRef, fmt.Errorf("create buffer %q: %w", info.Label, err)
	}
	return m.buffers.Insert(&Buffer{Info: info, Raw: buf}), nil
}

// Buffer returns the buffer at ref. It panics on a stale ref.
func (m *Manager) Buffer(ref Ref) *Buffer { return m.buffers.Get(ref) }

// WriteBuffer writes data into the buffer at ref through the queue. Use
// the staging subsystem for writes that must be ordered with recorded
// commands.
func (m *Manager) WriteBuffer(ref Ref, offset uint64, data []byte) error {
	buf, ok := m.buffers.Lookup(ref)
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrStaleRef, ref)
	}
	if offset+uint64(len(data)) > buf.Info.Size {
		return fmt.Errorf("%w: write of %d bytes at %d overflows buffer %q (%d bytes)",
			ErrInvalidInfo, len(data), offset, buf.Info.Label, buf.Info.Size)
	}
	if err := m.ctx.Queue.WriteBuffer(buf.Raw, offset, data); err != nil {
		return fmt.Errorf("write buffer %q: %w", buf.Info.Label, err)
	}
	return nil
}

// DestroyBuffer releases the buffer at ref.
func (m *Manager) DestroyBuffer(ref Ref) error {
	buf, ok := m.buffers.Remove(ref)
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrStaleRef, ref)
	}
	m.device().DestroyBuffer(buf.Raw)
	return nil
}
