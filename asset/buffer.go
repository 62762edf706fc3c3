package asset

import (
	"fmt"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/staging"
	"github.com/gogpu/gputypes"
)

var _ framegraph.UniformSource = (*UniformBuffer)(nil)

// UniformBuffer holds one device-local buffer per frame in flight so a
// frame can be updated while earlier frames are still reading theirs.
type UniformBuffer struct {
	mgr     *resource.Manager
	stager  *staging.Stager
	size    uint64
	buffers []resource.Ref
}

// NewUniformBuffer creates frames buffers of size bytes each. Updates are
// staged through stager.
func NewUniformBuffer(mgr *resource.Manager, stager *staging.Stager, label string, size uint64, frames int) (*UniformBuffer, error) {
	u := &UniformBuffer{mgr: mgr, stager: stager, size: size}
	for f := range frames {
		ref, err := mgr.CreateBuffer(resource.BufferInfo{
			Label: fmt.Sprintf("%s[%d]", label, f),
			Size:  size,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			u.Destroy()
			return nil, err
		}
		u.buffers = append(u.buffers, ref)
	}
	return u, nil
}

// FrameBuffer returns the buffer of frame, or resource.InvalidRef when
// frame is out of range.
func (u *UniformBuffer) FrameBuffer(frame int) resource.Ref {
	if frame < 0 || frame >= len(u.buffers) {
		return resource.InvalidRef
	}
	return u.buffers[frame]
}

// Size returns the size of each buffer.
func (u *UniformBuffer) Size() uint64 { return u.size }

// Update stages data into the buffer of frame.
func (u *UniformBuffer) Update(frame int, data []byte) error {
	ref := u.FrameBuffer(frame)
	if !ref.Valid() {
		return fmt.Errorf("asset: uniform update of frame %d, have %d", frame, len(u.buffers))
	}
	return u.stager.UpdateBuffer(ref, 0, data)
}

// Destroy drops pending updates and releases every frame's buffer.
func (u *UniformBuffer) Destroy() {
	for _, ref := range u.buffers {
		u.stager.CancelBuffer(ref)
		if err := u.mgr.DestroyBuffer(ref); err != nil {
			logging.Logger().Warn("asset: release uniform buffer", "error", err)
		}
	}
	u.buffers = nil
}

// VertexBuffer is a device-local vertex buffer.
type VertexBuffer struct {
	mgr    *resource.Manager
	stager *staging.Stager
	ref    resource.Ref
	count  uint32
}

// NewVertexBuffer uploads count vertices held in data.
func NewVertexBuffer(mgr *resource.Manager, stager *staging.Stager, label string, data []byte, count uint32) (*VertexBuffer, error) {
	ref, err := mgr.CreateBuffer(resource.BufferInfo{
		Label: label,
		Size:  uint64(len(data)),
		Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	if err := stager.UpdateBuffer(ref, 0, data); err != nil {
		_ = mgr.DestroyBuffer(ref)
		return nil, fmt.Errorf("vertex buffer %q: %w", label, err)
	}
	return &VertexBuffer{mgr: mgr, stager: stager, ref: ref, count: count}, nil
}

// Ref returns the pooled buffer.
func (v *VertexBuffer) Ref() resource.Ref { return v.ref }

// Count returns the number of vertices.
func (v *VertexBuffer) Count() uint32 { return v.count }

// Destroy drops a pending upload and releases the buffer.
func (v *VertexBuffer) Destroy() {
	if !v.ref.Valid() {
		return
	}
	v.stager.CancelBuffer(v.ref)
	if err := v.mgr.DestroyBuffer(v.ref); err != nil {
		logging.Logger().Warn("asset: release vertex buffer", "error", err)
	}
	v.ref = resource.InvalidRef
}
