// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package staging uploads CPU data into device-local buffers and images.
//
// Producers call UpdateBuffer, UpdateImage or CopyBuffer at any time; the
// data is copied into a host-visible staging buffer immediately and a copy
// job is queued. Once per frame the renderer calls BakeCommands to record
// every queued copy, bracketed by the barriers that make the destinations
// readable by shaders, and Flush after submission to recycle the staging
// space.
//
// BakeCommands moves the queued jobs into a baked batch. Flush releases only
// that batch, so uploads staged between the two stay queued for the next
// frame. A batch that is baked but never flushed, because its commands were
// discarded, is recorded again by the next BakeCommands.
//
// Staging buffers are chosen first-fit. When no buffer has room, a new one
// at least as large as the request is created: the pool only grows, and an
// oversized update is never an error.
package staging

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

const (
	// DefaultMinBufferSize is the smallest staging buffer created.
	DefaultMinBufferSize = 4 << 20

	// bufferCopyAlignment is the offset alignment of buffer-to-buffer copies.
	bufferCopyAlignment = 4

	// rowPitchAlignment is the bytes-per-row alignment of buffer-to-image
	// copies; image jobs also start on this boundary.
	rowPitchAlignment = 256
)

var (
	// ErrImageDataSize is returned when image data does not match the
	// destination extent and format.
	ErrImageDataSize = errors.New("staging: image data size mismatch")

	// ErrUnsupportedFormat is returned for image formats with no fixed
	// texel size.
	ErrUnsupportedFormat = errors.New("staging: format cannot be staged")

	// ErrOutOfRange is returned when a write or copy exceeds its destination.
	ErrOutOfRange = errors.New("staging: range exceeds destination")

	// ErrLayerOutOfRange is returned when an image layer does not exist.
	ErrLayerOutOfRange = errors.New("staging: array layer out of range")
)

// Option configures a Stager.
type Option func(*options)

type options struct {
	minBufferSize uint64
}

func defaultOptions() options {
	return options{minBufferSize: DefaultMinBufferSize}
}

// WithMinBufferSize sets the size of newly created staging buffers.
// Requests larger than this still get a buffer of their own size.
func WithMinBufferSize(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.minBufferSize = n
		}
	}
}

// stagingBuffer is one host-visible buffer. Bytes in [head, cursor) hold
// staged data not yet released by Flush; baked is where the cursor stood at
// the last BakeCommands.
type stagingBuffer struct {
	ref      resource.Ref
	capacity uint64
	head     uint64
	cursor   uint64
	baked    uint64
}

type bufferJob struct {
	src, dst             resource.Ref
	srcOffset, dstOffset uint64
	size                 uint64
}

type imageJob struct {
	src         resource.Ref
	srcOffset   uint64
	bytesPerRow uint32
	dst         resource.Ref
	current     resource.Layout
	layer       uint32
	width       uint32
	height      uint32
}

// Stager queues uploads and records them into a command encoder.
//
// Stager is safe for concurrent use.
type Stager struct {
	mgr  *resource.Manager
	opts options

	mu         sync.Mutex
	buffers    []*stagingBuffer
	bufferJobs []bufferJob
	imageJobs  []imageJob

	// bakedBuffers and bakedImages were recorded by BakeCommands and wait
	// for Flush.
	bakedBuffers []bufferJob
	bakedImages  []imageJob
}

// New creates a Stager that allocates staging buffers from mgr.
func New(mgr *resource.Manager, opts ...Option) *Stager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Stager{mgr: mgr, opts: o}
}

// UpdateBuffer stages data for upload into dst at offset.
func (s *Stager) UpdateBuffer(dst resource.Ref, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	size := uint64(len(data))
	buf := s.mgr.Buffer(dst)
	if offset+size > buf.Info.Size {
		return fmt.Errorf("%w: %d bytes at %d into %q (%d bytes)",
			ErrOutOfRange, size, offset, buf.Info.Label, buf.Info.Size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sb, at, err := s.reserve(size, bufferCopyAlignment)
	if err != nil {
		return err
	}
	if err := s.mgr.Context().Queue.WriteBuffer(s.mgr.Buffer(sb.ref).Raw, at, data); err != nil {
		sb.cursor = at
		return fmt.Errorf("staging: write %d bytes for %q: %w", size, buf.Info.Label, err)
	}
	s.bufferJobs = append(s.bufferJobs, bufferJob{
		src: sb.ref, dst: dst, srcOffset: at, dstOffset: offset, size: size,
	})
	return nil
}

// CopyBuffer queues a device-side copy between two pooled buffers.
func (s *Stager) CopyBuffer(src, dst resource.Ref, srcOffset, dstOffset, size uint64) error {
	sb, db := s.mgr.Buffer(src), s.mgr.Buffer(dst)
	if srcOffset+size > sb.Info.Size || dstOffset+size > db.Info.Size {
		return fmt.Errorf("%w: copy of %d bytes from %q to %q", ErrOutOfRange, size, sb.Info.Label, db.Info.Label)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferJobs = append(s.bufferJobs, bufferJob{
		src: src, dst: dst, srcOffset: srcOffset, dstOffset: dstOffset, size: size,
	})
	return nil
}

// UpdateImage stages tightly packed texel data for one array layer of dst.
// current is the layout the image is in when the baked commands execute.
func (s *Stager) UpdateImage(dst resource.Ref, current resource.Layout, data []byte, layer uint32) error {
	info := s.mgr.Image(dst).Info
	texel := resource.BytesPerTexel(info.Format)
	if texel == 0 {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, info.Format)
	}
	if layer >= info.ArrayLayers() {
		return fmt.Errorf("%w: layer %d of %q", ErrLayerOutOfRange, layer, info.Label)
	}
	rowBytes := info.Width * texel
	if uint64(len(data)) != uint64(rowBytes)*uint64(info.Height) {
		return fmt.Errorf("%w: got %d bytes, want %dx%dx%d",
			ErrImageDataSize, len(data), info.Width, info.Height, texel)
	}

	pitch := alignUp32(rowBytes, rowPitchAlignment)
	size := uint64(pitch) * uint64(info.Height)

	s.mu.Lock()
	defer s.mu.Unlock()

	sb, at, err := s.reserve(size, rowPitchAlignment)
	if err != nil {
		return err
	}
	if err := s.mgr.Context().Queue.WriteBuffer(s.mgr.Buffer(sb.ref).Raw, at, padRows(data, rowBytes, pitch, info.Height)); err != nil {
		sb.cursor = at
		return fmt.Errorf("staging: write layer %d of %q: %w", layer, info.Label, err)
	}
	s.imageJobs = append(s.imageJobs, imageJob{
		src:         sb.ref,
		srcOffset:   at,
		bytesPerRow: pitch,
		dst:         dst,
		current:     current,
		layer:       layer,
		width:       info.Width,
		height:      info.Height,
	})
	return nil
}

// reserve finds room for size bytes at the given alignment, growing the
// pool when nothing fits. Must be called with mu held.
func (s *Stager) reserve(size, align uint64) (*stagingBuffer, uint64, error) {
	for _, sb := range s.buffers {
		at := alignUp(sb.cursor, align)
		if at+size <= sb.capacity {
			sb.cursor = at + size
			return sb, at, nil
		}
	}

	capacity := max(s.opts.minBufferSize, size)
	ref, err := s.mgr.CreateBuffer(resource.BufferInfo{
		Label:     fmt.Sprintf("staging_%d", len(s.buffers)),
		Size:      capacity,
		Usage:     gputypes.BufferUsageCopySrc,
		Residency: resource.HostVisible,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("grow staging pool: %w", err)
	}
	sb := &stagingBuffer{ref: ref, capacity: capacity, cursor: size}
	s.buffers = append(s.buffers, sb)
	logging.Logger().Debug("staging: buffer added", "size", capacity, "count", len(s.buffers))
	return sb, 0, nil
}

// BakeCommands records all queued copies into enc: pre-barriers moving
// each destination image to transfer-destination, the copies, and
// post-barriers returning buffers to their read usage and images to
// shader-read-only. The recorded jobs stay reserved until Flush.
func (s *Stager) BakeCommands(enc hal.CommandEncoder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bakedBuffers = append(s.bakedBuffers, s.bufferJobs...)
	s.bakedImages = append(s.bakedImages, s.imageJobs...)
	s.bufferJobs = s.bufferJobs[:0]
	s.imageJobs = s.imageJobs[:0]
	for _, sb := range s.buffers {
		sb.baked = sb.cursor
	}
	if len(s.bakedBuffers) == 0 && len(s.bakedImages) == 0 {
		return
	}

	pre := make([]hal.TextureBarrier, 0, len(s.bakedImages))
	post := make([]hal.TextureBarrier, 0, len(s.bakedImages))
	seen := make(map[resource.Ref]bool, len(s.bakedImages))
	for _, job := range s.bakedImages {
		if seen[job.dst] {
			continue
		}
		seen[job.dst] = true
		tex := s.mgr.Image(job.dst).Texture
		pre = append(pre, hal.TextureBarrier{
			Texture: tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: job.current.TextureUsage(),
				NewUsage: resource.LayoutTransferDst.TextureUsage(),
			},
		})
		post = append(post, hal.TextureBarrier{
			Texture: tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: resource.LayoutTransferDst.TextureUsage(),
				NewUsage: resource.LayoutShaderReadOnly.TextureUsage(),
			},
		})
	}
	if len(pre) > 0 {
		enc.TransitionTextures(pre)
	}

	bufPost := make([]hal.BufferBarrier, 0, len(s.bakedBuffers))
	bufSeen := make(map[resource.Ref]bool, len(s.bakedBuffers))
	for _, job := range s.bakedBuffers {
		dst := s.mgr.Buffer(job.dst)
		enc.CopyBufferToBuffer(s.mgr.Buffer(job.src).Raw, dst.Raw, []hal.BufferCopy{{
			SrcOffset: job.srcOffset,
			DstOffset: job.dstOffset,
			Size:      job.size,
		}})
		if bufSeen[job.dst] {
			continue
		}
		bufSeen[job.dst] = true
		bufPost = append(bufPost, hal.BufferBarrier{
			Buffer: dst.Raw,
			Usage: hal.BufferUsageTransition{
				OldUsage: gputypes.BufferUsageCopyDst,
				NewUsage: readUsage(dst.Info.Usage),
			},
		})
	}

	for _, job := range s.bakedImages {
		enc.CopyBufferToTexture(s.mgr.Buffer(job.src).Raw, s.mgr.Image(job.dst).Texture, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{
				Offset:       job.srcOffset,
				BytesPerRow:  job.bytesPerRow,
				RowsPerImage: job.height,
			},
			TextureBase: hal.ImageCopyTexture{
				Texture:  s.mgr.Image(job.dst).Texture,
				MipLevel: 0,
				Origin:   hal.Origin3D{Z: job.layer},
				Aspect:   gputypes.TextureAspectAll,
			},
			Size: hal.Extent3D{Width: job.width, Height: job.height, DepthOrArrayLayers: 1},
		}})
	}

	if len(bufPost) > 0 {
		enc.TransitionBuffers(bufPost)
	}
	if len(post) > 0 {
		enc.TransitionTextures(post)
	}
}

// readUsage strips the transfer bits from a buffer's usage, leaving the
// accesses shaders and fixed-function stages perform.
func readUsage(u gputypes.BufferUsage) gputypes.BufferUsage {
	r := u &^ (gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc |
		gputypes.BufferUsageMapWrite | gputypes.BufferUsageMapRead)
	if r == 0 {
		return u
	}
	return r
}

// Flush releases the batch recorded by the last BakeCommands and the
// staging space it used. Call it once those commands have been submitted.
// Jobs queued after BakeCommands stay pending.
func (s *Stager) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bakedBuffers = s.bakedBuffers[:0]
	s.bakedImages = s.bakedImages[:0]
	for _, sb := range s.buffers {
		sb.head = max(sb.head, sb.baked)
		if sb.head >= sb.cursor {
			sb.head, sb.cursor = 0, 0
		}
		sb.baked = sb.head
	}
}

// CancelImage drops every queued or baked job that writes dst. Call it
// before destroying an image that may still have uploads pending.
func (s *Stager) CancelImage(dst resource.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := func(job imageJob) bool { return job.dst == dst }
	n := len(s.imageJobs) + len(s.bakedImages)
	s.imageJobs = slices.DeleteFunc(s.imageJobs, drop)
	s.bakedImages = slices.DeleteFunc(s.bakedImages, drop)
	s.logCancel("image", dst, n-len(s.imageJobs)-len(s.bakedImages))
}

// CancelBuffer drops every queued or baked job that reads or writes ref.
// Call it before destroying a buffer that may still have copies pending.
func (s *Stager) CancelBuffer(ref resource.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := func(job bufferJob) bool { return job.dst == ref || job.src == ref }
	n := len(s.bufferJobs) + len(s.bakedBuffers)
	s.bufferJobs = slices.DeleteFunc(s.bufferJobs, drop)
	s.bakedBuffers = slices.DeleteFunc(s.bakedBuffers, drop)
	s.logCancel("buffer", ref, n-len(s.bufferJobs)-len(s.bakedBuffers))
}

func (s *Stager) logCancel(kind string, ref resource.Ref, dropped int) {
	if dropped > 0 {
		logging.Logger().Debug("staging: cancelled jobs", "kind", kind, "ref", ref, "jobs", dropped)
	}
}

// Pending returns the number of copy jobs not yet released by Flush,
// whether queued or baked.
func (s *Stager) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bufferJobs) + len(s.imageJobs) + len(s.bakedBuffers) + len(s.bakedImages)
}

// BufferCount returns the number of staging buffers in the pool.
func (s *Stager) BufferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// Capacities returns the size of each staging buffer in creation order.
func (s *Stager) Capacities() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	caps := make([]uint64, len(s.buffers))
	for i, sb := range s.buffers {
		caps[i] = sb.capacity
	}
	return caps
}

// Destroy releases all staging buffers and pending jobs.
func (s *Stager) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sb := range s.buffers {
		if err := s.mgr.DestroyBuffer(sb.ref); err != nil {
			logging.Logger().Warn("staging: release buffer", "error", err)
		}
	}
	s.buffers = nil
	s.bufferJobs = nil
	s.imageJobs = nil
	s.bakedBuffers = nil
	s.bakedImages = nil
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}

func alignUp32(v, align uint32) uint32 {
	return (v + align - 1) / align * align
}

// padRows copies tightly packed rows into a buffer with the given pitch.
func padRows(data []byte, rowBytes, pitch, rows uint32) []byte {
	if rowBytes == pitch {
		return data
	}
	out := make([]byte, int(pitch)*int(rows))
	for y := range int(rows) {
		copy(out[y*int(pitch):], data[y*int(rowBytes):(y+1)*int(rowBytes)])
	}
	return out
}
