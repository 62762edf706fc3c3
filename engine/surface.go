package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// SurfaceTexture is one presentable image handed out by a Surface.
type SurfaceTexture struct {
	Texture hal.Texture
	View    hal.TextureView
	Width   uint32
	Height  uint32
}

// Surface is where presented frames go, typically a window swapchain.
type Surface interface {
	// Acquire returns the next texture to draw into.
	Acquire() (*SurfaceTexture, error)
	// Present displays a texture returned by Acquire after its commands
	// were submitted.
	Present(*SurfaceTexture) error
	// Discard returns an acquired texture without presenting it.
	Discard(*SurfaceTexture)
	Format() gputypes.TextureFormat
	Extent() framegraph.Extent
}

// Resizer is implemented by surfaces whose size the engine controls.
type Resizer interface {
	Resize(width, height uint32) error
}

// OffscreenSurface is a headless Surface backed by a single image. It is
// useful for tests and for rendering to a texture that is read back.
type OffscreenSurface struct {
	mgr    *resource.Manager
	format gputypes.TextureFormat

	mu        sync.Mutex
	image     resource.Ref
	extent    framegraph.Extent
	acquired  bool
	presented int
}

// NewOffscreenSurface creates a width x height surface image of format.
func NewOffscreenSurface(mgr *resource.Manager, width, height uint32, format gputypes.TextureFormat) (*OffscreenSurface, error) {
	s := &OffscreenSurface{mgr: mgr, format: format, image: resource.InvalidRef}
	if err := s.Resize(width, height); err != nil {
		return nil, err
	}
	return s, nil
}

// Resize recreates the surface image. The GPU must be idle.
func (s *OffscreenSurface) Resize(width, height uint32) error {
	img, err := s.mgr.CreateImage(resource.ImageInfo{
		Label:  "offscreen-surface",
		Format: s.format,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
		Width:  width,
		Height: height,
	})
	if err != nil {
		return fmt.Errorf("offscreen surface: %w", err)
	}

	s.mu.Lock()
	old := s.image
	s.image = img
	s.extent = framegraph.Extent{Width: width, Height: height}
	s.mu.Unlock()

	if old.Valid() {
		return s.mgr.DestroyImage(old)
	}
	return nil
}

// ErrSurfaceBusy is returned by Acquire while a texture is still acquired.
var ErrSurfaceBusy = errors.New("engine: surface texture already acquired")

// Acquire returns the surface image.
func (s *OffscreenSurface) Acquire() (*SurfaceTexture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return nil, ErrSurfaceBusy
	}
	img := s.mgr.Image(s.image)
	s.acquired = true
	return &SurfaceTexture{
		Texture: img.Texture,
		View:    img.View,
		Width:   img.Info.Width,
		Height:  img.Info.Height,
	}, nil
}

// Present marks the texture presented.
func (s *OffscreenSurface) Present(*SurfaceTexture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired = false
	s.presented++
	return nil
}

// Discard releases the acquired texture.
func (s *OffscreenSurface) Discard(*SurfaceTexture) {
	s.mu.Lock()
	s.acquired = false
	s.mu.Unlock()
}

// Format returns the surface format.
func (s *OffscreenSurface) Format() gputypes.TextureFormat { return s.format }

// Extent returns the surface size.
func (s *OffscreenSurface) Extent() framegraph.Extent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

// Image returns the pooled image frames are presented into.
func (s *OffscreenSurface) Image() resource.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// Presented returns the number of presented frames.
func (s *OffscreenSurface) Presented() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

// Destroy releases the surface image.
func (s *OffscreenSurface) Destroy() {
	s.mu.Lock()
	img := s.image
	s.image = resource.InvalidRef
	s.mu.Unlock()
	if img.Valid() {
		_ = s.mgr.DestroyImage(img)
	}
}
