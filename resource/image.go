package resource

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ImageType distinguishes plain 2D images from cube maps.
type ImageType uint8

const (
	Image2D ImageType = iota
	ImageCube
)

// ImageInfo describes an image to create.
type ImageInfo struct {
	Label  string
	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage
	Width  uint32
	Height uint32
	Type   ImageType

	// ClearColor is used when a render pass clears the image.
	ClearColor gputypes.Color
	// ClearDepth is used when a render pass clears a depth image.
	ClearDepth float32
}

// ArrayLayers returns 6 for cube maps and 1 otherwise.
func (i ImageInfo) ArrayLayers() uint32 {
	if i.Type == ImageCube {
		return 6
	}
	return 1
}

// Aspect returns the aspects of the image format.
func (i ImageInfo) Aspect() Aspect { return AspectOf(i.Format) }

// Image is a texture and its default view. DepthView is set for sampled
// depth-stencil images and views only the depth plane.
type Image struct {
	Info      ImageInfo
	Texture   hal.Texture
	View      hal.TextureView
	DepthView hal.TextureView
}

// SampledView returns the view bound when shaders sample the image.
func (i *Image) SampledView() hal.TextureView {
	if i.DepthView != nil {
		return i.DepthView
	}
	return i.View
}

// CreateImage allocates a texture and its default view.
func (m *Manager) CreateImage(info ImageInfo) (Ref, error) {
	if info.Width == 0 || info.Height == 0 {
		return InvalidRef, fmt.Errorf("%w: image %q has extent %dx%d",
			ErrInvalidInfo, info.Label, info.Width, info.Height)
	}
	if info.Usage == 0 {
		return InvalidRef, fmt.Errorf("%w: image %q has no usage", ErrInvalidInfo, info.Label)
	}

	layers := info.ArrayLayers()
	tex, err := m.device().CreateTexture(&hal.TextureDescriptor{
		Label: info.Label,
		Size: hal.Extent3D{
			Width:              info.Width,
			Height:             info.Height,
			DepthOrArrayLayers: layers,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        info.Format,
		Usage:         info.Usage,
	})
	if err != nil {
		return InvalidRef, fmt.Errorf("create texture %q: %w", info.Label, err)
	}

	viewDim := gputypes.TextureViewDimension2D
	if info.Type == ImageCube {
		viewDim = gputypes.TextureViewDimensionCube
	}
	view, err := m.device().CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           info.Label + "_view",
		Format:          info.Format,
		Dimension:       viewDim,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: layers,
	})
	if err != nil {
		m.device().DestroyTexture(tex)
		return InvalidRef, fmt.Errorf("create texture view %q: %w", info.Label, err)
	}

	img := &Image{Info: info, Texture: tex, View: view}
	if info.Aspect()&AspectStencil != 0 && info.Usage&gputypes.TextureUsageTextureBinding != 0 {
		img.DepthView, err = m.device().CreateTextureView(tex, &hal.TextureViewDescriptor{
			Label:           info.Label + "_depth_view",
			Format:          info.Format,
			Dimension:       viewDim,
			Aspect:          gputypes.TextureAspectDepthOnly,
			MipLevelCount:   1,
			ArrayLayerCount: layers,
		})
		if err != nil {
			m.device().DestroyTextureView(view)
			m.device().DestroyTexture(tex)
			return InvalidRef, fmt.Errorf("create depth view %q: %w", info.Label, err)
		}
	}

	return m.images.Insert(img), nil
}

// Image returns the image at ref. It panics on a stale ref.
func (m *Manager) Image(ref Ref) *Image { return m.images.Get(ref) }

// DestroyImage releases the view and texture at ref.
func (m *Manager) DestroyImage(ref Ref) error {
	img, ok := m.images.Remove(ref)
	if !ok {
		return fmt.Errorf("%w: image %d", ErrStaleRef, ref)
	}
	if img.DepthView != nil {
		m.device().DestroyTextureView(img.DepthView)
	}
	m.device().DestroyTextureView(img.View)
	m.device().DestroyTexture(img.Texture)
	return nil
}
