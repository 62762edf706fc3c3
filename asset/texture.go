package asset

import (
	"errors"
	"fmt"

	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/staging"
	"github.com/gogpu/gputypes"
)

// ErrCubeFaces is returned when cube map faces differ in size or channels.
var ErrCubeFaces = errors.New("asset: cube faces must share size and channel count")

// Texture is a sampled image uploaded from CPU pixels. Bind it to a graph
// with framegraph.SampledImageInfo{External: true, Texture: t.Ref()}.
type Texture struct {
	mgr    *resource.Manager
	stager *staging.Stager
	ref    resource.Ref
	cube   bool
}

// Ref returns the pooled image.
func (t *Texture) Ref() resource.Ref { return t.ref }

// IsCube reports whether the texture is a cube map.
func (t *Texture) IsCube() bool { return t.cube }

// Info returns the image description.
func (t *Texture) Info() resource.ImageInfo { return t.mgr.Image(t.ref).Info }

// Destroy drops any upload still staged for the image and releases it.
// The GPU must no longer use it.
func (t *Texture) Destroy() {
	if !t.ref.Valid() {
		return
	}
	t.stager.CancelImage(t.ref)
	if err := t.mgr.DestroyImage(t.ref); err != nil {
		logging.Logger().Warn("asset: release texture", "error", err)
	}
	t.ref = resource.InvalidRef
}

// NewTexture2D creates a 2D texture from px and stages its upload.
func NewTexture2D(mgr *resource.Manager, stager *staging.Stager, label string, px *Pixels) (*Texture, error) {
	return newTexture(mgr, stager, label, resource.Image2D, []*Pixels{px})
}

// NewCubeMap creates a cube map from six faces in +X, -X, +Y, -Y, +Z, -Z
// order and stages their upload.
func NewCubeMap(mgr *resource.Manager, stager *staging.Stager, label string, faces [6]*Pixels) (*Texture, error) {
	first := faces[0]
	for i, f := range faces {
		if f == nil {
			return nil, fmt.Errorf("%w: face %d missing", ErrCubeFaces, i)
		}
		if f.Width != first.Width || f.Height != first.Height || f.Channels != first.Channels {
			return nil, fmt.Errorf("%w: face %d is %dx%dx%d, face 0 is %dx%dx%d", ErrCubeFaces, i,
				f.Width, f.Height, f.Channels, first.Width, first.Height, first.Channels)
		}
	}
	return newTexture(mgr, stager, label, resource.ImageCube, faces[:])
}

func newTexture(mgr *resource.Manager, stager *staging.Stager, label string, typ resource.ImageType, layers []*Pixels) (*Texture, error) {
	for _, px := range layers {
		if err := px.Validate(); err != nil {
			return nil, fmt.Errorf("texture %q: %w", label, err)
		}
	}
	format, err := ChannelFormat(layers[0].Channels)
	if err != nil {
		return nil, err
	}

	ref, err := mgr.CreateImage(resource.ImageInfo{
		Label:  label,
		Format: format,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		Width:  uint32(layers[0].Width),
		Height: uint32(layers[0].Height),
		Type:   typ,
	})
	if err != nil {
		return nil, err
	}
	t := &Texture{mgr: mgr, stager: stager, ref: ref, cube: typ == resource.ImageCube}

	for i, px := range layers {
		if err := stager.UpdateImage(ref, resource.LayoutUndefined, Expand(px).Data, uint32(i)); err != nil {
			t.Destroy()
			return nil, fmt.Errorf("texture %q layer %d: %w", label, i, err)
		}
	}
	logging.Logger().Debug("asset: texture staged", "label", label, "format", format, "layers", len(layers))
	return t, nil
}
