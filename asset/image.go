// Package asset loads textures, uniform buffers and vertex buffers into
// pooled GPU resources. Uploads go through a staging.Stager and land on the
// GPU with the next baked command buffer.
package asset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gogpu/gputypes"
)

var (
	// ErrEmptyData is returned when there is nothing to decode.
	ErrEmptyData = errors.New("asset: empty image data")

	// ErrChannels is returned for channel counts other than 1 to 4.
	ErrChannels = errors.New("asset: unsupported channel count")

	// ErrPixelsSize is returned when pixel data does not match its size.
	ErrPixelsSize = errors.New("asset: pixel data size mismatch")
)

// Pixels is tightly packed 8-bit image data with 1 to 4 channels per texel.
type Pixels struct {
	Width    int
	Height   int
	Channels int
	Data     []byte
}

// Validate checks the channel count and the data length.
func (p *Pixels) Validate() error {
	if p.Channels < 1 || p.Channels > 4 {
		return fmt.Errorf("%w: %d", ErrChannels, p.Channels)
	}
	if p.Width <= 0 || p.Height <= 0 || len(p.Data) != p.Width*p.Height*p.Channels {
		return fmt.Errorf("%w: %d bytes for %dx%dx%d", ErrPixelsSize, len(p.Data), p.Width, p.Height, p.Channels)
	}
	return nil
}

// ChannelFormat returns the texture format used for a channel count.
// Three channel data is uploaded as RGBA.
func ChannelFormat(channels int) (gputypes.TextureFormat, error) {
	switch channels {
	case 1:
		return gputypes.TextureFormatR8Unorm, nil
	case 2:
		return gputypes.TextureFormatRG8Unorm, nil
	case 3, 4:
		return gputypes.TextureFormatRGBA8Unorm, nil
	default:
		return gputypes.TextureFormatUndefined, fmt.Errorf("%w: %d", ErrChannels, channels)
	}
}

// Expand returns p with three channel texels widened to RGBA with opaque
// alpha. Other channel counts are returned unchanged.
func Expand(p *Pixels) *Pixels {
	if p.Channels != 3 {
		return p
	}
	n := p.Width * p.Height
	out := make([]byte, n*4)
	for i := range n {
		copy(out[i*4:i*4+3], p.Data[i*3:i*3+3])
		out[i*4+3] = 0xff
	}
	return &Pixels{Width: p.Width, Height: p.Height, Channels: 4, Data: out}
}

// DecodeImage decodes PNG, JPEG, GIF, BMP, TIFF or WebP data into RGBA
// pixels.
func DecodeImage(r io.Reader) (*Pixels, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("asset: decode: %w", err)
	}
	return FromImage(img), nil
}

// DecodeBytes decodes an encoded image held in memory.
func DecodeBytes(data []byte) (*Pixels, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	return DecodeImage(bytes.NewReader(data))
}

// LoadImage decodes the image file at path.
func LoadImage(path string) (*Pixels, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("asset: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	px, err := DecodeImage(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return px, nil
}

// FromImage converts any image to non-premultiplied RGBA pixels.
func FromImage(img image.Image) *Pixels {
	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	return &Pixels{Width: b.Dx(), Height: b.Dy(), Channels: 4, Data: nrgba.Pix}
}

// Image returns p as an image.Image. Only 4 channel pixels are supported;
// use Expand first for RGB data.
func (p *Pixels) Image() (*image.NRGBA, error) {
	if p.Channels != 4 {
		return nil, fmt.Errorf("%w: %d, want 4", ErrChannels, p.Channels)
	}
	return &image.NRGBA{
		Pix:    p.Data,
		Stride: p.Width * 4,
		Rect:   image.Rect(0, 0, p.Width, p.Height),
	}, nil
}

// Resize scales RGBA pixels to width x height with Catmull-Rom filtering.
func Resize(p *Pixels, width, height int) (*Pixels, error) {
	src, err := Expand(p).Image()
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: resize to %dx%d", ErrPixelsSize, width, height)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return &Pixels{Width: width, Height: height, Channels: 4, Data: dst.Pix}, nil
}
