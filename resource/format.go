package resource

import "github.com/gogpu/gputypes"

// Aspect selects which planes of an image a view or barrier covers.
type Aspect uint8

const (
	AspectColor Aspect = 1 << iota
	AspectDepth
	AspectStencil
)

// AspectOf returns the aspects present in format.
func AspectOf(format gputypes.TextureFormat) Aspect {
	switch format {
	case gputypes.TextureFormatDepth24PlusStencil8:
		return AspectDepth | AspectStencil
	case gputypes.TextureFormatDepth32Float, gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth16Unorm:
		return AspectDepth
	default:
		return AspectColor
	}
}

// IsDepth reports whether the aspect includes depth or stencil.
func (a Aspect) IsDepth() bool { return a&(AspectDepth|AspectStencil) != 0 }

// BytesPerTexel returns the size of one texel of an uncompressed color
// format, or 0 for formats that cannot be uploaded through staging.
func BytesPerTexel(format gputypes.TextureFormat) uint32 {
	switch format {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRG8Unorm:
		return 2
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float:
		return 4
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRGBA16Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}
