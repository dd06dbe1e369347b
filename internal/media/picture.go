package media

import "image"

// ColorSpace describes the plane layout of a picture.
type ColorSpace int

const (
	ColorUnknown ColorSpace = iota
	ColorYUV420
	ColorYUV422
	ColorYUV444
	ColorRGB
	ColorMono
)

func (c ColorSpace) String() string {
	switch c {
	case ColorYUV420:
		return "yuv420"
	case ColorYUV422:
		return "yuv422"
	case ColorYUV444:
		return "yuv444"
	case ColorRGB:
		return "rgb"
	case ColorMono:
		return "mono"
	default:
		return "unknown"
	}
}

// PlaneShapes returns the width and height of every plane for a picture of
// the given size. RGB is a single interleaved plane three bytes per pixel wide.
func (c ColorSpace) PlaneShapes(width, height int) []Size {
	cw, ch := (width+1)/2, (height+1)/2
	switch c {
	case ColorYUV420:
		return []Size{{width, height}, {cw, ch}, {cw, ch}}
	case ColorYUV422:
		return []Size{{width, height}, {cw, height}, {cw, height}}
	case ColorYUV444:
		return []Size{{width, height}, {width, height}, {width, height}}
	case ColorRGB:
		return []Size{{width * 3, height}}
	case ColorMono:
		return []Size{{width, height}}
	default:
		return nil
	}
}

// FrameSize returns the number of bytes of a tightly packed picture.
func (c ColorSpace) FrameSize(width, height int) int {
	n := 0
	for _, s := range c.PlaneShapes(width, height) {
		n += s.Width * s.Height
	}
	return n
}

// Size is a picture dimension in pixels.
type Size struct {
	Width  int
	Height int
}

// Picture is an uncompressed image stored as planes. Width and Height are the
// allocated dimensions; Crop, when not empty, is the displayable region.
// Plane strides equal the plane widths from ColorSpace.PlaneShapes.
type Picture struct {
	Width  int
	Height int
	Color  ColorSpace
	Planes [][]byte
	Crop   image.Rectangle
}

// NewPicture allocates zeroed planes for a picture of the given shape.
func NewPicture(width, height int, color ColorSpace) *Picture {
	shapes := color.PlaneShapes(width, height)
	planes := make([][]byte, len(shapes))
	for i, s := range shapes {
		planes[i] = make([]byte, s.Width*s.Height)
	}
	return &Picture{
		Width:  width,
		Height: height,
		Color:  color,
		Planes: planes,
	}
}

// Stride returns the row length in bytes of plane i.
func (p *Picture) Stride(i int) int {
	shapes := p.Color.PlaneShapes(p.Width, p.Height)
	if i >= len(shapes) {
		return 0
	}
	return shapes[i].Width
}

// DisplaySize returns the cropped size, or the full size when no crop is set.
func (p *Picture) DisplaySize() Size {
	if p.Crop.Empty() {
		return Size{p.Width, p.Height}
	}
	return Size{p.Crop.Dx(), p.Crop.Dy()}
}

// CompatibleWith reports whether the picture can hold a frame of the given
// size and color space without reallocation.
func (p *Picture) CompatibleWith(width, height int, color ColorSpace) bool {
	return p.Color == color && p.Width >= width && p.Height >= height
}

// WithCrop returns a view sharing p's planes whose displayable region is
// limited to width x height.
func (p *Picture) WithCrop(width, height int) *Picture {
	out := *p
	out.Crop = image.Rect(0, 0, width, height)
	return &out
}
