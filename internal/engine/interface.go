package engine

import (
	"errors"
	"image"
)

// Output formats understood by every engine.
const (
	FormatJPEG = "JPEG"
	FormatPNG  = "PNG"
	FormatGIF  = "GIF"
)

// Colorspaces understood by Colorspace. Anything else passes through.
const (
	ColorspaceRGB  = "RGB"
	ColorspaceGray = "GRAY"
)

// ErrUnreadableImage is returned by Decode when source bytes are empty,
// truncated or not in a recognized image format.
var ErrUnreadableImage = errors.New("unreadable image")

// Image is an engine specific handle to decoded pixel data. Handles are
// immutable: every transform returns a new one.
type Image interface {
	// Frames reports how many frames the image holds, 1 for stills.
	Frames() int
}

// Engine normalizes an image backend behind one capability set.
// Transforms apply to every frame of a multi-frame image, queries
// (Size, Orientation) read the first frame.
type Engine interface {
	Decode(data []byte, name string) (Image, error)
	Validate(data []byte) bool

	Size(img Image) (width, height int)
	Orientation(img Image) Orientation

	CropBox(img Image, box image.Rectangle) (Image, error)
	Orient(img Image) (Image, error)
	Colorspace(img Image, colorspace string) (Image, error)
	Scale(img Image, width, height int) (Image, error)
	Crop(img Image, width, height, x, y int) (Image, error)
	Round(img Image, radius int) (Image, error)

	Encode(img Image, format string, quality int, progressive bool) ([]byte, error)
}
