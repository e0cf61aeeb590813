package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp" // Register WebP decoding
)

// ImagingEngine is a pure Go engine on top of disintegration/imaging.
// The standard JPEG encoder has no progressive mode, so the progressive
// flag is ignored here.
type ImagingEngine struct{}

func NewImagingEngine() *ImagingEngine {
	return &ImagingEngine{}
}

func (e *ImagingEngine) Decode(data []byte, name string) (Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrUnreadableImage, name)
	}

	kind, err := filetype.Match(data)
	if err != nil || !filetype.IsImage(data) {
		return nil, fmt.Errorf(
			"%w: %s is not a recognized image format",
			ErrUnreadableImage,
			name,
		)
	}

	var img *frames
	if kind == matchers.TypeGif {
		img, err = decodeGIF(data)
	} else {
		img, err = decodeStill(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, name, err)
	}

	img.orientation = readOrientation(data)

	slog.Debug(
		"Decoded image",
		"name", name,
		"type", kind.MIME.Value,
		"frames", img.Frames(),
		"orientation", int(img.orientation),
	)
	return img, nil
}

func (e *ImagingEngine) Validate(data []byte) bool {
	_, err := e.Decode(data, "validate")
	return err == nil
}

func (e *ImagingEngine) Size(img Image) (int, int) {
	f, err := asFrames(img)
	if err != nil {
		return 0, 0
	}

	bounds := queryFirst(f, func(frame *image.NRGBA) image.Rectangle {
		return frame.Bounds()
	})
	return bounds.Dx(), bounds.Dy()
}

func (e *ImagingEngine) Orientation(img Image) Orientation {
	f, err := asFrames(img)
	if err != nil {
		return OrientationTopLeft
	}
	return f.orientation
}

func (e *ImagingEngine) CropBox(img Image, box image.Rectangle) (Image, error) {
	f, err := asFrames(img)
	if err != nil {
		return nil, err
	}

	w, h := e.Size(f)
	box = box.Intersect(image.Rect(0, 0, w, h))
	if box.Empty() {
		return nil, fmt.Errorf("crop box lies outside the %dx%d image", w, h)
	}

	return f.mapFrames(func(frame *image.NRGBA) *image.NRGBA {
		return imaging.Crop(frame, box)
	}), nil
}

func (e *ImagingEngine) Orient(img Image) (Image, error) {
	f, err := asFrames(img)
	if err != nil {
		return nil, err
	}

	steps := f.orientation.Steps()
	out := f.mapFrames(func(frame *image.NRGBA) *image.NRGBA {
		for _, step := range steps {
			frame = applyStep(frame, step)
		}
		return frame
	})
	out.orientation = OrientationTopLeft
	return out, nil
}

func applyStep(img *image.NRGBA, step Step) *image.NRGBA {
	switch step {
	case RotateCW:
		return imaging.Rotate270(img)
	case RotateCCW:
		return imaging.Rotate90(img)
	case Rotate180:
		return imaging.Rotate180(img)
	case Flip:
		return imaging.FlipV(img)
	case Flop:
		return imaging.FlipH(img)
	}
	return img
}

func (e *ImagingEngine) Colorspace(img Image, colorspace string) (Image, error) {
	f, err := asFrames(img)
	if err != nil {
		return nil, err
	}

	if strings.ToUpper(colorspace) != ColorspaceGray {
		return f, nil
	}
	return f.mapFrames(func(frame *image.NRGBA) *image.NRGBA {
		return imaging.Grayscale(frame)
	}), nil
}

func (e *ImagingEngine) Scale(img Image, width, height int) (Image, error) {
	f, err := asFrames(img)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid scale target %dx%d", width, height)
	}

	return f.mapFrames(func(frame *image.NRGBA) *image.NRGBA {
		return imaging.Resize(frame, width, height, imaging.Lanczos)
	}), nil
}

func (e *ImagingEngine) Crop(img Image, width, height, x, y int) (Image, error) {
	f, err := asFrames(img)
	if err != nil {
		return nil, err
	}

	window := image.Rect(x, y, x+width, y+height)
	return f.mapFrames(func(frame *image.NRGBA) *image.NRGBA {
		return imaging.Crop(frame, window)
	}), nil
}

func (e *ImagingEngine) Round(img Image, radius int) (Image, error) {
	f, err := asFrames(img)
	if err != nil {
		return nil, err
	}

	return f.mapFrames(func(frame *image.NRGBA) *image.NRGBA {
		return roundCorners(frame, radius)
	}), nil
}

func (e *ImagingEngine) Encode(
	img Image,
	format string,
	quality int,
	progressive bool,
) ([]byte, error) {
	f, err := asFrames(img)
	if err != nil {
		return nil, err
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	switch strings.ToUpper(format) {
	case FormatJPEG:
		err = imaging.Encode(&buf, f.images[0], imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatPNG:
		err = imaging.Encode(&buf, f.images[0], imaging.PNG)
	case FormatGIF:
		err = encodeGIF(&buf, f)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}

	return buf.Bytes(), nil
}

// roundCorners clears the pixels outside a circle of radius r in each
// corner.
func roundCorners(src *image.NRGBA, radius int) *image.NRGBA {
	dst := imaging.Clone(src)
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	radius = min(radius, w/2, h/2)
	if radius <= 0 {
		return dst
	}

	r := float64(radius)
	for y := 0; y < radius; y++ {
		for x := 0; x < radius; x++ {
			dx := r - float64(x) - 0.5
			dy := r - float64(y) - 0.5
			if dx*dx+dy*dy <= r*r {
				continue
			}

			corners := [4]image.Point{
				{x, y},
				{w - 1 - x, y},
				{x, h - 1 - y},
				{w - 1 - x, h - 1 - y},
			}
			for _, p := range corners {
				dst.Pix[dst.PixOffset(p.X, p.Y)+3] = 0
			}
		}
	}
	return dst
}

// readOrientation returns the EXIF orientation tag, or top-left when the
// data carries none.
func readOrientation(data []byte) Orientation {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return OrientationTopLeft
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationTopLeft
	}

	v, err := tag.Int(0)
	if err != nil || v < int(OrientationTopLeft) || v > int(OrientationLeftBottom) {
		return OrientationTopLeft
	}
	return Orientation(v)
}
