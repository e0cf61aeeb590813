package engine

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/giobyte8/thumbcache/internal/geometry"
	"github.com/giobyte8/thumbcache/internal/options"
)

// BaseSize returns the dimensions a geometry is resolved against: the
// crop box when one is set, the full image otherwise. When orientation
// handling is on and the EXIF tag transposes the axes, width and height
// are swapped.
func BaseSize(e Engine, img Image, opts options.Options) (geometry.Size, error) {
	w, h := e.Size(img)

	if raw := opts.CropBox(); raw != "" {
		box, err := geometry.ParseCropBox(raw)
		if err != nil {
			return geometry.Size{}, err
		}
		box = box.Intersect(image.Rect(0, 0, w, h))
		if box.Empty() {
			return geometry.Size{}, &geometry.ParseError{Input: raw, Reason: "crop box lies outside the image"}
		}
		w, h = box.Dx(), box.Dy()
	}

	if opts.Orientation() && e.Orientation(img).Transposes() {
		w, h = h, w
	}
	return geometry.Size{Width: w, Height: h}, nil
}

// Ratio returns width / height of BaseSize.
func Ratio(e Engine, img Image, opts options.Options) (float64, error) {
	base, err := BaseSize(e, img, opts)
	if err != nil {
		return 0, err
	}
	if base.Height == 0 {
		return 0, fmt.Errorf("image has no height")
	}
	return float64(base.Width) / float64(base.Height), nil
}

// Target resolves geom against the base size of img.
func Target(e Engine, img Image, geom string, opts options.Options) (geometry.Size, error) {
	base, err := BaseSize(e, img, opts)
	if err != nil {
		return geometry.Size{}, err
	}
	return geometry.ParseRelative(
		geom,
		float64(base.Width)/float64(base.Height),
		base,
	)
}

// Create renders a thumbnail of img for geometry.
func Create(e Engine, img Image, geom string, opts options.Options) (Image, error) {
	target, err := Target(e, img, geom, opts)
	if err != nil {
		return nil, err
	}
	return Render(e, img, target, opts)
}

// Render transforms img towards target pixel dimensions. Steps run in a
// fixed order: crop box, orientation, scale, crop, colorspace, rounded.
func Render(e Engine, img Image, target geometry.Size, opts options.Options) (Image, error) {
	var err error

	if raw := opts.CropBox(); raw != "" {
		box, err := geometry.ParseCropBox(raw)
		if err != nil {
			return nil, err
		}
		if img, err = e.CropBox(img, box); err != nil {
			return nil, fmt.Errorf("crop box %s: %w", raw, err)
		}
	}

	if opts.Orientation() {
		if img, err = e.Orient(img); err != nil {
			return nil, fmt.Errorf("orientation: %w", err)
		}
	}

	if img, err = scale(e, img, target, opts); err != nil {
		return nil, fmt.Errorf("scale: %w", err)
	}

	if crop := opts.Crop(); crop != "" && crop != options.CropNoop {
		if img, err = cropWindow(e, img, target, crop); err != nil {
			return nil, err
		}
	}

	if cs := opts.Colorspace(); cs != "" {
		if img, err = e.Colorspace(img, cs); err != nil {
			return nil, fmt.Errorf("colorspace %s: %w", cs, err)
		}
	}

	if radius := opts.Rounded(); radius > 0 {
		if img, err = e.Round(img, radius); err != nil {
			return nil, fmt.Errorf("rounded: %w", err)
		}
	}

	return img, nil
}

// scale resizes img towards target. With cropping the image covers the
// target (larger factor), otherwise it fits inside it (smaller factor).
// Images are only enlarged when upscale is on.
func scale(e Engine, img Image, target geometry.Size, opts options.Options) (Image, error) {
	w, h := e.Size(img)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("image is empty")
	}

	fx := float64(target.Width) / float64(w)
	fy := float64(target.Height) / float64(h)

	factor := min(fx, fy)
	if opts.Crop() != "" {
		factor = max(fx, fy)
	}
	if factor >= 1 && !opts.Upscale() {
		return img, nil
	}

	nw := geometry.ToInt(float64(w) * factor)
	nh := geometry.ToInt(float64(h) * factor)
	if nw == w && nh == h {
		return img, nil
	}

	slog.Debug("Scaling image", "from", geometry.Size{Width: w, Height: h}, "to", geometry.Size{Width: nw, Height: nh})
	return e.Scale(img, nw, nh)
}

func cropWindow(e Engine, img Image, target geometry.Size, crop string) (Image, error) {
	w, h := e.Size(img)
	current := geometry.Size{Width: w, Height: h}
	window := geometry.Size{
		Width:  min(w, target.Width),
		Height: min(h, target.Height),
	}

	x, y, err := geometry.ParseCrop(crop, current, window)
	if err != nil {
		return nil, err
	}
	if window == current {
		return img, nil
	}
	return e.Crop(img, window.Width, window.Height, x, y)
}
