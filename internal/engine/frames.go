package engine

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"

	"github.com/disintegration/imaging"
)

// frames is the Image handle of the imaging based engines. Animated
// sources keep every frame, coalesced onto the full canvas so each one
// can be transformed independently.
type frames struct {
	images      []*image.NRGBA
	delays      []int
	loopCount   int
	orientation Orientation
}

func (f *frames) Frames() int {
	return len(f.images)
}

// mapFrames applies an image transform to every frame.
func (f *frames) mapFrames(transform func(*image.NRGBA) *image.NRGBA) *frames {
	out := &frames{
		images:      make([]*image.NRGBA, len(f.images)),
		delays:      f.delays,
		loopCount:   f.loopCount,
		orientation: f.orientation,
	}
	for i, img := range f.images {
		out.images[i] = transform(img)
	}
	return out
}

// queryFirst reads a property off the first frame.
func queryFirst[T any](f *frames, query func(*image.NRGBA) T) T {
	return query(f.images[0])
}

func asFrames(img Image) (*frames, error) {
	f, ok := img.(*frames)
	if !ok || len(f.images) == 0 {
		return nil, fmt.Errorf("image handle %T was not decoded by this engine", img)
	}
	return f, nil
}

func decodeStill(data []byte) (*frames, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return &frames{
		images: []*image.NRGBA{imaging.Clone(img)},
		delays: []int{0},
	}, nil
}

func decodeGIF(data []byte) (*frames, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, errors.New("gif has no frames")
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		b := g.Image[0].Bounds()
		bounds = image.Rect(0, 0, b.Max.X, b.Max.Y)
	}

	canvas := image.NewNRGBA(bounds)
	out := &frames{loopCount: g.LoopCount}

	for i, frame := range g.Image {
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}

		var previous *image.NRGBA
		if disposal == gif.DisposalPrevious {
			previous = imaging.Clone(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		out.images = append(out.images, imaging.Clone(canvas))

		delay := 0
		if i < len(g.Delay) {
			delay = g.Delay[i]
		}
		out.delays = append(out.delays, delay)

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}

	return out, nil
}

func encodeGIF(w io.Writer, f *frames) error {
	out := &gif.GIF{LoopCount: f.loopCount}

	for i, img := range f.images {
		paletted := image.NewPaletted(img.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, img.Bounds(), img, img.Bounds().Min)

		out.Image = append(out.Image, paletted)
		out.Delay = append(out.Delay, f.delays[i])
		out.Disposal = append(out.Disposal, gif.DisposalNone)
	}

	return gif.EncodeAll(w, out)
}
