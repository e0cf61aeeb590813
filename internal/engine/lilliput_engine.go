package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/discord/lilliput"
)

// LilliputEngine does its pixel work through the imaging engine and
// hands JPEG encoding to lilliput (libjpeg-turbo), which supports
// progressive output.
type LilliputEngine struct {
	*ImagingEngine
}

func NewLilliputEngine() *LilliputEngine {
	return &LilliputEngine{ImagingEngine: NewImagingEngine()}
}

// Validate asks the lilliput decoder for the image header.
func (e *LilliputEngine) Validate(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	decoder, err := lilliput.NewDecoder(data)
	if err != nil {
		return false
	}
	defer decoder.Close()

	header, err := decoder.Header()
	if err != nil {
		return false
	}
	return header.Width() > 0 && header.Height() > 0
}

func (e *LilliputEngine) Encode(
	img Image,
	format string,
	quality int,
	progressive bool,
) ([]byte, error) {
	if strings.ToUpper(format) != FormatJPEG {
		return e.ImagingEngine.Encode(img, format, quality, progressive)
	}
	if quality <= 0 || quality > 100 {
		quality = 75
	}

	// Pixels reach lilliput as a lossless PNG, which it re-encodes
	staged, err := e.ImagingEngine.Encode(img, FormatPNG, 0, false)
	if err != nil {
		return nil, err
	}

	decoder, err := lilliput.NewDecoder(staged)
	if err != nil {
		return nil, fmt.Errorf("failed to create lilliput decoder: %w", err)
	}
	defer decoder.Close()

	header, err := decoder.Header()
	if err != nil {
		return nil, fmt.Errorf("failed to read staged image header: %w", err)
	}
	width, height := header.Width(), header.Height()

	ops := lilliput.NewImageOps(max(width, height))
	defer ops.Close()

	opts := &lilliput.ImageOptions{
		FileType:     ".jpg",
		Width:        width,
		Height:       height,
		ResizeMethod: lilliput.ImageOpsNoResize,
		EncodeOptions: map[int]int{
			lilliput.JpegQuality:     quality,
			lilliput.JpegProgressive: boolToInt(progressive),
		},
	}

	// Encoded JPEG never outgrows the raw RGBA pixels plus headers
	outputBuf := make([]byte, width*height*4+64*1024)
	encoded, err := ops.Transform(decoder, opts, outputBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg with lilliput: %w", err)
	}

	slog.Debug(
		"Encoded jpeg",
		"width", width,
		"height", height,
		"quality", quality,
		"progressive", progressive,
		"bytes", len(encoded),
	)

	out := make([]byte, len(encoded))
	copy(out, encoded)
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
