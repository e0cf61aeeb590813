package options

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Option names understood by the thumbnail pipeline.
const (
	Format                 = "format"
	Quality                = "quality"
	Colorspace             = "colorspace"
	Upscale                = "upscale"
	AlternativeResolutions = "alternative_resolutions"
	Crop                   = "crop"
	CropBox                = "cropbox"
	Rounded                = "rounded"

	Progressive = "progressive"
	Orientation = "orientation"
)

// Process defaults for the extra options. An extra only becomes part of
// an option set (and therefore of its cache key) when the configured
// value differs from these.
// CropNoop scales the image to cover the geometry without cutting it.
const CropNoop = "noop"

const (
	DefaultProgressive = true
	DefaultOrientation = true
)

// Options maps option names to values. Values may come straight from
// Go callers or from decoded JSON, so accessors accept both int and
// float64 numbers and both bool and string flags.
type Options map[string]any

// Clone returns a shallow copy of o.
func (o Options) Clone() Options {
	c := make(Options, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// SetDefault stores value under key unless key is already present.
func (o Options) SetDefault(key string, value any) {
	if _, ok := o[key]; !ok {
		o[key] = value
	}
}

func (o Options) Format() string {
	return strings.ToUpper(o.str(Format))
}

func (o Options) Quality() int {
	return o.integer(Quality)
}

func (o Options) Colorspace() string {
	return strings.ToUpper(o.str(Colorspace))
}

func (o Options) Upscale() bool {
	return o.flag(Upscale, false)
}

// Crop returns the crop position, or "" when cropping is off.
// A plain true means "center". CropNoop is returned as is.
func (o Options) Crop() string {
	switch v := o[Crop].(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "center"
		}
		return ""
	case string:
		if strings.EqualFold(v, CropNoop) {
			return CropNoop
		}
		if v == "" || strings.EqualFold(v, "false") {
			return ""
		}
		if strings.EqualFold(v, "true") {
			return "center"
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

// CropBox returns the raw "x,y,x2,y2" crop box or "".
func (o Options) CropBox() string {
	switch v := o[CropBox].(type) {
	case string:
		return v
	case []int:
		if len(v) == 4 {
			return fmt.Sprintf("%d,%d,%d,%d", v[0], v[1], v[2], v[3])
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	}
	return ""
}

// Rounded returns the corner radius in pixels, 0 disables rounding.
func (o Options) Rounded() int {
	return o.integer(Rounded)
}

func (o Options) Progressive() bool {
	return o.flag(Progressive, DefaultProgressive)
}

func (o Options) Orientation() bool {
	return o.flag(Orientation, DefaultOrientation)
}

func (o Options) AlternativeResolutions() []float64 {
	switch v := o[AlternativeResolutions].(type) {
	case []float64:
		return v
	case []int:
		out := make([]float64, len(v))
		for i, r := range v {
			out[i] = float64(r)
		}
		return out
	case []any:
		out := make([]float64, 0, len(v))
		for _, r := range v {
			if f, ok := number(r); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

func (o Options) str(key string) string {
	switch v := o[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (o Options) integer(key string) int {
	if f, ok := number(o[key]); ok {
		return int(f)
	}
	return 0
}

func (o Options) flag(key string, fallback bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
