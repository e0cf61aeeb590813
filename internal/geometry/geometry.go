package geometry

import (
	"fmt"
	"image"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Size holds concrete pixel dimensions.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseError reports a malformed geometry, crop or crop box string.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid geometry %q: %s", e.Input, e.Reason)
}

var geometryPat = regexp.MustCompile(`^(\d+%?)?(?:x(\d+%?))?$`)

// Parse turns a geometry string such as "300x200", "300" or "x200"
// into pixel dimensions. The omitted dimension is inferred from ratio
// (width / height). Relative (percent) dimensions are rejected, use
// ParseRelative for those.
func Parse(geometry string, ratio float64) (Size, error) {
	return ParseRelative(geometry, ratio, Size{})
}

// ParseRelative is like Parse but resolves percent dimensions
// ("50%", "50%x25%") against base.
func ParseRelative(geometry string, ratio float64, base Size) (Size, error) {
	geometry = strings.TrimSpace(geometry)
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return Size{}, &ParseError{Input: geometry, Reason: fmt.Sprintf("aspect ratio must be positive, got %v", ratio)}
	}

	m := geometryPat.FindStringSubmatch(geometry)
	if m == nil || (m[1] == "" && m[2] == "") {
		return Size{}, &ParseError{Input: geometry, Reason: "expected <W>x<H>, <W> or x<H>"}
	}

	width, err := dimension(geometry, m[1], base.Width)
	if err != nil {
		return Size{}, err
	}
	height, err := dimension(geometry, m[2], base.Height)
	if err != nil {
		return Size{}, err
	}

	switch {
	case width == 0:
		width = ToInt(float64(height) * ratio)
	case height == 0:
		height = ToInt(float64(width) / ratio)
	}

	return Size{Width: width, Height: height}, nil
}

// dimension parses one side of a geometry string, 0 means "omitted".
func dimension(geometry, raw string, base int) (int, error) {
	if raw == "" {
		return 0, nil
	}

	percent := strings.HasSuffix(raw, "%")
	value, err := strconv.Atoi(strings.TrimSuffix(raw, "%"))
	if err != nil {
		return 0, &ParseError{Input: geometry, Reason: err.Error()}
	}
	if value <= 0 {
		return 0, &ParseError{Input: geometry, Reason: "dimensions must be positive"}
	}

	if !percent {
		return value, nil
	}
	if base <= 0 {
		return 0, &ParseError{Input: geometry, Reason: "relative dimension without a source size"}
	}
	return ToInt(float64(base) * float64(value) / 100), nil
}

// ToInt rounds a computed pixel value. Values above one round half away
// from zero, anything at or below one rounds up so an inferred side is
// never zero pixels.
func ToInt(f float64) int {
	if f > 1 {
		return int(math.Round(f))
	}
	return int(math.Ceil(f))
}

var (
	cropValuePat = regexp.MustCompile(`^(\d+)(%|px)$`)

	xAlias = map[string]string{"left": "0%", "center": "50%", "right": "100%"}
	yAlias = map[string]string{"top": "0%", "center": "50%", "bottom": "100%"}
)

// ParseCrop resolves a crop position ("center", "top", "left bottom",
// "10px 25%") into the top-left offset of a window cut out of an image.
// Offsets are clamped to image - window on each axis.
func ParseCrop(crop string, img, window Size) (int, int, error) {
	parts := strings.Fields(crop)

	var xCrop, yCrop string
	switch len(parts) {
	case 1:
		if v, ok := xAlias[parts[0]]; ok && parts[0] != "center" {
			xCrop, yCrop = v, "50%"
		} else if v, ok := yAlias[parts[0]]; ok {
			xCrop, yCrop = "50%", v
		} else {
			xCrop, yCrop = parts[0], parts[0]
		}
	case 2:
		xCrop, yCrop = parts[0], parts[1]
		if v, ok := xAlias[xCrop]; ok {
			xCrop = v
		}
		if v, ok := yAlias[yCrop]; ok {
			yCrop = v
		}
	default:
		return 0, 0, &ParseError{Input: crop, Reason: "crop takes one or two positions"}
	}

	x, err := cropOffset(crop, xCrop, img.Width-window.Width)
	if err != nil {
		return 0, 0, err
	}
	y, err := cropOffset(crop, yCrop, img.Height-window.Height)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func cropOffset(crop, raw string, room int) (int, error) {
	m := cropValuePat.FindStringSubmatch(raw)
	if m == nil {
		return 0, &ParseError{Input: crop, Reason: fmt.Sprintf("unrecognized crop position %q", raw)}
	}

	value, _ := strconv.Atoi(m[1])
	if m[2] == "%" {
		value = room * value / 100
	}
	return max(0, min(value, room)), nil
}

// ParseCropBox parses "x,y,x2,y2" into a rectangle.
func ParseCropBox(box string) (image.Rectangle, error) {
	parts := strings.Split(box, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, &ParseError{Input: box, Reason: "crop box must be x,y,x2,y2"}
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, &ParseError{Input: box, Reason: err.Error()}
		}
		v[i] = n
	}

	if v[0] < 0 || v[1] < 0 || v[2] <= v[0] || v[3] <= v[1] {
		return image.Rectangle{}, &ParseError{Input: box, Reason: "crop box is empty"}
	}
	return image.Rect(v[0], v[1], v[2], v[3]), nil
}
