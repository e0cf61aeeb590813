package geometry

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		geometry string
		ratio    float64
		expected Size
	}{
		{name: "both dimensions ignore ratio", geometry: "100x50", ratio: 3.7, expected: Size{100, 50}},
		{name: "width only", geometry: "100", ratio: 2.0, expected: Size{100, 50}},
		{name: "height only", geometry: "x50", ratio: 2.0, expected: Size{100, 50}},
		{name: "rounds half away from zero", geometry: "101", ratio: 2.0, expected: Size{101, 51}},
		{name: "tiny inferred side is one pixel", geometry: "10", ratio: 40, expected: Size{10, 1}},
		{name: "surrounding spaces", geometry: " 300x200 ", ratio: 1, expected: Size{300, 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := Parse(tt.geometry, tt.ratio)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, geometry := range []string{"abc", "", "x", "100x", "0x10", "10x0", "-5", "100y50", "50%"} {
		t.Run(geometry, func(t *testing.T) {
			_, err := Parse(geometry, 1.5)

			var parseErr *ParseError
			require.Error(t, err)
			assert.True(t, errors.As(err, &parseErr))
		})
	}
}

func TestParse_InvalidRatio(t *testing.T) {
	for _, ratio := range []float64{0, -1} {
		_, err := Parse("100", ratio)

		var parseErr *ParseError
		assert.ErrorAs(t, err, &parseErr)
	}
}

func TestParseRelative(t *testing.T) {
	base := Size{Width: 800, Height: 400}

	size, err := ParseRelative("50%", 2.0, base)
	require.NoError(t, err)
	assert.Equal(t, Size{400, 200}, size)

	size, err = ParseRelative("25%x50%", 2.0, base)
	require.NoError(t, err)
	assert.Equal(t, Size{200, 200}, size)

	size, err = ParseRelative("x25%", 2.0, base)
	require.NoError(t, err)
	assert.Equal(t, Size{200, 100}, size)
}

func TestParseCrop(t *testing.T) {
	img := Size{Width: 300, Height: 200}
	window := Size{Width: 100, Height: 100}

	tests := []struct {
		crop string
		x, y int
	}{
		{"center", 100, 50},
		{"top", 100, 0},
		{"bottom", 100, 100},
		{"left", 0, 50},
		{"right", 200, 50},
		{"left top", 0, 0},
		{"right bottom", 200, 100},
		{"10px 20px", 10, 20},
		{"0% 100%", 0, 100},
		{"30px", 30, 30},
		{"500px 0px", 200, 0},
		{"30px 150px", 30, 100},
		{"150% 0%", 200, 0},
	}

	for _, tt := range tests {
		t.Run(tt.crop, func(t *testing.T) {
			x, y, err := ParseCrop(tt.crop, img, window)
			require.NoError(t, err)
			assert.Equal(t, tt.x, x)
			assert.Equal(t, tt.y, y)
		})
	}
}

func TestParseCrop_Invalid(t *testing.T) {
	img := Size{Width: 300, Height: 200}
	window := Size{Width: 100, Height: 100}

	for _, crop := range []string{"middle", "-5px", "1 2 3", "10em 5px"} {
		_, _, err := ParseCrop(crop, img, window)
		assert.Error(t, err, crop)
	}
}

func TestParseCropBox(t *testing.T) {
	box, err := ParseCropBox("10, 20, 110, 70")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 20, 110, 70), box)

	for _, bad := range []string{"1,2,3", "a,b,c,d", "10,10,5,20", "0,0,0,0"} {
		_, err := ParseCropBox(bad)
		assert.Error(t, err, bad)
	}
}
