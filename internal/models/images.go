package models

import (
	"github.com/giobyte8/thumbcache/internal/geometry"
	"github.com/giobyte8/thumbcache/internal/keys"
)

// SourceImage identifies an original image inside a storage backend.
// Its dimensions are resolved lazily and at most once.
type SourceImage struct {
	Name    string
	Storage string

	size *geometry.Size
}

func NewSourceImage(name, storage string) *SourceImage {
	return &SourceImage{Name: name, Storage: storage}
}

// Key identifies the source in the key-value store.
func (s *SourceImage) Key() string {
	return keys.Tokey(s.Name, s.Storage)
}

// Size returns the resolved dimensions, if any.
func (s *SourceImage) Size() (geometry.Size, bool) {
	if s.size == nil {
		return geometry.Size{}, false
	}
	return *s.size, true
}

// SetSize records the dimensions unless they are already known.
func (s *SourceImage) SetSize(size geometry.Size) {
	if s.size == nil {
		s.size = &size
	}
}

// ResolveSize returns the known dimensions or computes them with
// resolve, which runs at most once per instance.
func (s *SourceImage) ResolveSize(resolve func() (geometry.Size, error)) (geometry.Size, error) {
	if s.size != nil {
		return *s.size, nil
	}

	size, err := resolve()
	if err != nil {
		return geometry.Size{}, err
	}
	s.SetSize(size)
	return size, nil
}

// Thumbnail is a rendered (or placeholder) thumbnail.
type Thumbnail struct {
	Name    string        `json:"name"`
	Storage string        `json:"storage"`
	Format  string        `json:"format"`
	Size    geometry.Size `json:"size"`

	// Variants lists the alternative resolution files rendered next to
	// the primary one.
	Variants []string `json:"variants,omitempty"`

	// Placeholder is set when the source could not be read and a stand-in
	// was returned; URL then points at the placeholder image.
	Placeholder bool   `json:"placeholder,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Key identifies the thumbnail in the key-value store.
func (t *Thumbnail) Key() string {
	return keys.Tokey(t.Name, t.Storage)
}
