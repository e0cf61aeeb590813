package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/giobyte8/thumbcache/internal/engine"
	"github.com/giobyte8/thumbcache/internal/geometry"
	"github.com/giobyte8/thumbcache/internal/keys"
	"github.com/giobyte8/thumbcache/internal/kvstore"
	"github.com/giobyte8/thumbcache/internal/models"
	"github.com/giobyte8/thumbcache/internal/options"
	"github.com/giobyte8/thumbcache/internal/storage"
	"github.com/giobyte8/thumbcache/internal/telemetry"
	"github.com/giobyte8/thumbcache/internal/telemetry/metrics"
)

// AutoFormats lists source extensions whose format is kept when the
// caller does not ask for one.
var AutoFormats = map[string]string{
	"gif": engine.FormatGIF,
}

const (
	DefaultPrefix            = "cache"
	DefaultPlaceholderSource = "https://dummyimage.com/{width}x{height}"
	DefaultPlaceholderRatio  = 1.5
)

type ThumbnailsConfig struct {
	Defaults options.Defaults

	// Prefix is the directory thumbnails are written under.
	Prefix string

	// When enabled, unreadable or missing sources produce a placeholder
	// pointing at PlaceholderSource instead of an error.
	PlaceholderEnabled bool
	PlaceholderSource  string
	PlaceholderRatio   float64
}

type ThumbnailsService struct {
	config    ThumbnailsConfig
	engine    engine.Engine
	kv        *kvstore.Store
	sources   storage.Storage
	thumbs    storage.Storage
	telemetry *telemetry.TelemetrySvc
}

func NewThumbnailsService(
	config ThumbnailsConfig,
	eng engine.Engine,
	kv *kvstore.Store,
	sources storage.Storage,
	thumbs storage.Storage,
	telemetry *telemetry.TelemetrySvc,
) *ThumbnailsService {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.PlaceholderSource == "" {
		config.PlaceholderSource = DefaultPlaceholderSource
	}
	if config.PlaceholderRatio <= 0 {
		config.PlaceholderRatio = DefaultPlaceholderRatio
	}

	return &ThumbnailsService{
		config:    config,
		engine:    eng,
		kv:        kv,
		sources:   sources,
		thumbs:    thumbs,
		telemetry: telemetry,
	}
}

// GetThumbnail returns the thumbnail of the source named ref for
// geometry and opts, rendering it on the first request.
func (s *ThumbnailsService) GetThumbnail(
	ctx context.Context,
	ref string,
	geom string,
	opts options.Options,
) (*models.Thumbnail, error) {
	if ref == "" {
		return nil, errors.New("source reference cannot be empty")
	}

	opts = s.resolveOptions(ref, opts)
	source := models.NewSourceImage(ref, s.sources.Name())

	name, err := s.thumbnailName(source, geom, opts)
	if err != nil {
		return nil, err
	}
	thumb := &models.Thumbnail{
		Name:    name,
		Storage: s.thumbs.Name(),
		Format:  opts.Format(),
	}

	cached, err := s.kv.Get(ctx, thumb.Key())
	if err != nil {
		return nil, err
	}
	if cached != nil {
		s.telemetry.Metrics().Increment(metrics.ThumbCacheHit)
		return fromEntry(cached), nil
	}

	// Best effort: concurrent first requests may both render.
	exists, err := s.thumbs.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		slog.Debug("Adopting existing thumbnail", "name", name, "source", ref)
		if err := s.adoptExisting(ctx, source, thumb, opts); err != nil {
			return nil, err
		}
	} else {
		img, err := s.decodeSource(ctx, source)
		if s.placeholderApplies(err) {
			return s.placeholder(ref, geom, opts)
		}
		if err != nil {
			return nil, err
		}

		if err := s.createThumbnail(ctx, img, geom, opts, thumb); err != nil {
			return nil, err
		}
	}

	sourceEntry, err := s.kv.GetOrSet(ctx, source.Key(), func() (*kvstore.Entry, error) {
		size, err := source.ResolveSize(func() (geometry.Size, error) {
			img, err := s.decodeSource(ctx, source)
			if err != nil {
				return geometry.Size{}, err
			}
			w, h := s.engine.Size(img)
			return geometry.Size{Width: w, Height: h}, nil
		})
		if err != nil {
			return nil, err
		}
		return &kvstore.Entry{Name: source.Name, Storage: source.Storage, Size: size}, nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.kv.Set(ctx, toEntry(thumb), sourceEntry); err != nil {
		return nil, err
	}
	return thumb, nil
}

// resolveOptions picks the output format, merges the defaults and
// normalizes case-insensitive values.
func (s *ThumbnailsService) resolveOptions(ref string, opts options.Options) options.Options {
	resolved := opts.Clone()

	if resolved.Format() == "" {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(ref), "."))
		if format, ok := AutoFormats[ext]; ok {
			resolved[options.Format] = format
		} else {
			resolved[options.Format] = s.config.Defaults.Format
		}
	}

	merged := s.config.Defaults.Merge(resolved)

	// "png" and "PNG" render the same bytes and must share a key
	merged[options.Format] = merged.Format()
	merged[options.Colorspace] = merged.Colorspace()
	return merged
}

func (s *ThumbnailsService) thumbnailName(
	source *models.SourceImage,
	geom string,
	opts options.Options,
) (string, error) {
	ext, err := keys.Extension(opts.Format())
	if err != nil {
		return "", err
	}

	key := keys.Derive(source.Key(), geom, keys.Serialize(opts))
	return keys.ThumbnailName(s.config.Prefix, key, ext), nil
}

func (s *ThumbnailsService) decodeSource(
	ctx context.Context,
	source *models.SourceImage,
) (engine.Image, error) {
	data, err := s.sources.Open(ctx, source.Name)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	img, err := s.engine.Decode(data, source.Name)
	if err != nil {
		return nil, err
	}
	s.telemetry.Metrics().Observe(metrics.SourceDecodeDuration, time.Since(started).Seconds(), nil)

	w, h := s.engine.Size(img)
	source.SetSize(geometry.Size{Width: w, Height: h})
	return img, nil
}

func (s *ThumbnailsService) placeholderApplies(err error) bool {
	if err == nil || !s.config.PlaceholderEnabled {
		return false
	}
	return errors.Is(err, engine.ErrUnreadableImage) || errors.Is(err, storage.ErrNotExist)
}

// placeholder builds a stand-in record. Neither storage nor the
// key-value store is touched.
func (s *ThumbnailsService) placeholder(
	ref string,
	geom string,
	opts options.Options,
) (*models.Thumbnail, error) {
	size, err := geometry.Parse(geom, s.config.PlaceholderRatio)
	if err != nil {
		return nil, err
	}

	url := strings.NewReplacer(
		"{width}", strconv.Itoa(size.Width),
		"{height}", strconv.Itoa(size.Height),
	).Replace(s.config.PlaceholderSource)

	slog.Warn("Serving placeholder for unreadable source", "source", ref, "url", url)
	s.telemetry.Metrics().Increment(metrics.ThumbPlaceholderServed)

	return &models.Thumbnail{
		Name:        url,
		Format:      opts.Format(),
		Size:        size,
		Placeholder: true,
		URL:         url,
	}, nil
}

// createThumbnail renders the primary thumbnail and its alternative
// resolutions from one decoded source.
func (s *ThumbnailsService) createThumbnail(
	ctx context.Context,
	img engine.Image,
	geom string,
	opts options.Options,
	thumb *models.Thumbnail,
) error {
	target, err := engine.Target(s.engine, img, geom, opts)
	if err != nil {
		return err
	}

	size, err := s.render(ctx, img, target, opts, thumb.Name)
	if err != nil {
		return err
	}
	thumb.Size = size

	s.telemetry.Metrics().IncrementWAttrs(metrics.ThumbCreated, map[string]string{
		"format": thumb.Format,
	})

	for _, ratio := range opts.AlternativeResolutions() {
		variant := geometry.Size{
			Width:  int(float64(target.Width) * ratio),
			Height: int(float64(target.Height) * ratio),
		}
		if variant.Width <= 0 || variant.Height <= 0 {
			slog.Warn("Skipping empty alternative resolution", "name", thumb.Name, "ratio", ratio)
			continue
		}

		name := keys.AlternativeName(thumb.Name, ratio)
		if _, err := s.render(ctx, img, variant, opts, name); err != nil {
			return fmt.Errorf("alternative resolution %vx: %w", ratio, err)
		}
		thumb.Variants = append(thumb.Variants, name)
	}

	return nil
}

// render writes one thumbnail file and returns its measured size.
func (s *ThumbnailsService) render(
	ctx context.Context,
	img engine.Image,
	target geometry.Size,
	opts options.Options,
	name string,
) (geometry.Size, error) {
	started := time.Now()
	out, err := engine.Render(s.engine, img, target, opts)
	if err != nil {
		return geometry.Size{}, err
	}

	data, err := s.engine.Encode(out, opts.Format(), opts.Quality(), opts.Progressive())
	if err != nil {
		return geometry.Size{}, err
	}
	s.telemetry.Metrics().Observe(
		metrics.ThumbRenderDuration,
		time.Since(started).Seconds(),
		map[string]string{"format": opts.Format()},
	)
	if err := s.thumbs.Save(ctx, name, data); err != nil {
		return geometry.Size{}, err
	}

	w, h := s.engine.Size(out)
	slog.Debug("Thumbnail written", "name", name, "width", w, "height", h, "bytes", len(data))
	return geometry.Size{Width: w, Height: h}, nil
}

// adoptExisting completes thumb from a file some earlier call wrote:
// the stored image is measured and variants present on storage are
// recorded.
func (s *ThumbnailsService) adoptExisting(
	ctx context.Context,
	source *models.SourceImage,
	thumb *models.Thumbnail,
	opts options.Options,
) error {
	data, err := s.thumbs.Open(ctx, thumb.Name)
	if err != nil {
		return err
	}
	img, err := s.engine.Decode(data, thumb.Name)
	if err != nil {
		return err
	}
	w, h := s.engine.Size(img)
	thumb.Size = geometry.Size{Width: w, Height: h}

	for _, ratio := range opts.AlternativeResolutions() {
		name := keys.AlternativeName(thumb.Name, ratio)
		ok, err := s.thumbs.Exists(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			thumb.Variants = append(thumb.Variants, name)
		}
	}
	return nil
}

// Delete forgets the source named ref and every thumbnail recorded for
// it. With deleteFile the bytes of the source, the thumbnails and their
// variants are removed as well. Deleting an unknown source is a no-op.
func (s *ThumbnailsService) Delete(ctx context.Context, ref string, deleteFile bool) error {
	source := models.NewSourceImage(ref, s.sources.Name())

	if deleteFile {
		thumbs, err := s.kv.Thumbnails(ctx, source.Key())
		if err != nil {
			return err
		}

		for _, entry := range thumbs {
			st := s.storageFor(entry.Storage)
			if st == nil {
				slog.Warn("Thumbnail lives in an unknown storage", "name", entry.Name, "storage", entry.Storage)
				continue
			}
			for _, name := range append([]string{entry.Name}, entry.Variants...) {
				if err := st.Delete(ctx, name); err != nil {
					return err
				}
			}
		}

		if err := s.sources.Delete(ctx, ref); err != nil {
			return err
		}
	}

	removed, err := s.kv.DeleteThumbnails(ctx, source.Key())
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, source.Key()); err != nil {
		return err
	}

	slog.Info("Source deleted", "source", ref, "thumbnails", len(removed), "deleteFile", deleteFile)
	s.telemetry.Metrics().Increment(metrics.SourceDeleted)
	return nil
}

// Cleanup removes key-value entries whose files no longer exist.
func (s *ThumbnailsService) Cleanup(ctx context.Context) (int, error) {
	removed, err := s.kv.Cleanup(ctx, func(ctx context.Context, entry *kvstore.Entry) (bool, error) {
		st := s.storageFor(entry.Storage)
		if st == nil {
			return true, nil
		}
		return st.Exists(ctx, entry.Name)
	})
	if err != nil {
		return removed, err
	}

	slog.Info("Key-value store cleanup finished", "removed", removed)
	return removed, nil
}

// Clear drops every key-value entry. Files are left untouched.
func (s *ThumbnailsService) Clear(ctx context.Context) error {
	return s.kv.Clear(ctx)
}

func (s *ThumbnailsService) storageFor(name string) storage.Storage {
	switch name {
	case s.thumbs.Name():
		return s.thumbs
	case s.sources.Name():
		return s.sources
	}
	return nil
}

func toEntry(t *models.Thumbnail) *kvstore.Entry {
	return &kvstore.Entry{
		Name:     t.Name,
		Storage:  t.Storage,
		Size:     t.Size,
		Format:   t.Format,
		Variants: t.Variants,
	}
}

func fromEntry(e *kvstore.Entry) *models.Thumbnail {
	return &models.Thumbnail{
		Name:     e.Name,
		Storage:  e.Storage,
		Format:   e.Format,
		Size:     e.Size,
		Variants: e.Variants,
	}
}
