package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giobyte8/thumbcache/internal/engine"
	"github.com/giobyte8/thumbcache/internal/geometry"
	"github.com/giobyte8/thumbcache/internal/kvstore"
	"github.com/giobyte8/thumbcache/internal/models"
	"github.com/giobyte8/thumbcache/internal/options"
	"github.com/giobyte8/thumbcache/internal/storage"
	"github.com/giobyte8/thumbcache/internal/telemetry"
	"github.com/giobyte8/thumbcache/internal/telemetry/metrics"
)

// countingEngine records how often images are decoded and encoded.
type countingEngine struct {
	engine.Engine

	mu      sync.Mutex
	decodes int
	encodes int
}

func (c *countingEngine) Decode(data []byte, name string) (engine.Image, error) {
	c.mu.Lock()
	c.decodes++
	c.mu.Unlock()
	return c.Engine.Decode(data, name)
}

func (c *countingEngine) Encode(img engine.Image, format string, quality int, progressive bool) ([]byte, error) {
	c.mu.Lock()
	c.encodes++
	c.mu.Unlock()
	return c.Engine.Encode(img, format, quality, progressive)
}

type recordingMetrics struct {
	metrics.NoopMetricsSvc

	mu     sync.Mutex
	counts map[metrics.MetricName]int
}

func (r *recordingMetrics) Increment(metric metrics.MetricName) {
	r.IncrementWAttrs(metric, nil)
}

func (r *recordingMetrics) IncrementWAttrs(metric metrics.MetricName, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[metric]++
}

func (r *recordingMetrics) Observe(metric metrics.MetricName, _ float64, _ map[string]string) {
	r.IncrementWAttrs(metric, nil)
}

func (r *recordingMetrics) count(metric metrics.MetricName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[metric]
}

type fixture struct {
	svc     *ThumbnailsService
	engine  *countingEngine
	backend *kvstore.MemoryBackend
	sources *storage.FileSystem
	thumbs  *storage.FileSystem
	metrics *recordingMetrics
}

func newFixture(t *testing.T, placeholder bool) *fixture {
	t.Helper()

	sources, err := storage.NewFileSystem(t.TempDir())
	require.NoError(t, err)
	thumbs, err := storage.NewFileSystem(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		engine:  &countingEngine{Engine: engine.NewImagingEngine()},
		backend: kvstore.NewMemoryBackend(),
		sources: sources,
		thumbs:  thumbs,
		metrics: &recordingMetrics{counts: make(map[metrics.MetricName]int)},
	}

	f.svc = NewThumbnailsService(
		ThumbnailsConfig{
			Defaults:           options.NewDefaults(),
			PlaceholderEnabled: placeholder,
		},
		f.engine,
		kvstore.New(f.backend, "test"),
		sources,
		thumbs,
		telemetry.NewTelemetrySvcWith(f.metrics),
	)
	return f
}

func (f *fixture) putPNG(t *testing.T, name string, w, h int) {
	t.Helper()

	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	require.NoError(t, f.sources.Save(context.Background(), name, buf.Bytes()))
}

func (f *fixture) kvKeys(t *testing.T) []string {
	t.Helper()

	found, err := f.backend.FindKeys(context.Background(), "")
	require.NoError(t, err)
	return found
}

func (f *fixture) thumbSize(t *testing.T, name string) geometry.Size {
	t.Helper()

	data, err := f.thumbs.Open(context.Background(), name)
	require.NoError(t, err)
	img, err := f.engine.Engine.Decode(data, name)
	require.NoError(t, err)
	w, h := f.engine.Engine.Size(img)
	return geometry.Size{Width: w, Height: h}
}

func TestGetThumbnail_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.putPNG(t, "albums/beach.png", 400, 200)

	first, err := f.svc.GetThumbnail(ctx, "albums/beach.png", "100x100", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.Name, "cache/"))
	assert.True(t, strings.HasSuffix(first.Name, ".jpg"))
	assert.Equal(t, engine.FormatJPEG, first.Format)
	assert.Equal(t, geometry.Size{Width: 100, Height: 50}, first.Size)
	assert.Equal(t, geometry.Size{Width: 100, Height: 50}, f.thumbSize(t, first.Name))

	second, err := f.svc.GetThumbnail(ctx, "albums/beach.png", "100x100", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.engine.encodes)
	assert.Equal(t, 1, f.metrics.count(metrics.ThumbCreated))
	assert.Equal(t, 1, f.metrics.count(metrics.ThumbCacheHit))
	assert.Equal(t, 1, f.metrics.count(metrics.ThumbRenderDuration))
}

func TestGetThumbnail_RecordsSourceAndThumbnail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.putPNG(t, "a.png", 40, 20)

	thumb, err := f.svc.GetThumbnail(ctx, "a.png", "10", nil)
	require.NoError(t, err)

	source := models.NewSourceImage("a.png", f.sources.Name())
	store := kvstore.New(f.backend, "test")

	entry, err := store.Get(ctx, source.Key())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, geometry.Size{Width: 40, Height: 20}, entry.Size)

	thumbs, err := store.Thumbnails(ctx, source.Key())
	require.NoError(t, err)
	require.Len(t, thumbs, 1)
	assert.Equal(t, thumb.Name, thumbs[0].Name)
}

func TestGetThumbnail_OptionsChangeName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.putPNG(t, "a.png", 40, 20)

	base, err := f.svc.GetThumbnail(ctx, "a.png", "10x10", nil)
	require.NoError(t, err)

	for _, opts := range []options.Options{
		{options.Quality: 50},
		{options.Crop: "center"},
		{options.Colorspace: "GRAY"},
		{options.Format: "PNG"},
		{options.Progressive: false},
	} {
		other, err := f.svc.GetThumbnail(ctx, "a.png", "10x10", opts)
		require.NoError(t, err)
		assert.NotEqual(t, base.Name, other.Name, "%v", opts)
	}

	other, err := f.svc.GetThumbnail(ctx, "a.png", "10x11", nil)
	require.NoError(t, err)
	assert.NotEqual(t, base.Name, other.Name)

	// Explicit defaults produce the same key as omitted ones
	same, err := f.svc.GetThumbnail(ctx, "a.png", "10x10", options.Options{options.Quality: 95.0})
	require.NoError(t, err)
	assert.Equal(t, base.Name, same.Name)
}

func TestGetThumbnail_CaseInsensitiveOptionsShareName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.putPNG(t, "a.png", 40, 20)

	lower, err := f.svc.GetThumbnail(ctx, "a.png", "10x10", options.Options{
		options.Format:     "png",
		options.Colorspace: "gray",
	})
	require.NoError(t, err)

	upper, err := f.svc.GetThumbnail(ctx, "a.png", "10x10", options.Options{
		options.Format:     "PNG",
		options.Colorspace: "GRAY",
	})
	require.NoError(t, err)

	assert.Equal(t, lower.Name, upper.Name)
	assert.Equal(t, "PNG", upper.Format)
	assert.Equal(t, 1, f.engine.encodes)
}

func TestGetThumbnail_KeepsGIFFormat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	g := &gif.GIF{}
	for i := 0; i < 2; i++ {
		g.Image = append(g.Image, image.NewPaletted(image.Rect(0, 0, 20, 20), palette.Plan9))
		g.Delay = append(g.Delay, 5)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	require.NoError(t, f.sources.Save(ctx, "anim.GIF", buf.Bytes()))

	thumb, err := f.svc.GetThumbnail(ctx, "anim.GIF", "10", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.FormatGIF, thumb.Format)
	assert.True(t, strings.HasSuffix(thumb.Name, ".gif"))

	data, err := f.thumbs.Open(ctx, thumb.Name)
	require.NoError(t, err)
	out, err := gif.DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, out.Image, 2)
}

func TestGetThumbnail_AlternativeResolutions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.putPNG(t, "a.png", 400, 200)

	thumb, err := f.svc.GetThumbnail(ctx, "a.png", "200x100", options.Options{
		options.AlternativeResolutions: []float64{0.5, 2},
	})
	require.NoError(t, err)

	require.Len(t, thumb.Variants, 2)
	assert.Contains(t, thumb.Variants[0], "@0.5x.jpg")
	assert.Contains(t, thumb.Variants[1], "@2x.jpg")

	assert.Equal(t, geometry.Size{Width: 200, Height: 100}, f.thumbSize(t, thumb.Name))
	assert.Equal(t, geometry.Size{Width: 100, Height: 50}, f.thumbSize(t, thumb.Variants[0]))
	assert.Equal(t, geometry.Size{Width: 400, Height: 200}, f.thumbSize(t, thumb.Variants[1]))

	// One decode serves the primary and every variant
	assert.Equal(t, 1, f.engine.decodes)
}

func TestGetThumbnail_AdoptsExistingFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.putPNG(t, "a.png", 400, 200)

	first, err := f.svc.GetThumbnail(ctx, "a.png", "100", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Clear(ctx))
	assert.Empty(t, f.kvKeys(t))

	second, err := f.svc.GetThumbnail(ctx, "a.png", "100", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.engine.encodes)
	assert.NotEmpty(t, f.kvKeys(t))
}

func TestGetThumbnail_Placeholder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	require.NoError(t, f.sources.Save(ctx, "broken.jpg", []byte("not an image at all")))

	for _, ref := range []string{"broken.jpg", "missing.jpg"} {
		thumb, err := f.svc.GetThumbnail(ctx, ref, "150", nil)
		require.NoError(t, err, ref)

		assert.True(t, thumb.Placeholder, ref)
		assert.Equal(t, geometry.Size{Width: 150, Height: 100}, thumb.Size, ref)
		assert.Equal(t, "https://dummyimage.com/150x100", thumb.URL, ref)
	}

	assert.Empty(t, f.kvKeys(t))
	assert.Equal(t, 0, f.engine.encodes)
	assert.Equal(t, 2, f.metrics.count(metrics.ThumbPlaceholderServed))
}

func TestGetThumbnail_PlaceholderDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	require.NoError(t, f.sources.Save(ctx, "broken.jpg", []byte("not an image at all")))

	_, err := f.svc.GetThumbnail(ctx, "broken.jpg", "150", nil)
	assert.ErrorIs(t, err, engine.ErrUnreadableImage)

	_, err = f.svc.GetThumbnail(ctx, "missing.jpg", "150", nil)
	assert.ErrorIs(t, err, storage.ErrNotExist)

	assert.Empty(t, f.kvKeys(t))
}

func TestGetThumbnail_InvalidGeometry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.putPNG(t, "a.png", 40, 20)

	_, err := f.svc.GetThumbnail(ctx, "a.png", "abc", nil)
	var perr *geometry.ParseError
	assert.ErrorAs(t, err, &perr)

	_, err = f.svc.GetThumbnail(ctx, "a.png", "10", options.Options{options.Format: "TIFF"})
	assert.Error(t, err)
}

func TestDelete_KeepsBytes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.putPNG(t, "a.png", 40, 20)

	thumb, err := f.svc.GetThumbnail(ctx, "a.png", "10", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "a.png", false))
	assert.Empty(t, f.kvKeys(t))

	ok, err := f.sources.Exists(ctx, "a.png")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.thumbs.Exists(ctx, thumb.Name)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.svc.Delete(ctx, "a.png", false))
}

func TestDelete_RemovesFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.putPNG(t, "a.png", 40, 20)

	thumb, err := f.svc.GetThumbnail(ctx, "a.png", "10", options.Options{
		options.AlternativeResolutions: []float64{2},
	})
	require.NoError(t, err)
	require.Len(t, thumb.Variants, 1)

	require.NoError(t, f.svc.Delete(ctx, "a.png", true))
	assert.Empty(t, f.kvKeys(t))

	for _, name := range []string{thumb.Name, thumb.Variants[0]} {
		ok, err := f.thumbs.Exists(ctx, name)
		require.NoError(t, err)
		assert.False(t, ok, name)
	}
	ok, err := f.sources.Exists(ctx, "a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.svc.Delete(ctx, "a.png", true))
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.putPNG(t, "a.png", 40, 20)

	thumb, err := f.svc.GetThumbnail(ctx, "a.png", "10", nil)
	require.NoError(t, err)
	require.NoError(t, f.thumbs.Delete(ctx, thumb.Name))

	removed, err := f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Only the source entry survives
	assert.Len(t, f.kvKeys(t), 1)

	// A fresh request renders again
	_, err = f.svc.GetThumbnail(ctx, "a.png", "10", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.engine.encodes)
}

func TestProcessRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.putPNG(t, "a.png", 40, 20)

	thumb, err := f.svc.ProcessGenRequest(ctx, models.ThumbRequest{
		FilePath: "a.png",
		Geometry: "20",
		Options:  map[string]any{"crop": "center", "quality": float64(80)},
	})
	require.NoError(t, err)
	assert.Equal(t, geometry.Size{Width: 20, Height: 10}, thumb.Size)

	_, err = f.svc.ProcessGenRequest(ctx, models.ThumbRequest{FilePath: "a.png"})
	assert.Error(t, err)

	require.NoError(t, f.svc.ProcessDelRequest(ctx, models.ThumbDelRequest{FilePath: "a.png"}))
	assert.Empty(t, f.kvKeys(t))

	assert.Error(t, f.svc.ProcessDelRequest(ctx, models.ThumbDelRequest{}))
}
