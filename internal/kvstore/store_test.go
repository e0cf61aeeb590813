package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giobyte8/thumbcache/internal/geometry"
)

// backends returns one fresh instance of every Backend implementation.
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	mr := miniredis.RunT(t)
	redisBackend := NewRedisBackend(mr.Addr())
	t.Cleanup(func() { _ = redisBackend.Close() })

	diskvBackend, err := NewDiskvBackend(t.TempDir(), datasize.MB)
	require.NoError(t, err)

	return map[string]Backend{
		BackendMemory: NewMemoryBackend(),
		BackendRedis:  redisBackend,
		BackendDiskv:  diskvBackend,
	}
}

func source() *Entry {
	return &Entry{
		Name:    "albums/2024/beach.jpg",
		Storage: "fs",
		Size:    geometry.Size{Width: 4000, Height: 3000},
	}
}

func thumb(name string) *Entry {
	return &Entry{
		Name:    name,
		Storage: "fs",
		Size:    geometry.Size{Width: 100, Height: 75},
		Format:  "JPEG",
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, "test")
			entry := thumb("cache/ab/cd/abcd.jpg")
			entry.Variants = []string{"cache/ab/cd/abcd@2x.jpg"}

			got, err := s.Get(ctx, entry.Key())
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, s.Set(ctx, entry, nil))

			got, err = s.Get(ctx, entry.Key())
			require.NoError(t, err)
			assert.Equal(t, entry, got)

			require.NoError(t, s.Delete(ctx, entry.Key()))
			require.NoError(t, s.Delete(ctx, entry.Key()))

			got, err = s.Get(ctx, entry.Key())
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStore_GetOrSet(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, "test")
			src := source()
			builds := 0

			build := func() (*Entry, error) {
				builds++
				return src, nil
			}

			got, err := s.GetOrSet(ctx, src.Key(), build)
			require.NoError(t, err)
			assert.Equal(t, src, got)

			got, err = s.GetOrSet(ctx, src.Key(), build)
			require.NoError(t, err)
			assert.Equal(t, src, got)
			assert.Equal(t, 1, builds)

			boom := errors.New("boom")
			_, err = s.GetOrSet(ctx, "missing", func() (*Entry, error) { return nil, boom })
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestStore_GetOrSetConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), "test")

	var wg sync.WaitGroup
	results := make([]*Entry, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			e := source()
			e.Size.Width = i + 1
			got, err := s.GetOrSet(ctx, e.Key(), func() (*Entry, error) { return e, nil })
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestStore_ThumbnailsIndex(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, "test")
			src := source()
			a := thumb("cache/aa/aa/aaaa.jpg")
			b := thumb("cache/bb/bb/bbbb.jpg")

			require.NoError(t, s.Set(ctx, src, nil))
			require.NoError(t, s.Set(ctx, a, src))
			require.NoError(t, s.Set(ctx, b, src))
			require.NoError(t, s.Set(ctx, b, src))

			thumbs, err := s.Thumbnails(ctx, src.Key())
			require.NoError(t, err)
			assert.ElementsMatch(t, []*Entry{a, b}, thumbs)

			removed, err := s.DeleteThumbnails(ctx, src.Key())
			require.NoError(t, err)
			assert.ElementsMatch(t, []*Entry{a, b}, removed)

			got, err := s.Get(ctx, a.Key())
			require.NoError(t, err)
			assert.Nil(t, got)

			thumbs, err = s.Thumbnails(ctx, src.Key())
			require.NoError(t, err)
			assert.Empty(t, thumbs)

			// Source entry untouched
			got, err = s.Get(ctx, src.Key())
			require.NoError(t, err)
			assert.Equal(t, src, got)
		})
	}
}

func TestStore_ThumbnailsIndexSharedBackend(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		if _, ok := backend.(SetBackend); !ok {
			continue
		}

		t.Run(name, func(t *testing.T) {
			// Two stores stand for two processes sharing the backend
			stores := []*Store{New(backend, "test"), New(backend, "test")}
			src := source()
			require.NoError(t, stores[0].Set(ctx, src, nil))

			var wg sync.WaitGroup
			want := make([]*Entry, 20)
			for i := range want {
				want[i] = thumb(fmt.Sprintf("cache/%02d/%02d/thumb%02d.jpg", i, i, i))

				wg.Add(1)
				go func(s *Store, e *Entry) {
					defer wg.Done()
					assert.NoError(t, s.Set(ctx, e, src))
				}(stores[i%len(stores)], want[i])
			}
			wg.Wait()

			thumbs, err := stores[1].Thumbnails(ctx, src.Key())
			require.NoError(t, err)
			assert.ElementsMatch(t, want, thumbs)
		})
	}
}

func TestStore_Cleanup(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, "test")
			src := source()
			kept := thumb("cache/aa/aa/aaaa.jpg")
			gone := thumb("cache/bb/bb/bbbb.jpg")

			require.NoError(t, s.Set(ctx, src, nil))
			require.NoError(t, s.Set(ctx, kept, src))
			require.NoError(t, s.Set(ctx, gone, src))

			removed, err := s.Cleanup(ctx, func(_ context.Context, e *Entry) (bool, error) {
				return e.Name != gone.Name, nil
			})
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			thumbs, err := s.Thumbnails(ctx, src.Key())
			require.NoError(t, err)
			assert.Equal(t, []*Entry{kept}, thumbs)

			keys, err := backend.FindKeys(ctx, "test||thumbnails||")
			require.NoError(t, err)
			assert.Len(t, keys, 1)
		})
	}
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, "test")
			other := New(backend, "other")
			src := source()

			require.NoError(t, s.Set(ctx, src, nil))
			require.NoError(t, s.Set(ctx, thumb("cache/aa/aa/aaaa.jpg"), src))
			require.NoError(t, other.Set(ctx, src, nil))

			require.NoError(t, s.Clear(ctx))

			keys, err := backend.FindKeys(ctx, "")
			require.NoError(t, err)
			sort.Strings(keys)
			assert.Equal(t, []string{"other||image||" + src.Key()}, keys)
		})
	}
}

func TestBackend_SetRawIfAbsent(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := backend.SetRawIfAbsent(ctx, "k/with/slashes", []byte("one"))
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = backend.SetRawIfAbsent(ctx, "k/with/slashes", []byte("two"))
			require.NoError(t, err)
			assert.False(t, ok)

			v, found, err := backend.GetRaw(ctx, "k/with/slashes")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("one"), v)
		})
	}
}

func TestOpenBackend(t *testing.T) {
	b, err := OpenBackend(BackendConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = OpenBackend(BackendConfig{Kind: BackendDiskv, DiskvDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &DiskvBackend{}, b)

	_, err = OpenBackend(BackendConfig{Kind: "etcd"})
	assert.Error(t, err)
}

func TestEscapePattern(t *testing.T) {
	assert.Equal(t, `a\*b\?\[c\]`, escapePattern("a*b?[c]"))
}
