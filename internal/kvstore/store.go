package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/giobyte8/thumbcache/internal/geometry"
	"github.com/giobyte8/thumbcache/internal/keys"
)

const (
	DefaultPrefix = "thumbcache"

	kindImage      = "image"
	kindThumbnails = "thumbnails"
)

// Error reports a failed key-value store operation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("kvstore %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Entry is the record stored for every known image, source or
// thumbnail.
type Entry struct {
	Name     string        `json:"name"`
	Storage  string        `json:"storage"`
	Size     geometry.Size `json:"size"`
	Format   string        `json:"format,omitempty"`
	Variants []string      `json:"variants,omitempty"`
}

// Key identifies the entry, the same way models identify images.
func (e *Entry) Key() string {
	return keys.Tokey(e.Name, e.Storage)
}

// Store keeps image entries and the source to thumbnails index on top
// of a Backend. Raw keys look like <prefix>||image||<key> and
// <prefix>||thumbnails||<key>.
type Store struct {
	backend Backend
	prefix  string

	// Serializes read-modify-write of thumbnail lists within a process.
	// Unused when the backend keeps indexes as sets.
	indexMu sync.Mutex
}

func New(backend Backend, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{backend: backend, prefix: prefix}
}

func (s *Store) rawKey(kind, key string) string {
	return s.prefix + "||" + kind + "||" + key
}

// Get returns the entry stored under key, or nil when there is none.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	raw := s.rawKey(kindImage, key)

	data, ok, err := s.backend.GetRaw(ctx, raw)
	if err != nil {
		return nil, &Error{Op: "get", Key: raw, Err: err}
	}
	if !ok {
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, &Error{Op: "get", Key: raw, Err: err}
	}
	return &entry, nil
}

// Set stores entry. When source is given, entry is also recorded as one
// of its thumbnails.
func (s *Store) Set(ctx context.Context, entry *Entry, source *Entry) error {
	raw := s.rawKey(kindImage, entry.Key())

	data, err := json.Marshal(entry)
	if err != nil {
		return &Error{Op: "set", Key: raw, Err: err}
	}
	if err := s.backend.SetRaw(ctx, raw, data); err != nil {
		return &Error{Op: "set", Key: raw, Err: err}
	}

	if source == nil {
		return nil
	}
	return s.addThumbnail(ctx, source.Key(), entry.Key())
}

// GetOrSet returns the entry under key, building and storing it when
// absent. When two callers race, both get the entry that was stored
// first.
func (s *Store) GetOrSet(
	ctx context.Context,
	key string,
	build func() (*Entry, error),
) (*Entry, error) {
	entry, err := s.Get(ctx, key)
	if err != nil || entry != nil {
		return entry, err
	}

	entry, err = build()
	if err != nil {
		return nil, err
	}

	raw := s.rawKey(kindImage, key)
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, &Error{Op: "set", Key: raw, Err: err}
	}

	stored, err := s.backend.SetRawIfAbsent(ctx, raw, data)
	if err != nil {
		return nil, &Error{Op: "set", Key: raw, Err: err}
	}
	if stored {
		return entry, nil
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Deleted between the two calls, the fresh build is still valid
		return entry, nil
	}
	return existing, nil
}

// Delete removes the entry under key. The thumbnails index of a source
// is left alone, see DeleteThumbnails.
func (s *Store) Delete(ctx context.Context, key string) error {
	raw := s.rawKey(kindImage, key)
	if err := s.backend.DeleteRaw(ctx, raw); err != nil {
		return &Error{Op: "delete", Key: raw, Err: err}
	}
	return nil
}

// Thumbnails returns the entries recorded as thumbnails of sourceKey.
// Index items whose entry is gone are skipped.
func (s *Store) Thumbnails(ctx context.Context, sourceKey string) ([]*Entry, error) {
	thumbKeys, err := s.thumbnailKeys(ctx, sourceKey)
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	for _, key := range thumbKeys {
		entry, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// DeleteThumbnails removes every thumbnail entry of sourceKey together
// with the index and returns what was removed.
func (s *Store) DeleteThumbnails(ctx context.Context, sourceKey string) ([]*Entry, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	entries, err := s.Thumbnails(ctx, sourceKey)
	if err != nil {
		return nil, err
	}

	raws := make([]string, 0, len(entries)+1)
	for _, entry := range entries {
		raws = append(raws, s.rawKey(kindImage, entry.Key()))
	}
	raws = append(raws, s.rawKey(kindThumbnails, sourceKey))

	if err := s.backend.DeleteRaw(ctx, raws...); err != nil {
		return nil, &Error{Op: "delete", Key: s.rawKey(kindThumbnails, sourceKey), Err: err}
	}
	return entries, nil
}

// Cleanup drops entries whose backing file is gone and prunes the
// thumbnails index accordingly. It returns the number of removed
// entries.
func (s *Store) Cleanup(
	ctx context.Context,
	exists func(ctx context.Context, entry *Entry) (bool, error),
) (int, error) {
	imagePrefix := s.rawKey(kindImage, "")

	raws, err := s.backend.FindKeys(ctx, imagePrefix)
	if err != nil {
		return 0, &Error{Op: "cleanup", Key: imagePrefix, Err: err}
	}

	removed := 0
	for _, raw := range raws {
		entry, err := s.Get(ctx, strings.TrimPrefix(raw, imagePrefix))
		if err != nil {
			return removed, err
		}
		if entry == nil {
			continue
		}

		ok, err := exists(ctx, entry)
		if err != nil {
			return removed, err
		}
		if ok {
			continue
		}

		slog.Debug("Removing stale kvstore entry", "name", entry.Name, "storage", entry.Storage)
		if err := s.backend.DeleteRaw(ctx, raw); err != nil {
			return removed, &Error{Op: "cleanup", Key: raw, Err: err}
		}
		removed++
	}

	return removed, s.pruneIndexes(ctx)
}

// pruneIndexes drops index items pointing to missing entries.
func (s *Store) pruneIndexes(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	indexPrefix := s.rawKey(kindThumbnails, "")
	raws, err := s.backend.FindKeys(ctx, indexPrefix)
	if err != nil {
		return &Error{Op: "cleanup", Key: indexPrefix, Err: err}
	}

	for _, raw := range raws {
		sourceKey := strings.TrimPrefix(raw, indexPrefix)

		thumbKeys, err := s.thumbnailKeys(ctx, sourceKey)
		if err != nil {
			return err
		}

		var alive, dead []string
		for _, key := range thumbKeys {
			entry, err := s.Get(ctx, key)
			if err != nil {
				return err
			}
			if entry != nil {
				alive = append(alive, key)
			} else {
				dead = append(dead, key)
			}
		}

		if len(dead) == 0 {
			continue
		}
		if err := s.removeThumbnails(ctx, sourceKey, alive, dead); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every entry and index under the store prefix.
func (s *Store) Clear(ctx context.Context) error {
	prefix := s.prefix + "||"

	raws, err := s.backend.FindKeys(ctx, prefix)
	if err != nil {
		return &Error{Op: "clear", Key: prefix, Err: err}
	}
	if err := s.backend.DeleteRaw(ctx, raws...); err != nil {
		return &Error{Op: "clear", Key: prefix, Err: err}
	}

	slog.Info("Cleared kvstore", "prefix", s.prefix, "keys", len(raws))
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) addThumbnail(ctx context.Context, sourceKey, thumbKey string) error {
	raw := s.rawKey(kindThumbnails, sourceKey)

	if sets, ok := s.backend.(SetBackend); ok {
		if err := sets.AddToSet(ctx, raw, thumbKey); err != nil {
			return &Error{Op: "set", Key: raw, Err: err}
		}
		return nil
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	thumbKeys, err := s.thumbnailKeys(ctx, sourceKey)
	if err != nil {
		return err
	}
	if slices.Contains(thumbKeys, thumbKey) {
		return nil
	}

	return s.writeIndex(ctx, sourceKey, append(thumbKeys, thumbKey))
}

// removeThumbnails drops dead from the index of sourceKey, alive being
// what remains.
func (s *Store) removeThumbnails(ctx context.Context, sourceKey string, alive, dead []string) error {
	raw := s.rawKey(kindThumbnails, sourceKey)

	if sets, ok := s.backend.(SetBackend); ok {
		if err := sets.RemoveFromSet(ctx, raw, dead...); err != nil {
			return &Error{Op: "cleanup", Key: raw, Err: err}
		}
		return nil
	}

	if len(alive) == 0 {
		if err := s.backend.DeleteRaw(ctx, raw); err != nil {
			return &Error{Op: "cleanup", Key: raw, Err: err}
		}
		return nil
	}
	return s.writeIndex(ctx, sourceKey, alive)
}

func (s *Store) thumbnailKeys(ctx context.Context, sourceKey string) ([]string, error) {
	raw := s.rawKey(kindThumbnails, sourceKey)

	if sets, ok := s.backend.(SetBackend); ok {
		members, err := sets.SetMembers(ctx, raw)
		if err != nil {
			return nil, &Error{Op: "get", Key: raw, Err: err}
		}
		return members, nil
	}

	data, ok, err := s.backend.GetRaw(ctx, raw)
	if err != nil {
		return nil, &Error{Op: "get", Key: raw, Err: err}
	}
	if !ok {
		return nil, nil
	}

	var thumbKeys []string
	if err := json.Unmarshal(data, &thumbKeys); err != nil {
		return nil, &Error{Op: "get", Key: raw, Err: err}
	}
	return thumbKeys, nil
}

func (s *Store) writeIndex(ctx context.Context, sourceKey string, thumbKeys []string) error {
	raw := s.rawKey(kindThumbnails, sourceKey)

	data, err := json.Marshal(thumbKeys)
	if err != nil {
		return &Error{Op: "set", Key: raw, Err: err}
	}
	if err := s.backend.SetRaw(ctx, raw, data); err != nil {
		return &Error{Op: "set", Key: raw, Err: err}
	}
	return nil
}
