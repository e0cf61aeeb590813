package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/peterbourgon/diskv"
)

// DiskvBackend keeps one file per entry under a base directory, with a
// bounded in-memory read cache.
type DiskvBackend struct {
	// diskv has no compare-and-set, writes that must not race go
	// through mu.
	mu sync.Mutex
	db *diskv.Diskv
}

// NewDiskvBackend opens (or creates) a store rooted at dir.
func NewDiskvBackend(dir string, cacheSize datasize.ByteSize) (*DiskvBackend, error) {
	if dir == "" {
		return nil, errors.New("diskv backend requires a base directory")
	}
	if cacheSize == 0 {
		cacheSize = 4 * datasize.MB
	}

	db := diskv.New(diskv.Options{
		BasePath:     dir,
		Transform:    shardTail,
		CacheSizeMax: cacheSize.Bytes(),
	})

	return &DiskvBackend{db: db}, nil
}

// shardTail spreads files over two directory levels taken from the end
// of the key, where the hash part of every entry key lives.
func shardTail(key string) []string {
	if len(key) < 4 {
		return nil
	}
	tail := key[len(key)-4:]
	return []string{tail[:2], tail[2:]}
}

// Keys may contain path separators, so they are stored escaped.
func fileKey(key string) string {
	return url.PathEscape(key)
}

func (d *DiskvBackend) GetRaw(_ context.Context, key string) ([]byte, bool, error) {
	value, err := d.db.Read(fileKey(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (d *DiskvBackend) SetRaw(_ context.Context, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.db.Write(fileKey(key), value)
}

func (d *DiskvBackend) SetRawIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db.Has(fileKey(key)) {
		return false, nil
	}
	if err := d.db.Write(fileKey(key), value); err != nil {
		return false, err
	}
	return true, nil
}

func (d *DiskvBackend) DeleteRaw(_ context.Context, keys ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, k := range keys {
		err := d.db.Erase(fileKey(k))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// FindKeys walks every stored key. diskv resolves a key prefix through
// Transform, which does not hold for tail sharding, so filtering happens
// here.
func (d *DiskvBackend) FindKeys(ctx context.Context, prefix string) ([]string, error) {
	cancel := make(chan struct{})
	defer close(cancel)

	var found []string
	for escaped := range d.db.Keys(cancel) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key, err := url.PathUnescape(escaped)
		if err != nil {
			return nil, fmt.Errorf("unexpected file %q in diskv store: %w", escaped, err)
		}
		if strings.HasPrefix(key, prefix) {
			found = append(found, key)
		}
	}
	return found, nil
}

func (d *DiskvBackend) Close() error {
	return nil
}
