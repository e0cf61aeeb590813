package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotExist is wrapped by every error reporting a missing object.
var ErrNotExist = errors.New("object does not exist")

// Error reports a failed storage operation on one object.
type Error struct {
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Storage reads and writes image bytes by name. Names are slash
// separated and relative to the storage root.
type Storage interface {
	// Name identifies the storage in cache keys, so it must stay stable
	// across restarts.
	Name() string

	Exists(ctx context.Context, name string) (bool, error)
	Open(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error

	// Delete removes name. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
}

const (
	KindFileSystem = "fs"
	KindS3         = "s3"
	KindGCS        = "gcs"
)

// Config selects and configures a Storage.
type Config struct {
	Kind string

	// Root is the base directory of the file system storage.
	Root string

	Bucket string
	Prefix string

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	GCSCredentialsFile string
}

// Open builds the storage named by cfg.Kind. An empty kind selects the
// file system.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	var (
		st  Storage
		err error
	)

	switch cfg.Kind {
	case "", KindFileSystem:
		st, err = NewFileSystem(cfg.Root)
	case KindS3:
		st, err = NewS3FromConfig(cfg)
	case KindGCS:
		st, err = NewGCSFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}

	if err != nil {
		return nil, err
	}
	return st, nil
}
