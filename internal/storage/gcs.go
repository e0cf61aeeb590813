package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket string
	prefix string
}

func NewGCS(client *gcs.Client, bucket, prefix string) *GCS {
	return &GCS{client: client, bucket: bucket, prefix: prefix}
}

// NewGCSFromConfig creates a client from a credentials file, or from
// application default credentials when none is set.
func NewGCSFromConfig(ctx context.Context, cfg Config) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("GCS storage requires a bucket")
	}

	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return NewGCS(client, cfg.Bucket, cfg.Prefix), nil
}

func (g *GCS) Name() string {
	return KindGCS + ":" + path.Join(g.bucket, g.prefix)
}

func (g *GCS) object(name string) *gcs.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(path.Join(g.prefix, name))
}

func (g *GCS) Exists(ctx context.Context, name string) (bool, error) {
	_, err := g.object(name).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "exists", Name: name, Err: err}
	}
	return true, nil
}

func (g *GCS) Open(ctx context.Context, name string) ([]byte, error) {
	reader, err := g.object(name).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, &Error{Op: "open", Name: name, Err: ErrNotExist}
	}
	if err != nil {
		return nil, &Error{Op: "open", Name: name, Err: err}
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &Error{Op: "open", Name: name, Err: err}
	}
	return data, nil
}

func (g *GCS) Save(ctx context.Context, name string, data []byte) error {
	writer := g.object(name).NewWriter(ctx)

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return &Error{Op: "save", Name: name, Err: err}
	}
	if err := writer.Close(); err != nil {
		return &Error{Op: "save", Name: name, Err: err}
	}
	return nil
}

func (g *GCS) Delete(ctx context.Context, name string) error {
	err := g.object(name).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return &Error{Op: "delete", Name: name, Err: err}
	}
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
