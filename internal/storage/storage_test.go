package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory and answers like S3 does for missing
// keys.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, awserr.New("NotFound", "Not Found", nil)
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func storages(t *testing.T) map[string]Storage {
	t.Helper()

	fsStorage, err := NewFileSystem(t.TempDir())
	require.NoError(t, err)

	return map[string]Storage{
		KindFileSystem: fsStorage,
		KindS3:         NewS3(newFakeS3(), "photos", "thumbs"),
	}
}

func TestStorage_Lifecycle(t *testing.T) {
	ctx := context.Background()

	for kind, s := range storages(t) {
		t.Run(kind, func(t *testing.T) {
			name := "cache/ab/cd/abcd.jpg"

			ok, err := s.Exists(ctx, name)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Open(ctx, name)
			assert.ErrorIs(t, err, ErrNotExist)

			require.NoError(t, s.Save(ctx, name, []byte("first")))
			require.NoError(t, s.Save(ctx, name, []byte("second")))

			ok, err = s.Exists(ctx, name)
			require.NoError(t, err)
			assert.True(t, ok)

			data, err := s.Open(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, []byte("second"), data)

			require.NoError(t, s.Delete(ctx, name))
			require.NoError(t, s.Delete(ctx, name))

			ok, err = s.Exists(ctx, name)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStorage_ErrorCarriesName(t *testing.T) {
	s, err := NewFileSystem(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open(context.Background(), "missing.png")

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "open", serr.Op)
	assert.Equal(t, "missing.png", serr.Name)
}

func TestFileSystem_RejectsEscapingNames(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSystem(filepath.Join(root, "inner"))
	require.NoError(t, err)

	for _, name := range []string{"../outside.jpg", "/etc/passwd", "", "a/../../b"} {
		err := s.Save(context.Background(), name, []byte("x"))
		assert.Error(t, err, name)
	}

	_, err = os.Stat(filepath.Join(root, "outside.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSystem_SaveLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSystem(root)
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), "a/b.png", []byte("x")))

	entries, err := os.ReadDir(filepath.Join(root, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.png", entries[0].Name())
}

func TestS3_KeysUsePrefix(t *testing.T) {
	client := newFakeS3()
	s := NewS3(client, "photos", "thumbs")

	require.NoError(t, s.Save(context.Background(), "x/y.jpg", []byte("data")))
	assert.Contains(t, client.objects, "photos/thumbs/x/y.jpg")
	assert.Equal(t, "s3:photos/thumbs", s.Name())
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	s, err := Open(context.Background(), Config{Root: root})
	require.NoError(t, err)
	assert.Equal(t, KindFileSystem+":"+root, s.Name())

	_, err = Open(context.Background(), Config{Kind: KindS3})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Kind: "ftp"})
	assert.Error(t, err)
}
