package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3 stores objects in an S3 (or S3 compatible) bucket.
type S3 struct {
	client s3iface.S3API
	bucket string
	prefix string
}

func NewS3(client s3iface.S3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// NewS3FromConfig opens a session from cfg. Static credentials are used
// when both keys are set, the default AWS chain otherwise.
func NewS3FromConfig(cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 storage requires a bucket")
	}

	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		)
	}
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

func (s *S3) Name() string {
	return KindS3 + ":" + path.Join(s.bucket, s.prefix)
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if isS3NotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "exists", Name: name, Err: err}
	}
	return true, nil
}

func (s *S3) Open(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if isS3NotFound(err) {
		return nil, &Error{Op: "open", Name: name, Err: ErrNotExist}
	}
	if err != nil {
		return nil, &Error{Op: "open", Name: name, Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Op: "open", Name: name, Err: err}
	}
	return data, nil
}

func (s *S3) Save(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return &Error{Op: "save", Name: name, Err: err}
	}
	return nil
}

// Delete relies on S3 treating deletes of missing keys as success.
func (s *S3) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && !isS3NotFound(err) {
		return &Error{Op: "delete", Name: name, Err: err}
	}
	return nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}

	switch aerr.Code() {
	case "NotFound", s3.ErrCodeNoSuchKey:
		return true
	}
	return false
}
