package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/foldervault/foldervault/internal/drive"
)

// S3Options configures an S3 store.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// S3 stores blobs as objects in one bucket of an S3-compatible service.
type S3 struct {
	client *minio.Client
	bucket string
}

var _ drive.BlobStore = (*S3)(nil)

// NewS3 connects to the endpoint and creates the bucket if it does not exist.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}
	return &S3{client: client, bucket: opts.Bucket}, nil
}

// Put uploads r as the object key. A negative size streams with multipart upload.
func (s *S3) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if size < 0 {
		size = -1
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return drive.E(drive.KindStorageFailure, "put blob", err)
	}
	return nil
}

// Open returns the object body. The object is stat'ed first so a missing key fails here
// rather than on the first read.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify("open blob", err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s.classify("open blob", err)
	}
	return obj, nil
}

// Delete removes the object. S3 treats a missing key as success.
func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return drive.E(drive.KindStorageFailure, "delete blob", err)
	}
	return nil
}

// SignedURL returns a presigned GET URL valid for ttl.
func (s *S3) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return "", s.classify("sign blob url", err)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", drive.E(drive.KindStorageFailure, "sign blob url", err)
	}
	return u.String(), nil
}

func (s *S3) classify(op string, err error) error {
	if isNoSuchKey(err) {
		return drive.ErrBlobNotFound
	}
	return drive.E(drive.KindStorageFailure, op, err)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == minio.NoSuchKey || resp.StatusCode == http.StatusNotFound
}
