package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/querylens/querylens/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// bucketAPI is the subset of the MinIO client the store needs, scoped to one
// bucket.
type bucketAPI interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (storage.ObjectInfo, error)
	Remove(ctx context.Context, key string) error
	Exists(ctx context.Context) (bool, error)
	Create(ctx context.Context, region string) error
}

// Store is an S3-compatible storage.ObjectStore. Every key is placed under
// an optional prefix.
type Store struct {
	bucket bucketAPI
	prefix string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	store := &Store{bucket: &minioBucket{client: client, name: bucket}, prefix: cleanPrefix(cfg.Prefix)}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newWithBucket(bucket bucketAPI, prefix string) *Store {
	return &Store{bucket: bucket, prefix: cleanPrefix(prefix)}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	fullKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.bucket.Put(ctx, fullKey, body, size, opts)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", fullKey, err)
	}
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.bucket.Get(ctx, fullKey)
	if err != nil {
		return nil, wrapObjectErr("get", fullKey, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	fullKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.bucket.Stat(ctx, fullKey)
	if err != nil {
		return storage.ObjectInfo{}, wrapObjectErr("stat", fullKey, err)
	}
	return info, nil
}

// Delete succeeds when the object is already gone.
func (s *Store) Delete(ctx context.Context, key string) error {
	fullKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	if err := s.bucket.Remove(ctx, fullKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("delete object %q: %w", fullKey, err)
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.bucket.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.bucket.Create(ctx, region); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *Store) objectKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return path.Join(s.prefix, cleaned), nil
}

func wrapObjectErr(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("%s object %q: %w", op, key, storage.ErrObjectNotFound)
	}
	return fmt.Errorf("%s object %q: %w", op, key, err)
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if cleaned := path.Clean(prefix); cleaned != "." {
		return cleaned
	}
	return ""
}

// parseEndpoint accepts host:port or a URL. An https URL forces TLS.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("endpoint host is required")
	}
	return parsed.Host, useSSL || parsed.Scheme == "https", nil
}

type minioBucket struct {
	client *minio.Client
	name   string
}

func (b *minioBucket) Put(ctx context.Context, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	info, err := b.client.PutObject(ctx, b.name, key, reader, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return storage.ObjectInfo{
		Key:         info.Key,
		Size:        info.Size,
		ETag:        info.ETag,
		ContentType: opts.ContentType,
		Metadata:    lowerKeys(opts.Metadata),
	}, nil
}

func (b *minioBucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := b.client.GetObject(ctx, b.name, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, mapMinioErr(err)
	}
	return object, nil
}

func (b *minioBucket) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	info, err := b.client.StatObject(ctx, b.name, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return storage.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		Metadata:     lowerKeys(info.UserMetadata),
	}, nil
}

// lowerKeys normalizes user metadata, which S3 returns in canonical header
// case.
func lowerKeys(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	normalized := make(map[string]string, len(metadata))
	for key, value := range metadata {
		normalized[strings.ToLower(key)] = value
	}
	return normalized
}

func (b *minioBucket) Remove(ctx context.Context, key string) error {
	return mapMinioErr(b.client.RemoveObject(ctx, b.name, key, minio.RemoveObjectOptions{}))
}

func (b *minioBucket) Exists(ctx context.Context) (bool, error) {
	exists, err := b.client.BucketExists(ctx, b.name)
	return exists, mapMinioErr(err)
}

func (b *minioBucket) Create(ctx context.Context, region string) error {
	return mapMinioErr(b.client.MakeBucket(ctx, b.name, minio.MakeBucketOptions{Region: region}))
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return storage.ErrObjectNotFound
	}
	return err
}
