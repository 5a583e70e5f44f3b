package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"framestack/internal/config"
	"framestack/internal/models"
)

type ObjectStore struct {
	client *minio.Client
	cfg    config.StorageConfig
}

// Object is one listed blob.
type Object struct {
	Bucket       string
	Key          string
	Size         int64
	LastModified time.Time
}

func (o Object) Locator() models.Locator {
	return models.Locator{Bucket: o.Bucket, Key: o.Key}
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       useSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ObjectStore{
		client: client,
		cfg:    cfg,
	}, nil
}

// Bucket returns the bucket a variant is written to.
func (s *ObjectStore) Bucket(v models.Variant) string {
	return s.cfg.Buckets.For(v)
}

func (s *ObjectStore) Buckets() []string {
	return s.cfg.Buckets.All()
}

func (s *ObjectStore) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range s.Buckets() {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("bucket exists %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func (s *ObjectStore) Put(ctx context.Context, loc models.Locator, data []byte, contentType string) (int64, error) {
	info, err := s.client.PutObject(ctx, loc.Bucket, loc.Key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return 0, fmt.Errorf("put object %s: %w", loc, err)
	}
	return info.Size, nil
}

func (s *ObjectStore) Get(ctx context.Context, loc models.Locator) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", loc, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", loc, err)
	}
	return data, nil
}

// Exists stats the object. A missing key is (false, nil).
func (s *ObjectStore) Exists(ctx context.Context, loc models.Locator) (bool, error) {
	_, err := s.client.StatObject(ctx, loc.Bucket, loc.Key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", loc, err)
	}
	return true, nil
}

// Remove deletes the object. Removing a key that does not exist succeeds.
func (s *ObjectStore) Remove(ctx context.Context, loc models.Locator) error {
	if err := s.client.RemoveObject(ctx, loc.Bucket, loc.Key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", loc, err)
	}
	return nil
}

// Walk calls fn for every object in bucket until fn returns an error.
func (s *ObjectStore) Walk(ctx context.Context, bucket string, fn func(Object) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for info := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if info.Err != nil {
			return fmt.Errorf("list bucket %s: %w", bucket, info.Err)
		}
		if err := fn(Object{
			Bucket:       bucket,
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
		}); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// PresignGet returns a time-limited GET URL for the object.
func (s *ObjectStore) PresignGet(ctx context.Context, loc models.Locator, ttl time.Duration) (*url.URL, error) {
	u, err := s.client.PresignedGetObject(ctx, loc.Bucket, loc.Key, ttl, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", loc, err)
	}
	return u, nil
}

func (s *ObjectStore) Client() *minio.Client {
	return s.client
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound && errResp.Code != "NoSuchBucket"
	}
	return false
}
