// Package storage keeps template images in an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ImageStore uploads and deletes template images in a MinIO bucket.
type ImageStore struct {
	client *minio.Client
	bucket string
	public string
}

// New connects to MinIO and makes sure the bucket exists. publicBaseURL is
// the externally reachable prefix under which stored objects are served,
// e.g. "https://cdn.example.com/formhub".
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket, publicBaseURL string, useSSL bool) (*ImageStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &ImageStore{
		client: client,
		bucket: bucket,
		public: strings.TrimSuffix(publicBaseURL, "/"),
	}, nil
}

// Put stores an image under the given object key and returns its public URL.
func (s *ImageStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.public + "/" + key, nil
}

// Delete removes the object behind a previously issued public URL. URLs
// that do not point into this store are ignored, so callers can pass
// whatever image reference a template carries.
func (s *ImageStore) Delete(ctx context.Context, imageURL string) error {
	key, ok := s.objectKey(imageURL)
	if !ok {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func (s *ImageStore) objectKey(imageURL string) (string, bool) {
	if imageURL == "" {
		return "", false
	}
	if strings.HasPrefix(imageURL, s.public+"/") {
		return strings.TrimPrefix(imageURL, s.public+"/"), true
	}
	// Fall back to matching on bucket-style paths for URLs issued before a
	// base-URL change.
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return "", false
	}
	path := strings.TrimPrefix(parsed.Path, "/")
	if strings.HasPrefix(path, s.bucket+"/") {
		return strings.TrimPrefix(path, s.bucket+"/"), true
	}
	return "", false
}
