package s3

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/thumby/internal/storage"
)

// Storage serves source images from an S3-compatible bucket using MinIO.
type Storage struct {
	client     *minio.Client
	bucketName string
	prefix     string
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// The bucket must already exist; the service never writes to it.
func NewStorage(ctx context.Context, endpoint, accessKey, secretKey, bucketName, prefix string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", bucketName)
	}

	return &Storage{
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
	}, nil
}

// Load retrieves the named object from the bucket and returns a reader.
func (s *Storage) Load(ctx context.Context, name string) (io.ReadCloser, error) {
	objectName := s.objectName(name)

	obj, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load object %q: %w", objectName, err)
	}

	// GetObject is lazy; Stat surfaces a missing key before any byte is read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("failed to load object %q: %w", objectName, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to stat object %q: %w", objectName, err)
	}

	return obj, nil
}

func (s *Storage) objectName(name string) string {
	return path.Join(s.prefix, name)
}
