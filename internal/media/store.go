package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const maxMediaBytes = 20 << 20

// Store reads and deletes uploaded media.
type Store interface {
	Read(ctx context.Context, ref string) ([]byte, string, error)
	Delete(ctx context.Context, ref string) error
}

// GCSStore is a Store backed by Google Cloud Storage.
type GCSStore struct {
	client        *storage.Client
	defaultBucket string
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, defaultBucket string, opts ...option.ClientOption) (*GCSStore, error) {
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, defaultBucket: defaultBucket}, nil
}

// Read returns the object bytes and content type.
func (s *GCSStore) Read(ctx context.Context, ref string) ([]byte, string, error) {
	r, err := ParseRef(ref, s.defaultBucket)
	if err != nil {
		return nil, "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	reader, err := s.client.Bucket(r.Bucket).Object(r.Object).NewReader(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", r, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", r, err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("media %s exceeds %d bytes", r, maxMediaBytes)
	}
	return data, reader.Attrs.ContentType, nil
}

// Delete removes the object. A missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	r, err := ParseRef(ref, s.defaultBucket)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(r.Bucket).Object(r.Object).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", r.Object, r.Bucket, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
