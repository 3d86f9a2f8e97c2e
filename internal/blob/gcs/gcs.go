// Package gcs stores blobs in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/sakif/linkblocks/internal/blob"
)

var _ blob.Store = (*Store)(nil)

type Store struct {
	client *storage.Client
	bucket string
}

func New(client *storage.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Open creates a client from application default credentials. With
// STORAGE_EMULATOR_HOST set, the client talks to the emulator.
func Open(ctx context.Context, bucket string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: creating client: %w", err)
	}
	return New(client, bucket), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("gcs: writing %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: finalizing %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	keys := []string{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: listing %q: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return blob.ErrNotExist
		}
		return fmt.Errorf("gcs: deleting %s: %w", key, err)
	}
	return nil
}

// URL is the public storage.googleapis.com address; the bucket must allow
// public reads for page visitors to load images.
func (s *Store) URL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "https://storage.googleapis.com/" + url.PathEscape(s.bucket) + "/" + strings.Join(segments, "/")
}
