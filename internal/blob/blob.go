// Package blob declares the object storage used for block attachments and
// theme backgrounds. Keys are slash-separated paths such as
// "challengeImages/<docID>/cover.jpg".
package blob

import (
	"context"
	"errors"
)

// ErrNotExist is returned by Delete when the key is absent.
var ErrNotExist = errors.New("blob: object does not exist")

type Store interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key, contentType string, data []byte) error
	// List returns every key that starts with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	// URL is the public address of key. It does not check existence.
	URL(key string) string
}
