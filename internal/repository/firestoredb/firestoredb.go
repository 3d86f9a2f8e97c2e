// Package firestoredb implements the repository interfaces on Cloud Firestore.
//
// Each repository owns one top-level collection. Documents are stored as the
// unexported *Doc types below so that the `firestore:` field names stay
// decoupled from the JSON shape in package model.
package firestoredb

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sakif/linkblocks/internal/repository"
)

const (
	blocksCollection       = "blocks"
	blockNumbersCollection = "blockNumbers"
	commentsCollection     = "comments"
	countsCollection       = "counts"
	counterDocument        = "countDocument"
	linksCollection        = "links"
	themesCollection       = "themes"
	usersCollection        = "users"
)

var _ repository.Store = (*DB)(nil)

type DB struct {
	client *firestore.Client
}

// New wraps an existing client. When FIRESTORE_EMULATOR_HOST is set the
// client library talks to the emulator instead of production.
func New(client *firestore.Client) *DB {
	return &DB{client: client}
}

// Open creates a client for projectID.
func Open(ctx context.Context, projectID string) (*DB, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore: creating client for %q: %w", projectID, err)
	}
	return New(client), nil
}

func (db *DB) Close() error {
	return db.client.Close()
}

func (db *DB) Blocks() repository.BlockRepository     { return &BlockStore{client: db.client} }
func (db *DB) Comments() repository.CommentRepository { return &CommentStore{client: db.client} }
func (db *DB) Links() repository.LinkRepository       { return &LinkStore{client: db.client} }
func (db *DB) Themes() repository.ThemeRepository     { return &ThemeStore{client: db.client} }
func (db *DB) Users() repository.UserRepository       { return &UserStore{client: db.client} }

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

// collect drains a document iterator, decoding each snapshot with decode.
func collect[T any](iter *firestore.DocumentIterator, decode func(*firestore.DocumentSnapshot) (T, error)) ([]T, error) {
	defer iter.Stop()

	out := []T{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		v, err := decode(snap)
		if err != nil {
			return nil, fmt.Errorf("while decoding %s: %w", snap.Ref.Path, err)
		}
		out = append(out, v)
	}
	return out, nil
}
