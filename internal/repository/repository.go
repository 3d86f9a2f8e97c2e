// Package repository declares the storage contracts the services depend on.
// Both the SQLite and the Firestore backends implement every interface here.
package repository

import (
	"context"
	"time"

	"github.com/sakif/linkblocks/internal/model"
)

// BlockRepository stores blocks.
//
// Create must reject a second block with the same (UserID, BlockID) with an
// apperror.ErrConflict so that callers can re-assign and retry.
type BlockRepository interface {
	Create(ctx context.Context, block *model.Block) error
	GetByID(ctx context.Context, id string) (*model.Block, error)
	ListByUser(ctx context.Context, userID string) ([]model.Block, error)
	Update(ctx context.Context, block *model.Block) error
	SetStatus(ctx context.Context, id string, status model.BlockStatus) error
	Delete(ctx context.Context, id string) error
	// ListStale returns blocks in one of the given statuses whose last update
	// is older than before.
	ListStale(ctx context.Context, statuses []model.BlockStatus, before time.Time) ([]model.Block, error)
}

// CommentRepository stores the comment board and its participant counter.
// Create and DeleteByToken adjust the counter in the same transaction as the
// comment write.
type CommentRepository interface {
	Create(ctx context.Context, comment *model.Comment) error
	GetByToken(ctx context.Context, token string) (*model.Comment, error)
	DeleteByToken(ctx context.Context, token string) error
	List(ctx context.Context) ([]model.Comment, error)
	Count(ctx context.Context) (int64, error)
	// Reconcile sets the counter to the number of stored comments and
	// returns the new value.
	Reconcile(ctx context.Context) (int64, error)
}

type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	GetByID(ctx context.Context, id string) (*model.Link, error)
	ListByUser(ctx context.Context, userID string) ([]model.Link, error)
	Update(ctx context.Context, link *model.Link) error
	Delete(ctx context.Context, id string) error
}

// ThemeRepository stores one preference document per user.
type ThemeRepository interface {
	// Get returns apperror.ErrNotFound when the user never saved a preference.
	Get(ctx context.Context, userID string) (*model.ThemePreference, error)
	// Put creates the document if absent and overwrites it otherwise.
	Put(ctx context.Context, pref *model.ThemePreference) error
}

type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Store bundles every repository of one backend so the server can be wired
// against either backend with a single value.
type Store interface {
	Blocks() BlockRepository
	Comments() CommentRepository
	Links() LinkRepository
	Themes() ThemeRepository
	Users() UserRepository
	Close() error
}
