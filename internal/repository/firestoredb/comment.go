package firestoredb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/repository"
)

var _ repository.CommentRepository = (*CommentStore)(nil)

// commentDoc is keyed by the comment token, so delete is a direct lookup.
type commentDoc struct {
	Nickname     string    `firestore:"nickname"`
	PasswordHash string    `firestore:"passwordHash"`
	Comment      string    `firestore:"comment"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

// counterDoc is counts/countDocument. Each named counter is one field.
type counterDoc struct {
	Participants int64 `firestore:"participants"`
}

// errCommentMissing lets the delete transaction report a missing comment
// without being mistaken for a missing counter document.
var errCommentMissing = errors.New("comment missing")

type CommentStore struct {
	client *firestore.Client
}

func (s *CommentStore) counterRef() *firestore.DocumentRef {
	return s.client.Collection(countsCollection).Doc(counterDocument)
}

func decodeComment(snap *firestore.DocumentSnapshot) (model.Comment, error) {
	var d commentDoc
	if err := snap.DataTo(&d); err != nil {
		return model.Comment{}, err
	}
	return model.Comment{
		ID:           snap.Ref.ID,
		Token:        snap.Ref.ID,
		Nickname:     d.Nickname,
		PasswordHash: d.PasswordHash,
		Comment:      d.Comment,
		CreatedAt:    d.CreatedAt,
	}, nil
}

// readCounter returns zero when the counter document has not been created yet.
func readCounter(txn *firestore.Transaction, ref *firestore.DocumentRef) (int64, error) {
	snap, err := txn.Get(ref)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	var c counterDoc
	if err := snap.DataTo(&c); err != nil {
		return 0, fmt.Errorf("while decoding counter: %w", err)
	}
	return c.Participants, nil
}

func (s *CommentStore) Create(ctx context.Context, comment *model.Comment) error {
	ref := s.client.Collection(commentsCollection).Doc(comment.Token)
	comment.CreatedAt = time.Now()

	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		count, err := readCounter(txn, s.counterRef())
		if err != nil {
			return err
		}
		if err := txn.Create(ref, &commentDoc{
			Nickname:     comment.Nickname,
			PasswordHash: comment.PasswordHash,
			Comment:      comment.Comment,
			CreatedAt:    comment.CreatedAt,
		}); err != nil {
			return err
		}
		return txn.Set(s.counterRef(), &counterDoc{Participants: count + 1})
	})
	if err != nil {
		if isAlreadyExists(err) {
			return apperror.Conflict("comment", comment.Token)
		}
		return fmt.Errorf("firestore: creating comment: %w", err)
	}

	comment.ID = ref.ID
	return nil
}

func (s *CommentStore) GetByToken(ctx context.Context, token string) (*model.Comment, error) {
	snap, err := s.client.Collection(commentsCollection).Doc(token).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("comment", token)
		}
		return nil, fmt.Errorf("firestore: getting comment %s: %w", token, err)
	}
	comment, err := decodeComment(snap)
	if err != nil {
		return nil, fmt.Errorf("firestore: decoding comment %s: %w", token, err)
	}
	return &comment, nil
}

func (s *CommentStore) DeleteByToken(ctx context.Context, token string) error {
	ref := s.client.Collection(commentsCollection).Doc(token)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		if _, err := txn.Get(ref); err != nil {
			if isNotFound(err) {
				return errCommentMissing
			}
			return err
		}
		count, err := readCounter(txn, s.counterRef())
		if err != nil {
			return err
		}
		if err := txn.Delete(ref); err != nil {
			return err
		}
		return txn.Set(s.counterRef(), &counterDoc{Participants: max(count-1, 0)})
	})
	if err != nil {
		if errors.Is(err, errCommentMissing) {
			return apperror.NotFound("comment", token)
		}
		return fmt.Errorf("firestore: deleting comment %s: %w", token, err)
	}
	return nil
}

func (s *CommentStore) List(ctx context.Context) ([]model.Comment, error) {
	comments, err := collect(s.client.Collection(commentsCollection).Documents(ctx), decodeComment)
	if err != nil {
		return nil, fmt.Errorf("firestore: listing comments: %w", err)
	}
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	return comments, nil
}

func (s *CommentStore) Count(ctx context.Context) (int64, error) {
	snap, err := s.counterRef().Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("firestore: reading counter: %w", err)
	}
	var c counterDoc
	if err := snap.DataTo(&c); err != nil {
		return 0, fmt.Errorf("firestore: decoding counter: %w", err)
	}
	return c.Participants, nil
}

func (s *CommentStore) Reconcile(ctx context.Context) (int64, error) {
	var actual int64
	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		snaps, err := txn.Documents(s.client.Collection(commentsCollection)).GetAll()
		if err != nil {
			return fmt.Errorf("while listing comments: %w", err)
		}
		actual = int64(len(snaps))
		return txn.Set(s.counterRef(), &counterDoc{Participants: actual})
	})
	if err != nil {
		return 0, fmt.Errorf("firestore: reconciling counter: %w", err)
	}
	return actual, nil
}
