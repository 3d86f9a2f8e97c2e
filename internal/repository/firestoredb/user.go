package firestoredb

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/repository"
)

var _ repository.UserRepository = (*UserStore)(nil)

type userDoc struct {
	GitHubID  int64     `firestore:"githubId"`
	Login     string    `firestore:"login"`
	Email     string    `firestore:"email"`
	AvatarURL string    `firestore:"avatarUrl"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type UserStore struct {
	client *firestore.Client
}

// Upsert looks the creator up by GitHub id inside a transaction so two
// concurrent first logins cannot create two documents.
func (s *UserStore) Upsert(ctx context.Context, user *model.User) error {
	users := s.client.Collection(usersCollection)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		now := time.Now()

		snaps, err := txn.Documents(users.Where("githubId", "==", user.GitHubID).Limit(1)).GetAll()
		if err != nil {
			return fmt.Errorf("while looking up github id %d: %w", user.GitHubID, err)
		}

		if len(snaps) == 0 {
			ref := users.NewDoc()
			user.ID = ref.ID
			user.CreatedAt = now
			user.UpdatedAt = now
			return txn.Create(ref, &userDoc{
				GitHubID:  user.GitHubID,
				Login:     user.Login,
				Email:     user.Email,
				AvatarURL: user.AvatarURL,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}

		var existing userDoc
		if err := snaps[0].DataTo(&existing); err != nil {
			return fmt.Errorf("while decoding user: %w", err)
		}
		user.ID = snaps[0].Ref.ID
		user.CreatedAt = existing.CreatedAt
		user.UpdatedAt = now
		return txn.Update(snaps[0].Ref, []firestore.Update{
			{Path: "login", Value: user.Login},
			{Path: "email", Value: user.Email},
			{Path: "avatarUrl", Value: user.AvatarURL},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return fmt.Errorf("firestore: upserting user (githubID=%d): %w", user.GitHubID, err)
	}
	return nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	snap, err := s.client.Collection(usersCollection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("firestore: getting user %s: %w", id, err)
	}
	var d userDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("firestore: decoding user %s: %w", id, err)
	}
	return &model.User{
		ID:        id,
		GitHubID:  d.GitHubID,
		Login:     d.Login,
		Email:     d.Email,
		AvatarURL: d.AvatarURL,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}
