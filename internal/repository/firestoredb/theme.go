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

var _ repository.ThemeRepository = (*ThemeStore)(nil)

// themeDoc is keyed by uid.
type themeDoc struct {
	Theme           string    `firestore:"theme"`
	BackgroundImage string    `firestore:"backgroundImage"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

type ThemeStore struct {
	client *firestore.Client
}

func (s *ThemeStore) Get(ctx context.Context, userID string) (*model.ThemePreference, error) {
	snap, err := s.client.Collection(themesCollection).Doc(userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("theme", userID)
		}
		return nil, fmt.Errorf("firestore: getting theme for %s: %w", userID, err)
	}
	var d themeDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("firestore: decoding theme for %s: %w", userID, err)
	}
	return &model.ThemePreference{
		UserID:          userID,
		Theme:           model.Theme(d.Theme),
		BackgroundImage: d.BackgroundImage,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

func (s *ThemeStore) Put(ctx context.Context, pref *model.ThemePreference) error {
	pref.UpdatedAt = time.Now()
	_, err := s.client.Collection(themesCollection).Doc(pref.UserID).Set(ctx, &themeDoc{
		Theme:           string(pref.Theme),
		BackgroundImage: pref.BackgroundImage,
		UpdatedAt:       pref.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("firestore: saving theme for %s: %w", pref.UserID, err)
	}
	return nil
}
