package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/repository"
)

var _ repository.ThemeRepository = (*ThemeDB)(nil)

// ThemeDB is the theme_preferences table, keyed by user.
type ThemeDB struct {
	conn *sql.DB
}

func (t *ThemeDB) Get(ctx context.Context, userID string) (*model.ThemePreference, error) {
	var (
		pref  model.ThemePreference
		theme string
	)
	err := t.conn.QueryRowContext(ctx,
		`SELECT user_id, theme, background_image, updated_at
		 FROM theme_preferences WHERE user_id = ?`,
		userID,
	).Scan(&pref.UserID, &theme, &pref.BackgroundImage, &pref.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("theme", userID)
		}
		return nil, fmt.Errorf("sqlite: getting theme for %s: %w", userID, err)
	}
	pref.Theme = model.Theme(theme)
	return &pref, nil
}

func (t *ThemeDB) Put(ctx context.Context, pref *model.ThemePreference) error {
	pref.UpdatedAt = time.Now()
	_, err := t.conn.ExecContext(ctx,
		`INSERT INTO theme_preferences (user_id, theme, background_image, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     theme = excluded.theme,
		     background_image = excluded.background_image,
		     updated_at = excluded.updated_at`,
		pref.UserID,
		string(pref.Theme),
		pref.BackgroundImage,
		pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving theme for %s: %w", pref.UserID, err)
	}
	return nil
}
