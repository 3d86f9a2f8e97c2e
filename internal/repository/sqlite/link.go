package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/repository"
)

var _ repository.LinkRepository = (*LinkDB)(nil)

type LinkDB struct {
	conn *sql.DB
}

func (l *LinkDB) Create(ctx context.Context, link *model.Link) error {
	link.ID = xid.New().String()
	link.CreatedAt = time.Now()

	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO links (id, user_id, title, url, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		link.ID,
		link.UserID,
		link.Title,
		link.URL,
		link.ImageURL,
		link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating link: %w", err)
	}
	return nil
}

func (l *LinkDB) GetByID(ctx context.Context, id string) (*model.Link, error) {
	var link model.Link
	err := l.conn.QueryRowContext(ctx,
		`SELECT id, user_id, title, url, image_url, created_at FROM links WHERE id = ?`, id,
	).Scan(&link.ID, &link.UserID, &link.Title, &link.URL, &link.ImageURL, &link.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("link", id)
		}
		return nil, fmt.Errorf("sqlite: getting link %s: %w", id, err)
	}
	return &link, nil
}

// ListByUser returns a user's links in the order they were added.
func (l *LinkDB) ListByUser(ctx context.Context, userID string) ([]model.Link, error) {
	rows, err := l.conn.QueryContext(ctx,
		`SELECT id, user_id, title, url, image_url, created_at
		 FROM links WHERE user_id = ? ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing links for %s: %w", userID, err)
	}
	defer rows.Close()

	links := []model.Link{}
	for rows.Next() {
		var link model.Link
		if err := rows.Scan(&link.ID, &link.UserID, &link.Title, &link.URL, &link.ImageURL, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning link row: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating links: %w", err)
	}
	return links, nil
}

func (l *LinkDB) Update(ctx context.Context, link *model.Link) error {
	result, err := l.conn.ExecContext(ctx,
		`UPDATE links SET title = ?, url = ?, image_url = ? WHERE id = ?`,
		link.Title, link.URL, link.ImageURL, link.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating link %s: %w", link.ID, err)
	}
	return expectOneRow(result, "link", link.ID)
}

func (l *LinkDB) Delete(ctx context.Context, id string) error {
	result, err := l.conn.ExecContext(ctx, `DELETE FROM links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting link %s: %w", id, err)
	}
	return expectOneRow(result, "link", id)
}
