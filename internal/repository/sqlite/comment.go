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

var _ repository.CommentRepository = (*CommentDB)(nil)

// CommentDB is the comments table plus the participants row in counters.
type CommentDB struct {
	conn *sql.DB
}

// Create inserts the comment and increments the participants counter in one
// transaction. The caller sets Token and PasswordHash.
func (c *CommentDB) Create(ctx context.Context, comment *model.Comment) error {
	comment.ID = xid.New().String()
	comment.CreatedAt = time.Now()

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning comment create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO comments (id, token, nickname, password_hash, comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		comment.ID,
		comment.Token,
		comment.Nickname,
		comment.PasswordHash,
		comment.Comment,
		comment.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("comment", comment.Token)
		}
		return fmt.Errorf("sqlite: inserting comment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO counters (name, count) VALUES (?, 1)
		 ON CONFLICT(name) DO UPDATE SET count = count + 1`,
		model.ParticipantsCounter,
	)
	if err != nil {
		return fmt.Errorf("sqlite: incrementing %s counter: %w", model.ParticipantsCounter, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing comment create: %w", err)
	}
	return nil
}

func (c *CommentDB) GetByToken(ctx context.Context, token string) (*model.Comment, error) {
	var comment model.Comment
	err := c.conn.QueryRowContext(ctx,
		`SELECT id, token, nickname, password_hash, comment, created_at
		 FROM comments WHERE token = ?`,
		token,
	).Scan(
		&comment.ID,
		&comment.Token,
		&comment.Nickname,
		&comment.PasswordHash,
		&comment.Comment,
		&comment.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("comment", token)
		}
		return nil, fmt.Errorf("sqlite: getting comment %s: %w", token, err)
	}
	return &comment, nil
}

// DeleteByToken removes the comment and decrements the counter, never below zero.
func (c *CommentDB) DeleteByToken(ctx context.Context, token string) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning comment delete: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("sqlite: deleting comment %s: %w", token, err)
	}
	if err := expectOneRow(result, "comment", token); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE counters SET count = MAX(count - 1, 0) WHERE name = ?`,
		model.ParticipantsCounter,
	)
	if err != nil {
		return fmt.Errorf("sqlite: decrementing %s counter: %w", model.ParticipantsCounter, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing comment delete: %w", err)
	}
	return nil
}

// List returns the board oldest first.
func (c *CommentDB) List(ctx context.Context) ([]model.Comment, error) {
	rows, err := c.conn.QueryContext(ctx,
		`SELECT id, token, nickname, password_hash, comment, created_at
		 FROM comments ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing comments: %w", err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		var comment model.Comment
		if err := rows.Scan(
			&comment.ID,
			&comment.Token,
			&comment.Nickname,
			&comment.PasswordHash,
			&comment.Comment,
			&comment.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning comment row: %w", err)
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating comments: %w", err)
	}
	return comments, nil
}

// Count returns the participants counter; a missing row reads as zero.
func (c *CommentDB) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.conn.QueryRowContext(ctx,
		`SELECT count FROM counters WHERE name = ?`, model.ParticipantsCounter,
	).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("sqlite: reading %s counter: %w", model.ParticipantsCounter, err)
	}
	return count, nil
}

func (c *CommentDB) Reconcile(ctx context.Context) (int64, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: beginning counter reconcile: %w", err)
	}
	defer tx.Rollback()

	var actual int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments`).Scan(&actual); err != nil {
		return 0, fmt.Errorf("sqlite: counting comments: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO counters (name, count) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET count = excluded.count`,
		model.ParticipantsCounter, actual,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: writing %s counter: %w", model.ParticipantsCounter, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: committing counter reconcile: %w", err)
	}
	return actual, nil
}
