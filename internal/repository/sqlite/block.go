package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/repository"
)

var _ repository.BlockRepository = (*BlockDB)(nil)

// BlockDB is the blocks table.
type BlockDB struct {
	conn *sql.DB
}

const blockColumns = `id, block_id, user_id, kind, title, description, start_date, end_date,
	number_of_people, pick_date, images, status, created_at, updated_at`

// Create inserts a block, generating its ID and timestamps.
//
// A duplicate (user_id, block_id) comes back as apperror.ErrConflict; the
// caller re-reads the user's blocks and tries the next number.
func (b *BlockDB) Create(ctx context.Context, block *model.Block) error {
	block.ID = xid.New().String()
	now := time.Now()
	block.CreatedAt = now
	block.UpdatedAt = now
	if block.Images == nil {
		block.Images = []string{}
	}

	images, err := json.Marshal(block.Images)
	if err != nil {
		return fmt.Errorf("sqlite: encoding block images: %w", err)
	}

	_, err = b.conn.ExecContext(ctx,
		`INSERT INTO blocks (`+blockColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		block.ID,
		block.BlockID,
		block.UserID,
		string(block.Kind),
		block.Title,
		block.Description,
		block.StartDate,
		block.EndDate,
		block.NumberOfPeople,
		block.PickDate,
		string(images),
		string(block.Status),
		block.CreatedAt,
		block.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("block", fmt.Sprintf("%s/%d", block.UserID, block.BlockID))
		}
		return fmt.Errorf("sqlite: creating block: %w", err)
	}

	return nil
}

func (b *BlockDB) GetByID(ctx context.Context, id string) (*model.Block, error) {
	row := b.conn.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE id = ?`, id)

	block, err := scanBlock(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("block", id)
		}
		return nil, fmt.Errorf("sqlite: getting block %s: %w", id, err)
	}
	return block, nil
}

// ListByUser returns all of a user's blocks ordered by block_id.
func (b *BlockDB) ListByUser(ctx context.Context, userID string) ([]model.Block, error) {
	rows, err := b.conn.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE user_id = ? ORDER BY block_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing blocks for %s: %w", userID, err)
	}
	defer rows.Close()

	return collectBlocks(rows)
}

// Update rewrites the editable fields and the image list.
func (b *BlockDB) Update(ctx context.Context, block *model.Block) error {
	block.UpdatedAt = time.Now()
	if block.Images == nil {
		block.Images = []string{}
	}

	images, err := json.Marshal(block.Images)
	if err != nil {
		return fmt.Errorf("sqlite: encoding block images: %w", err)
	}

	result, err := b.conn.ExecContext(ctx,
		`UPDATE blocks
		 SET title = ?, description = ?, start_date = ?, end_date = ?,
		     number_of_people = ?, pick_date = ?, images = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		block.Title,
		block.Description,
		block.StartDate,
		block.EndDate,
		block.NumberOfPeople,
		block.PickDate,
		string(images),
		string(block.Status),
		block.UpdatedAt,
		block.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating block %s: %w", block.ID, err)
	}
	return expectOneRow(result, "block", block.ID)
}

func (b *BlockDB) SetStatus(ctx context.Context, id string, status model.BlockStatus) error {
	result, err := b.conn.ExecContext(ctx,
		`UPDATE blocks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting status of block %s: %w", id, err)
	}
	return expectOneRow(result, "block", id)
}

func (b *BlockDB) Delete(ctx context.Context, id string) error {
	result, err := b.conn.ExecContext(ctx, `DELETE FROM blocks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting block %s: %w", id, err)
	}
	return expectOneRow(result, "block", id)
}

// ListStale filters on updated_at in Go rather than in SQL: the driver stores
// timestamps as text, which does not compare reliably across offsets.
func (b *BlockDB) ListStale(ctx context.Context, statuses []model.BlockStatus, before time.Time) ([]model.Block, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses))
	for _, s := range statuses {
		args = append(args, string(s))
	}

	rows, err := b.conn.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing stale blocks: %w", err)
	}
	defer rows.Close()

	candidates, err := collectBlocks(rows)
	if err != nil {
		return nil, err
	}

	stale := []model.Block{}
	for _, block := range candidates {
		if block.UpdatedAt.Before(before) {
			stale = append(stale, block)
		}
	}
	return stale, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (*model.Block, error) {
	var (
		block  model.Block
		kind   string
		status string
		images string
	)
	if err := row.Scan(
		&block.ID,
		&block.BlockID,
		&block.UserID,
		&kind,
		&block.Title,
		&block.Description,
		&block.StartDate,
		&block.EndDate,
		&block.NumberOfPeople,
		&block.PickDate,
		&images,
		&status,
		&block.CreatedAt,
		&block.UpdatedAt,
	); err != nil {
		return nil, err
	}

	block.Kind = model.BlockKind(kind)
	block.Status = model.BlockStatus(status)
	if err := json.Unmarshal([]byte(images), &block.Images); err != nil {
		return nil, fmt.Errorf("decoding images of block %s: %w", block.ID, err)
	}
	if block.Images == nil {
		block.Images = []string{}
	}
	return &block, nil
}

func collectBlocks(rows *sql.Rows) ([]model.Block, error) {
	blocks := []model.Block{}
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning block row: %w", err)
		}
		blocks = append(blocks, *block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating blocks: %w", err)
	}
	return blocks, nil
}

// expectOneRow turns "0 rows affected" into a NotFound for resource/id.
func expectOneRow(result sql.Result, resource, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
