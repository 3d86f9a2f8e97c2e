// Package service holds the business rules. Handlers parse HTTP and call in
// here; services validate, enforce ownership and orchestrate the stores.
//
//	Handler (HTTP) → Service (rules) → Repository (documents)
//	                                 ↘ attachment.Uploader (blobs)
//
// Services depend on repository interfaces, never on a concrete backend, so
// the tests run against in-memory fakes and the server can pick SQLite or
// Firestore at startup.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/attachment"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/repository"
)

const (
	MaxImages            = 4
	MaxTitleLength       = 20
	MaxDescriptionLength = 80

	// DateLayout is the format of every block date.
	DateLayout = "2006-01-02"

	maxCreateAttempts = 3
)

// Blob folders per block kind.
const (
	ChallengeImagePrefix   = "challengeImages"
	ReservationImagePrefix = "reservationImages"
)

// ImagePrefix returns the folder that holds attachments for blocks of kind k.
func ImagePrefix(k model.BlockKind) string {
	if k == model.KindReservation {
		return ReservationImagePrefix
	}
	return ChallengeImagePrefix
}

// Attachments is the subset of *attachment.Uploader the block editor uses.
type Attachments interface {
	Resolve(ctx context.Context, prefix, recordID string, items []attachment.Item) ([]string, error)
	DeleteFolder(ctx context.Context, prefix, recordID string) (int, error)
	Prune(ctx context.Context, prefix, recordID string, keep []string) (int, error)
}

// BlockInput is what an editor submits. Images is the full ordered list:
// URLs of images to keep and new files to upload.
type BlockInput struct {
	Title          string
	Description    string
	StartDate      string
	EndDate        string
	NumberOfPeople int
	PickDate       string
	Images         []attachment.Item
}

// NextBlockID returns one more than the largest positive BlockID in blocks,
// or 1 when there is none.
func NextBlockID(blocks []model.Block) int {
	highest := 0
	for _, b := range blocks {
		if b.BlockID > highest {
			highest = b.BlockID
		}
	}
	return highest + 1
}

// BlockService runs the challenge and reservation editors.
//
// WHY A STATUS FIELD ON EVERY BLOCK?
// Saving a block touches two systems: the document store (the record) and
// the blob store (its images). Neither offers a transaction that spans both,
// so a save can stop halfway, for example when the process dies during an
// upload. Instead of pretending the save is atomic, each block records how
// far it got:
//
//	pending  → record exists, images may be partly uploaded
//	active   → images uploaded, URLs stored, visible on the public page
//	deleting → folder removal started, record not yet gone
//
// The public page only ever shows active blocks, so a half-finished save is
// invisible to visitors. Whatever a failed request could not clean up
// itself is picked up by the janitor (see internal/janitor), which reaps
// pending and deleting blocks older than a grace period.
//
// WHY RETRY ON CONFLICT?
// blockId is "highest existing + 1", computed from a read. Two tabs saving at
// the same moment read the same highest number. The store refuses the second
// insert (unique on user + blockId), and we simply read again and take the
// next number.
type BlockService struct {
	repo   repository.BlockRepository
	files  Attachments
	logger *slog.Logger
	now    func() time.Time
}

func NewBlockService(repo repository.BlockRepository, files Attachments, logger *slog.Logger) *BlockService {
	return &BlockService{repo: repo, files: files, logger: logger, now: time.Now}
}

// Create saves a new block in three steps:
//
//  1. insert it as pending with the next free blockId
//  2. upload new files under <kind prefix>/<document id>/
//  3. store the URLs and flip it to active
//
// If step 2 or 3 fails the folder and the record are removed again. Should
// that cleanup fail too, the record stays pending and the janitor reaps it.
func (s *BlockService) Create(ctx context.Context, userID string, kind model.BlockKind, in BlockInput) (*model.Block, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("sign in to create blocks")
	}
	if !kind.Valid() {
		return nil, apperror.ValidationFailed("blockKind", fmt.Sprintf("unknown block kind %q", kind))
	}

	in = normalizeInput(kind, in)
	if err := s.validate(kind, in, nil); err != nil {
		return nil, err
	}

	block := &model.Block{
		UserID:         userID,
		Kind:           kind,
		Title:          in.Title,
		Description:    in.Description,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		NumberOfPeople: in.NumberOfPeople,
		PickDate:       in.PickDate,
		Images:         []string{},
		Status:         model.StatusPending,
	}
	if err := s.insertWithNextID(ctx, block); err != nil {
		return nil, err
	}

	prefix := ImagePrefix(kind)
	urls, err := s.files.Resolve(ctx, prefix, block.ID, in.Images)
	if err != nil {
		s.compensate(ctx, block)
		return nil, fmt.Errorf("service/block: uploading images: %w", err)
	}

	block.Images = urls
	block.Status = model.StatusActive
	if err := s.repo.Update(ctx, block); err != nil {
		s.compensate(ctx, block)
		return nil, fmt.Errorf("service/block: activating block %s: %w", block.ID, err)
	}

	s.logger.Info("block created",
		slog.String("id", block.ID),
		slog.Int("blockId", block.BlockID),
		slog.String("kind", string(kind)),
		slog.Int("images", len(urls)),
	)
	return block, nil
}

// insertWithNextID assigns BlockID from the user's current blocks and
// inserts. A concurrent create that took the same number makes the store
// return ErrConflict, so the scan is repeated.
func (s *BlockService) insertWithNextID(ctx context.Context, block *model.Block) error {
	var lastErr error
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		existing, err := s.repo.ListByUser(ctx, block.UserID)
		if err != nil {
			return fmt.Errorf("service/block: listing blocks: %w", err)
		}
		block.BlockID = NextBlockID(existing)

		err = s.repo.Create(ctx, block)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return fmt.Errorf("service/block: creating block: %w", err)
		}
		lastErr = err
		s.logger.Warn("block id taken, retrying",
			slog.String("userID", block.UserID),
			slog.Int("blockId", block.BlockID),
			slog.Int("attempt", attempt),
		)
	}
	return fmt.Errorf("service/block: assigning block id after %d attempts: %w", maxCreateAttempts, lastErr)
}

// compensate undoes a half-created block. It uses a fresh context so a
// cancelled request still cleans up.
func (s *BlockService) compensate(ctx context.Context, block *model.Block) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := s.reap(ctx, *block); err != nil {
		s.logger.Error("block cleanup failed, leaving it for the janitor",
			slog.String("id", block.ID),
			slog.Any("error", err),
		)
	}
}

// Update replaces the editable fields and the image list of a block the
// caller owns. Images that are no longer listed are removed from storage.
func (s *BlockService) Update(ctx context.Context, userID, id string, in BlockInput) (*model.Block, error) {
	block, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if block.Status != model.StatusActive {
		return nil, apperror.Conflict("block", id)
	}

	in = normalizeInput(block.Kind, in)
	if err := s.validate(block.Kind, in, block); err != nil {
		return nil, err
	}

	prefix := ImagePrefix(block.Kind)
	previous := append([]string(nil), block.Images...)
	urls, err := s.files.Resolve(ctx, prefix, block.ID, in.Images)
	if err != nil {
		s.discardUploads(ctx, block.ID, prefix, previous)
		return nil, fmt.Errorf("service/block: uploading images: %w", err)
	}

	block.Title = in.Title
	block.Description = in.Description
	block.StartDate = in.StartDate
	block.EndDate = in.EndDate
	block.NumberOfPeople = in.NumberOfPeople
	block.PickDate = in.PickDate
	block.Images = urls

	if err := s.repo.Update(ctx, block); err != nil {
		s.discardUploads(ctx, block.ID, prefix, previous)
		return nil, fmt.Errorf("service/block: updating block %s: %w", id, err)
	}

	if n, err := s.files.Prune(ctx, prefix, block.ID, urls); err != nil {
		s.logger.Warn("pruning unused images failed", slog.String("id", id), slog.Any("error", err))
	} else if n > 0 {
		s.logger.Info("unused images pruned", slog.String("id", id), slog.Int("objects", n))
	}

	s.logger.Info("block updated", slog.String("id", id))
	return block, nil
}

// discardUploads rolls the folder back to the images the stored record
// still lists. Resolve never overwrites an existing object, so this only
// removes files written by the failed update.
func (s *BlockService) discardUploads(ctx context.Context, id, prefix string, stored []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if _, err := s.files.Prune(ctx, prefix, id, stored); err != nil {
		s.logger.Error("removing uploads of a failed update",
			slog.String("id", id),
			slog.Any("error", err),
		)
	}
}

// Delete removes a block the caller owns. The block is marked deleting
// first; if the folder delete fails it stays that way and the error is
// returned, and the janitor finishes the job later.
func (s *BlockService) Delete(ctx context.Context, userID, id string) error {
	block, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := s.repo.SetStatus(ctx, id, model.StatusDeleting); err != nil {
		return fmt.Errorf("service/block: marking block %s deleting: %w", id, err)
	}
	if err := s.reap(ctx, *block); err != nil {
		return fmt.Errorf("service/block: deleting block %s: %w", id, err)
	}

	s.logger.Info("block deleted", slog.String("id", id), slog.Int("blockId", block.BlockID))
	return nil
}

// reap deletes the attachment folder, then the record.
func (s *BlockService) reap(ctx context.Context, block model.Block) error {
	if _, err := s.files.DeleteFolder(ctx, ImagePrefix(block.Kind), block.ID); err != nil {
		return fmt.Errorf("deleting attachments: %w", err)
	}
	if err := s.repo.Delete(ctx, block.ID); err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// ReapStale removes blocks stuck in pending or deleting since before. It
// returns how many were reaped; failures are logged and retried next run.
func (s *BlockService) ReapStale(ctx context.Context, before time.Time) (int, error) {
	stale, err := s.repo.ListStale(ctx, []model.BlockStatus{model.StatusPending, model.StatusDeleting}, before)
	if err != nil {
		return 0, fmt.Errorf("service/block: listing stale blocks: %w", err)
	}

	reaped := 0
	for _, block := range stale {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		if err := s.reap(ctx, block); err != nil {
			s.logger.Error("reaping stale block failed",
				slog.String("id", block.ID),
				slog.String("status", string(block.Status)),
				slog.Any("error", err),
			)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		s.logger.Info("stale blocks reaped", slog.Int("count", reaped))
	}
	return reaped, nil
}

// Get returns a block. Blocks that are not active are only visible to
// their owner.
func (s *BlockService) Get(ctx context.Context, viewerID, id string) (*model.Block, error) {
	block, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/block: getting block %s: %w", id, err)
	}
	if block.Status != model.StatusActive && block.UserID != viewerID {
		return nil, apperror.NotFound("block", id)
	}
	return block, nil
}

// ListByUser returns a user's blocks ordered by blockId. Without
// includeInactive only active blocks are returned.
func (s *BlockService) ListByUser(ctx context.Context, userID string, includeInactive bool) ([]model.Block, error) {
	blocks, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/block: listing blocks for %s: %w", userID, err)
	}
	if includeInactive {
		return blocks, nil
	}

	active := make([]model.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Status == model.StatusActive {
			active = append(active, b)
		}
	}
	return active, nil
}

// NextID reports the blockId the next block of userID would get.
func (s *BlockService) NextID(ctx context.Context, userID string) (int, error) {
	blocks, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("service/block: listing blocks for %s: %w", userID, err)
	}
	return NextBlockID(blocks), nil
}

func (s *BlockService) owned(ctx context.Context, userID, id string) (*model.Block, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("sign in to edit blocks")
	}
	block, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/block: getting block %s: %w", id, err)
	}
	if block.UserID != userID {
		return nil, apperror.Forbidden("you do not own this block")
	}
	return block, nil
}

// normalizeInput trims text fields and clears reservation-only fields on
// challenges.
func normalizeInput(kind model.BlockKind, in BlockInput) BlockInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.StartDate = strings.TrimSpace(in.StartDate)
	in.EndDate = strings.TrimSpace(in.EndDate)
	in.PickDate = strings.TrimSpace(in.PickDate)
	if kind != model.KindReservation {
		in.NumberOfPeople = 0
		in.PickDate = ""
	}
	return in
}

// validate checks in. When existing is non-nil the future-date rule only
// applies to dates that changed, so an ongoing block can still be edited.
func (s *BlockService) validate(kind model.BlockKind, in BlockInput, existing *model.Block) error {
	switch {
	case in.Title == "":
		return apperror.ValidationFailed("title", "title is required")
	case utf8.RuneCountInString(in.Title) > MaxTitleLength:
		return apperror.ValidationFailed("title", fmt.Sprintf("title must be %d characters or fewer", MaxTitleLength))
	case in.Description == "":
		return apperror.ValidationFailed("description", "description is required")
	case utf8.RuneCountInString(in.Description) > MaxDescriptionLength:
		return apperror.ValidationFailed("description", fmt.Sprintf("description must be %d characters or fewer", MaxDescriptionLength))
	case len(in.Images) > MaxImages:
		return apperror.ValidationFailed("images", fmt.Sprintf("you can attach up to %d images", MaxImages))
	}

	today := s.today()

	var prevStart, prevEnd, prevPick string
	if existing != nil {
		prevStart, prevEnd, prevPick = existing.StartDate, existing.EndDate, existing.PickDate
	}

	start, err := s.parseDate("startDate", in.StartDate, prevStart, today)
	if err != nil {
		return err
	}
	end, err := s.parseDate("endDate", in.EndDate, prevEnd, today)
	if err != nil {
		return err
	}
	if end.Before(start) {
		return apperror.ValidationFailed("endDate", "end date must not be before start date")
	}

	if kind == model.KindReservation {
		if in.NumberOfPeople <= 0 {
			return apperror.ValidationFailed("numberOfPeople", "number of people must be at least 1")
		}
		if _, err := s.parseDate("pickDate", in.PickDate, prevPick, today); err != nil {
			return err
		}
	}
	return nil
}

func (s *BlockService) parseDate(field, value, previous string, today time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, apperror.ValidationFailed(field, field+" is required")
	}
	d, err := time.ParseInLocation(DateLayout, value, today.Location())
	if err != nil {
		return time.Time{}, apperror.ValidationFailed(field, field+" must be a date like 2006-01-02")
	}
	if value != previous && !d.After(today) {
		return time.Time{}, apperror.ValidationFailed(field, field+" must be after today")
	}
	return d, nil
}

func (s *BlockService) today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
