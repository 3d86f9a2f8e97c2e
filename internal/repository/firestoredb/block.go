package firestoredb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/repository"
)

var _ repository.BlockRepository = (*BlockStore)(nil)

type blockDoc struct {
	BlockID        int64     `firestore:"blockId"`
	UserID         string    `firestore:"uid"`
	Kind           string    `firestore:"blockKind"`
	Title          string    `firestore:"title"`
	Description    string    `firestore:"description"`
	StartDate      string    `firestore:"startDate"`
	EndDate        string    `firestore:"endDate"`
	NumberOfPeople int64     `firestore:"numberOfPeople"`
	PickDate       string    `firestore:"pickDate"`
	Images         []string  `firestore:"images"`
	Status         string    `firestore:"status"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// blockNumberDoc claims one (uid, blockId) pair. Creating it inside the same
// transaction as the block makes a duplicate number fail with AlreadyExists.
type blockNumberDoc struct {
	BlockRef string `firestore:"block"`
}

type BlockStore struct {
	client *firestore.Client
}

func blockNumberKey(userID string, blockID int) string {
	return fmt.Sprintf("%s:%d", userID, blockID)
}

func toBlockDoc(b *model.Block) *blockDoc {
	images := b.Images
	if images == nil {
		images = []string{}
	}
	return &blockDoc{
		BlockID:        int64(b.BlockID),
		UserID:         b.UserID,
		Kind:           string(b.Kind),
		Title:          b.Title,
		Description:    b.Description,
		StartDate:      b.StartDate,
		EndDate:        b.EndDate,
		NumberOfPeople: int64(b.NumberOfPeople),
		PickDate:       b.PickDate,
		Images:         images,
		Status:         string(b.Status),
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func decodeBlock(snap *firestore.DocumentSnapshot) (model.Block, error) {
	var d blockDoc
	if err := snap.DataTo(&d); err != nil {
		return model.Block{}, err
	}
	images := d.Images
	if images == nil {
		images = []string{}
	}
	return model.Block{
		ID:             snap.Ref.ID,
		BlockID:        int(d.BlockID),
		UserID:         d.UserID,
		Kind:           model.BlockKind(d.Kind),
		Title:          d.Title,
		Description:    d.Description,
		StartDate:      d.StartDate,
		EndDate:        d.EndDate,
		NumberOfPeople: int(d.NumberOfPeople),
		PickDate:       d.PickDate,
		Images:         images,
		Status:         model.BlockStatus(d.Status),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

func (s *BlockStore) Create(ctx context.Context, block *model.Block) error {
	ref := s.client.Collection(blocksCollection).NewDoc()
	claim := s.client.Collection(blockNumbersCollection).Doc(blockNumberKey(block.UserID, block.BlockID))

	now := time.Now()
	block.CreatedAt = now
	block.UpdatedAt = now

	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		if err := txn.Create(claim, &blockNumberDoc{BlockRef: ref.ID}); err != nil {
			return err
		}
		return txn.Create(ref, toBlockDoc(block))
	})
	if err != nil {
		if isAlreadyExists(err) {
			return apperror.Conflict("block", blockNumberKey(block.UserID, block.BlockID))
		}
		return fmt.Errorf("firestore: creating block: %w", err)
	}

	block.ID = ref.ID
	if block.Images == nil {
		block.Images = []string{}
	}
	return nil
}

func (s *BlockStore) GetByID(ctx context.Context, id string) (*model.Block, error) {
	snap, err := s.client.Collection(blocksCollection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("block", id)
		}
		return nil, fmt.Errorf("firestore: getting block %s: %w", id, err)
	}
	block, err := decodeBlock(snap)
	if err != nil {
		return nil, fmt.Errorf("firestore: decoding block %s: %w", id, err)
	}
	return &block, nil
}

// ListByUser sorts client-side so the query needs no composite index.
func (s *BlockStore) ListByUser(ctx context.Context, userID string) ([]model.Block, error) {
	iter := s.client.Collection(blocksCollection).Where("uid", "==", userID).Documents(ctx)
	blocks, err := collect(iter, decodeBlock)
	if err != nil {
		return nil, fmt.Errorf("firestore: listing blocks for %s: %w", userID, err)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].BlockID < blocks[j].BlockID })
	return blocks, nil
}

func (s *BlockStore) Update(ctx context.Context, block *model.Block) error {
	block.UpdatedAt = time.Now()
	images := block.Images
	if images == nil {
		images = []string{}
	}

	_, err := s.client.Collection(blocksCollection).Doc(block.ID).Update(ctx, []firestore.Update{
		{Path: "title", Value: block.Title},
		{Path: "description", Value: block.Description},
		{Path: "startDate", Value: block.StartDate},
		{Path: "endDate", Value: block.EndDate},
		{Path: "numberOfPeople", Value: int64(block.NumberOfPeople)},
		{Path: "pickDate", Value: block.PickDate},
		{Path: "images", Value: images},
		{Path: "status", Value: string(block.Status)},
		{Path: "updatedAt", Value: block.UpdatedAt},
	})
	if err != nil {
		if isNotFound(err) {
			return apperror.NotFound("block", block.ID)
		}
		return fmt.Errorf("firestore: updating block %s: %w", block.ID, err)
	}
	return nil
}

func (s *BlockStore) SetStatus(ctx context.Context, id string, status model.BlockStatus) error {
	_, err := s.client.Collection(blocksCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		if isNotFound(err) {
			return apperror.NotFound("block", id)
		}
		return fmt.Errorf("firestore: setting status of block %s: %w", id, err)
	}
	return nil
}

// Delete removes the block and releases its number claim.
func (s *BlockStore) Delete(ctx context.Context, id string) error {
	ref := s.client.Collection(blocksCollection).Doc(id)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		snap, err := txn.Get(ref)
		if err != nil {
			return err
		}
		var d blockDoc
		if err := snap.DataTo(&d); err != nil {
			return fmt.Errorf("while decoding block: %w", err)
		}
		claim := s.client.Collection(blockNumbersCollection).Doc(blockNumberKey(d.UserID, int(d.BlockID)))
		if err := txn.Delete(claim); err != nil {
			return err
		}
		return txn.Delete(ref)
	})
	if err != nil {
		if isNotFound(err) {
			return apperror.NotFound("block", id)
		}
		return fmt.Errorf("firestore: deleting block %s: %w", id, err)
	}
	return nil
}

func (s *BlockStore) ListStale(ctx context.Context, statuses []model.BlockStatus, before time.Time) ([]model.Block, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}

	iter := s.client.Collection(blocksCollection).Where("status", "in", values).Documents(ctx)
	candidates, err := collect(iter, decodeBlock)
	if err != nil {
		return nil, fmt.Errorf("firestore: listing stale blocks: %w", err)
	}

	stale := []model.Block{}
	for _, b := range candidates {
		if b.UpdatedAt.Before(before) {
			stale = append(stale, b)
		}
	}
	return stale, nil
}
