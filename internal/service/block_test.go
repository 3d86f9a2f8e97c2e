package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/attachment"
	"github.com/sakif/linkblocks/internal/model"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestBlockService(t *testing.T) (*BlockService, *fakeBlockRepo, *fakeAttachments) {
	t.Helper()
	repo := newFakeBlockRepo()
	files := newFakeAttachments()
	svc := NewBlockService(repo, files, testLogger())
	svc.now = func() time.Time { return fixedNow }
	return svc, repo, files
}

func challengeInput(images ...attachment.Item) BlockInput {
	return BlockInput{
		Title:       "Morning run",
		Description: "Run 5k before work",
		StartDate:   "2026-03-11",
		EndDate:     "2026-03-20",
		Images:      images,
	}
}

func file(name string) attachment.Item {
	return attachment.FileItem(&attachment.File{Name: name, ContentType: "image/png", Data: []byte("png")})
}

func TestNextBlockID(t *testing.T) {
	tests := []struct {
		name   string
		blocks []model.Block
		want   int
	}{
		{name: "no blocks", blocks: nil, want: 1},
		{name: "gap is not reused", blocks: []model.Block{{BlockID: 1}, {BlockID: 3}}, want: 4},
		{name: "unordered", blocks: []model.Block{{BlockID: 7}, {BlockID: 2}}, want: 8},
		{name: "non-positive ids ignored", blocks: []model.Block{{BlockID: 0}, {BlockID: -2}}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextBlockID(tt.blocks))
		})
	}
}

func TestBlockCreate_AssignsSequentialIDs(t *testing.T) {
	svc, _, files := newTestBlockService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "creator-1", model.KindChallenge, challengeInput(file("a.png")))
	require.NoError(t, err)
	second, err := svc.Create(ctx, "creator-1", model.KindChallenge, challengeInput())
	require.NoError(t, err)
	other, err := svc.Create(ctx, "creator-2", model.KindChallenge, challengeInput())
	require.NoError(t, err)

	assert.Equal(t, 1, first.BlockID)
	assert.Equal(t, 2, second.BlockID)
	assert.Equal(t, 1, other.BlockID, "numbering is per creator")

	assert.Equal(t, model.StatusActive, first.Status)
	require.Len(t, first.Images, 1)
	assert.Equal(t, "https://files.test/challengeImages/"+first.ID+"/a.png", first.Images[0])
	assert.Len(t, files.folder(ChallengeImagePrefix, first.ID), 1)
}

func TestBlockCreate_ReservationUsesItsOwnFolder(t *testing.T) {
	svc, _, files := newTestBlockService(t)

	in := challengeInput(file("table.png"))
	in.NumberOfPeople = 4
	in.PickDate = "2026-03-15"

	block, err := svc.Create(context.Background(), "creator-1", model.KindReservation, in)
	require.NoError(t, err)

	assert.Equal(t, 4, block.NumberOfPeople)
	assert.Len(t, files.folder(ReservationImagePrefix, block.ID), 1)
	assert.Empty(t, files.folder(ChallengeImagePrefix, block.ID))
}

func TestBlockCreate_RetriesOnConflict(t *testing.T) {
	svc, repo, _ := newTestBlockService(t)
	repo.conflicts = 2

	block, err := svc.Create(context.Background(), "creator-1", model.KindChallenge, challengeInput())
	require.NoError(t, err)

	assert.Equal(t, 3, repo.creates)
	assert.Equal(t, 1, block.BlockID)
}

func TestBlockCreate_GivesUpAfterRepeatedConflicts(t *testing.T) {
	svc, repo, _ := newTestBlockService(t)
	repo.conflicts = maxCreateAttempts

	_, err := svc.Create(context.Background(), "creator-1", model.KindChallenge, challengeInput())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.Equal(t, 0, repo.len())
}

func TestBlockCreate_UploadFailureRemovesRecord(t *testing.T) {
	svc, repo, files := newTestBlockService(t)
	files.resolveErr = errors.New("bucket unavailable")

	_, err := svc.Create(context.Background(), "creator-1", model.KindChallenge, challengeInput(file("a.png")))
	require.Error(t, err)

	assert.Equal(t, 0, repo.len(), "pending record must be removed")
	assert.Len(t, files.deleted, 1)
}

func TestBlockCreate_ActivationFailureRemovesRecordAndFiles(t *testing.T) {
	svc, repo, files := newTestBlockService(t)
	repo.updateErr = errors.New("write failed")

	_, err := svc.Create(context.Background(), "creator-1", model.KindChallenge, challengeInput(file("a.png")))
	require.Error(t, err)

	assert.Equal(t, 0, repo.len())
	require.Len(t, files.deleted, 1)
	assert.True(t, strings.HasPrefix(files.deleted[0], ChallengeImagePrefix+"/"))
	assert.Empty(t, files.objects)
}

func TestBlockCreate_FailedCleanupLeavesPendingRecord(t *testing.T) {
	svc, repo, files := newTestBlockService(t)
	files.resolveErr = errors.New("bucket unavailable")
	files.deleteErr = errors.New("bucket unavailable")

	_, err := svc.Create(context.Background(), "creator-1", model.KindChallenge, challengeInput())
	require.Error(t, err)

	blocks, err := repo.ListByUser(context.Background(), "creator-1")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, model.StatusPending, blocks[0].Status)

	visible, err := svc.ListByUser(context.Background(), "creator-1", false)
	require.NoError(t, err)
	assert.Empty(t, visible, "pending blocks are not shown on the page")
}

func TestBlockCreate_Validation(t *testing.T) {
	tests := []struct {
		name      string
		kind      model.BlockKind
		mutate    func(*BlockInput)
		wantField string
	}{
		{name: "missing title", kind: model.KindChallenge, mutate: func(in *BlockInput) { in.Title = "  " }, wantField: "title"},
		{name: "title too long", kind: model.KindChallenge, mutate: func(in *BlockInput) { in.Title = strings.Repeat("가", MaxTitleLength+1) }, wantField: "title"},
		{name: "description too long", kind: model.KindChallenge, mutate: func(in *BlockInput) { in.Description = strings.Repeat("x", MaxDescriptionLength+1) }, wantField: "description"},
		{name: "too many images", kind: model.KindChallenge, mutate: func(in *BlockInput) {
			in.Images = []attachment.Item{file("1.png"), file("2.png"), file("3.png"), file("4.png"), file("5.png")}
		}, wantField: "images"},
		{name: "start today", kind: model.KindChallenge, mutate: func(in *BlockInput) { in.StartDate = "2026-03-10" }, wantField: "startDate"},
		{name: "bad date", kind: model.KindChallenge, mutate: func(in *BlockInput) { in.EndDate = "next week" }, wantField: "endDate"},
		{name: "end before start", kind: model.KindChallenge, mutate: func(in *BlockInput) {
			in.StartDate, in.EndDate = "2026-03-20", "2026-03-12"
		}, wantField: "endDate"},
		{name: "reservation without people", kind: model.KindReservation, mutate: func(in *BlockInput) { in.PickDate = "2026-03-15" }, wantField: "numberOfPeople"},
		{name: "reservation without pick date", kind: model.KindReservation, mutate: func(in *BlockInput) { in.NumberOfPeople = 2 }, wantField: "pickDate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newTestBlockService(t)
			in := challengeInput()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), "creator-1", tt.kind, in)

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.ErrorIs(t, err, apperror.ErrValidation)
			assert.Equal(t, tt.wantField, appErr.Field)
			assert.Equal(t, 0, repo.len())
		})
	}
}

func TestBlockCreate_MaxImagesAccepted(t *testing.T) {
	svc, _, _ := newTestBlockService(t)
	in := challengeInput(file("1.png"), attachment.URLItem("https://cdn.test/2.png"), file("3.png"), file("4.png"))

	block, err := svc.Create(context.Background(), "creator-1", model.KindChallenge, in)
	require.NoError(t, err)
	require.Len(t, block.Images, MaxImages)
	assert.Equal(t, "https://cdn.test/2.png", block.Images[1], "order is preserved")
}

func TestBlockCreate_RequiresSignIn(t *testing.T) {
	svc, _, _ := newTestBlockService(t)
	_, err := svc.Create(context.Background(), "", model.KindChallenge, challengeInput())
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestBlockUpdate_KeepsPastDateThatDidNotChange(t *testing.T) {
	svc, repo, _ := newTestBlockService(t)
	repo.put(model.Block{
		ID: "doc-9", BlockID: 1, UserID: "creator-1", Kind: model.KindChallenge,
		Title: "Old", Description: "Ongoing", StartDate: "2026-03-01", EndDate: "2026-03-30",
		Images: []string{}, Status: model.StatusActive,
	})

	in := challengeInput()
	in.StartDate = "2026-03-01"
	in.EndDate = "2026-03-30"
	updated, err := svc.Update(context.Background(), "creator-1", "doc-9", in)
	require.NoError(t, err)
	assert.Equal(t, "Morning run", updated.Title)

	in.StartDate = "2026-03-02"
	_, err = svc.Update(context.Background(), "creator-1", "doc-9", in)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestBlockUpdate_PrunesDroppedImages(t *testing.T) {
	svc, _, files := newTestBlockService(t)
	ctx := context.Background()

	block, err := svc.Create(ctx, "creator-1", model.KindChallenge, challengeInput(file("a.png"), file("b.png")))
	require.NoError(t, err)

	keep := block.Images[1]
	updated, err := svc.Update(ctx, "creator-1", block.ID, challengeInput(attachment.URLItem(keep), file("c.png")))
	require.NoError(t, err)

	assert.Equal(t, []string{keep, "https://files.test/challengeImages/" + block.ID + "/c.png"}, updated.Images)
	assert.Equal(t, []string{block.Images[0]}, files.pruned[attachment.Folder(ChallengeImagePrefix, block.ID)])
}

func TestBlockUpdate_FailedSaveRemovesNewUploads(t *testing.T) {
	svc, repo, files := newTestBlockService(t)
	ctx := context.Background()

	block, err := svc.Create(ctx, "creator-1", model.KindChallenge, challengeInput(file("a.png")))
	require.NoError(t, err)
	folder := attachment.Folder(ChallengeImagePrefix, block.ID)

	repo.updateErr = errors.New("write failed")
	_, err = svc.Update(ctx, "creator-1", block.ID, challengeInput(attachment.URLItem(block.Images[0]), file("b.png")))
	require.Error(t, err)

	assert.Equal(t, block.Images, files.folder(ChallengeImagePrefix, block.ID), "only the stored image is left")
	assert.Equal(t, []string{"https://files.test/" + folder + "b.png"}, files.pruned[folder])

	stored, err := svc.Get(ctx, "creator-1", block.ID)
	require.NoError(t, err)
	assert.Equal(t, block.Images, stored.Images)
}

func TestBlockUpdate_Ownership(t *testing.T) {
	svc, _, _ := newTestBlockService(t)
	block, err := svc.Create(context.Background(), "creator-1", model.KindChallenge, challengeInput())
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), "creator-2", block.ID, challengeInput())
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = svc.Update(context.Background(), "", block.ID, challengeInput())
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = svc.Update(context.Background(), "creator-1", "missing", challengeInput())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestBlockDelete(t *testing.T) {
	svc, repo, files := newTestBlockService(t)
	ctx := context.Background()
	block, err := svc.Create(ctx, "creator-1", model.KindChallenge, challengeInput(file("a.png")))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "creator-2", block.ID), apperror.ErrForbidden)

	require.NoError(t, svc.Delete(ctx, "creator-1", block.ID))
	assert.Equal(t, 0, repo.len())
	assert.Empty(t, files.folder(ChallengeImagePrefix, block.ID))

	next, err := svc.NextID(ctx, "creator-1")
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestBlockDelete_StorageFailureLeavesDeletingForJanitor(t *testing.T) {
	svc, repo, files := newTestBlockService(t)
	ctx := context.Background()
	block, err := svc.Create(ctx, "creator-1", model.KindChallenge, challengeInput(file("a.png")))
	require.NoError(t, err)

	files.deleteErr = errors.New("bucket unavailable")
	require.Error(t, svc.Delete(ctx, "creator-1", block.ID))

	stored, err := repo.GetByID(ctx, block.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleting, stored.Status)

	_, err = svc.Get(ctx, "visitor", block.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound, "deleting blocks are hidden from visitors")

	files.deleteErr = nil
	reaped, err := svc.ReapStale(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 0, repo.len())
}

func TestBlockReapStale_LeavesActiveAndRecentBlocks(t *testing.T) {
	svc, repo, _ := newTestBlockService(t)
	old := time.Now().Add(-2 * time.Hour)
	repo.put(model.Block{ID: "pending-old", UserID: "u", Kind: model.KindChallenge, Status: model.StatusPending, UpdatedAt: old})
	repo.put(model.Block{ID: "pending-new", UserID: "u", Kind: model.KindChallenge, Status: model.StatusPending, UpdatedAt: time.Now()})
	repo.put(model.Block{ID: "active-old", UserID: "u", Kind: model.KindChallenge, Status: model.StatusActive, UpdatedAt: old})

	reaped, err := svc.ReapStale(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	_, err = repo.GetByID(context.Background(), "pending-old")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, 2, repo.len())
}

func TestBlockGet_OwnerSeesPending(t *testing.T) {
	svc, repo, _ := newTestBlockService(t)
	repo.put(model.Block{ID: "p", UserID: "creator-1", Kind: model.KindChallenge, Status: model.StatusPending})

	got, err := svc.Get(context.Background(), "creator-1", "p")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	_, err = svc.Get(context.Background(), "", "p")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
