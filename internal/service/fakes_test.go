package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/attachment"
	"github.com/sakif/linkblocks/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBlockRepo enforces the (user, blockId) uniqueness the real stores do.
type fakeBlockRepo struct {
	mu     sync.Mutex
	blocks map[string]*model.Block
	nextID int

	// conflicts makes the next N Create calls fail with ErrConflict.
	conflicts int
	updateErr error
	deleteErr error
	creates   int
}

func newFakeBlockRepo() *fakeBlockRepo {
	return &fakeBlockRepo{blocks: make(map[string]*model.Block)}
}

func (f *fakeBlockRepo) Create(_ context.Context, block *model.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.conflicts > 0 {
		f.conflicts--
		return apperror.Conflict("block", fmt.Sprintf("%s/%d", block.UserID, block.BlockID))
	}
	for _, b := range f.blocks {
		if b.UserID == block.UserID && b.BlockID == block.BlockID {
			return apperror.Conflict("block", fmt.Sprintf("%s/%d", block.UserID, block.BlockID))
		}
	}
	f.nextID++
	block.ID = fmt.Sprintf("doc-%d", f.nextID)
	block.CreatedAt = time.Now()
	block.UpdatedAt = block.CreatedAt
	stored := *block
	stored.Images = append([]string(nil), block.Images...)
	f.blocks[block.ID] = &stored
	return nil
}

func (f *fakeBlockRepo) GetByID(_ context.Context, id string) (*model.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[id]
	if !ok {
		return nil, apperror.NotFound("block", id)
	}
	out := *b
	out.Images = append([]string(nil), b.Images...)
	return &out, nil
}

func (f *fakeBlockRepo) ListByUser(_ context.Context, userID string) ([]model.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Block{}
	for _, b := range f.blocks {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockID < out[j].BlockID })
	return out, nil
}

func (f *fakeBlockRepo) Update(_ context.Context, block *model.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.blocks[block.ID]; !ok {
		return apperror.NotFound("block", block.ID)
	}
	stored := *block
	stored.Images = append([]string(nil), block.Images...)
	f.blocks[block.ID] = &stored
	return nil
}

func (f *fakeBlockRepo) SetStatus(_ context.Context, id string, status model.BlockStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[id]
	if !ok {
		return apperror.NotFound("block", id)
	}
	b.Status = status
	return nil
}

func (f *fakeBlockRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.blocks[id]; !ok {
		return apperror.NotFound("block", id)
	}
	delete(f.blocks, id)
	return nil
}

func (f *fakeBlockRepo) ListStale(_ context.Context, statuses []model.BlockStatus, before time.Time) ([]model.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Block{}
	for _, b := range f.blocks {
		for _, s := range statuses {
			if b.Status == s && b.UpdatedAt.Before(before) {
				out = append(out, *b)
			}
		}
	}
	return out, nil
}

func (f *fakeBlockRepo) put(b model.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[b.ID] = &b
}

func (f *fakeBlockRepo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blocks)
}

// fakeAttachments records folders and hands out deterministic URLs.
type fakeAttachments struct {
	mu      sync.Mutex
	objects map[string][]string // folder → urls
	deleted []string
	pruned  map[string][]string

	resolveErr error
	deleteErr  error
}

func newFakeAttachments() *fakeAttachments {
	return &fakeAttachments{objects: make(map[string][]string), pruned: make(map[string][]string)}
}

func (f *fakeAttachments) Resolve(_ context.Context, prefix, recordID string, items []attachment.Item) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	folder := attachment.Folder(prefix, recordID)
	urls := make([]string, 0, len(items))
	for _, it := range items {
		if it.File == nil {
			urls = append(urls, it.URL)
			continue
		}
		u := "https://files.test/" + folder + it.File.Name
		f.objects[folder] = append(f.objects[folder], u)
		urls = append(urls, u)
	}
	return urls, nil
}

func (f *fakeAttachments) DeleteFolder(_ context.Context, prefix, recordID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	folder := attachment.Folder(prefix, recordID)
	n := len(f.objects[folder])
	delete(f.objects, folder)
	f.deleted = append(f.deleted, folder)
	return n, nil
}

func (f *fakeAttachments) Prune(_ context.Context, prefix, recordID string, keep []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder := attachment.Folder(prefix, recordID)
	kept := map[string]bool{}
	for _, k := range keep {
		kept[k] = true
	}
	var remaining []string
	n := 0
	for _, u := range f.objects[folder] {
		if kept[u] {
			remaining = append(remaining, u)
			continue
		}
		f.pruned[folder] = append(f.pruned[folder], u)
		n++
	}
	f.objects[folder] = remaining
	return n, nil
}

func (f *fakeAttachments) folder(prefix, recordID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[attachment.Folder(prefix, recordID)]
}

// fakeCommentRepo keeps the counter in step with the comments the way the
// transactional stores do.
type fakeCommentRepo struct {
	mu      sync.Mutex
	byToken map[string]model.Comment
	counter int64
	seq     int
	clock   time.Time
}

func newFakeCommentRepo() *fakeCommentRepo {
	return &fakeCommentRepo{
		byToken: make(map[string]model.Comment),
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeCommentRepo) Create(_ context.Context, c *model.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byToken[c.Token]; ok {
		return apperror.Conflict("comment", c.Token)
	}
	f.seq++
	c.ID = fmt.Sprintf("c-%d", f.seq)
	c.CreatedAt = f.clock.Add(time.Duration(f.seq) * time.Minute)
	f.byToken[c.Token] = *c
	f.counter++
	return nil
}

func (f *fakeCommentRepo) GetByToken(_ context.Context, token string) (*model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byToken[token]
	if !ok {
		return nil, apperror.NotFound("comment", token)
	}
	return &c, nil
}

func (f *fakeCommentRepo) DeleteByToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byToken[token]; !ok {
		return apperror.NotFound("comment", token)
	}
	delete(f.byToken, token)
	if f.counter > 0 {
		f.counter--
	}
	return nil
}

func (f *fakeCommentRepo) List(_ context.Context) ([]model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Comment, 0, len(f.byToken))
	for _, c := range f.byToken {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeCommentRepo) Count(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter, nil
}

func (f *fakeCommentRepo) Reconcile(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter = int64(len(f.byToken))
	return f.counter, nil
}

type fakeLinkRepo struct {
	links []model.Link
	seq   int
}

func (f *fakeLinkRepo) Create(_ context.Context, l *model.Link) error {
	f.seq++
	l.ID = fmt.Sprintf("link-%d", f.seq)
	l.CreatedAt = time.Now()
	f.links = append(f.links, *l)
	return nil
}

func (f *fakeLinkRepo) GetByID(_ context.Context, id string) (*model.Link, error) {
	for _, l := range f.links {
		if l.ID == id {
			out := l
			return &out, nil
		}
	}
	return nil, apperror.NotFound("link", id)
}

func (f *fakeLinkRepo) ListByUser(_ context.Context, userID string) ([]model.Link, error) {
	out := []model.Link{}
	for _, l := range f.links {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLinkRepo) Update(_ context.Context, l *model.Link) error {
	for i := range f.links {
		if f.links[i].ID == l.ID {
			f.links[i] = *l
			return nil
		}
	}
	return apperror.NotFound("link", l.ID)
}

func (f *fakeLinkRepo) Delete(_ context.Context, id string) error {
	for i := range f.links {
		if f.links[i].ID == id {
			f.links = append(f.links[:i], f.links[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("link", id)
}

type fakeThemeRepo struct {
	mu     sync.Mutex
	prefs  map[string]model.ThemePreference
	putErr error
	puts   int
}

func newFakeThemeRepo() *fakeThemeRepo {
	return &fakeThemeRepo{prefs: make(map[string]model.ThemePreference)}
}

func (f *fakeThemeRepo) Get(_ context.Context, userID string) (*model.ThemePreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prefs[userID]
	if !ok {
		return nil, apperror.NotFound("theme", userID)
	}
	return &p, nil
}

func (f *fakeThemeRepo) Put(_ context.Context, pref *model.ThemePreference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	pref.UpdatedAt = time.Now()
	f.prefs[pref.UserID] = *pref
	return nil
}

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, prefix, recordID string, file *attachment.File) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key := attachment.Key(prefix, recordID, file.Name)
	f.keys = append(f.keys, key)
	return "https://files.test/" + strings.TrimPrefix(key, "/"), nil
}
