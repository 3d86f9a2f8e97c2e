package attachment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sakif/linkblocks/internal/blob"
	"github.com/sakif/linkblocks/internal/blob/local"
)

// memStore is an in-memory blob.Store. failPut and failDelete inject errors
// for keys containing the given substring.
type memStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failPut    string
	failDelete string
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, key, _ string, data []byte) error {
	if m.failPut != "" && strings.Contains(key, m.failPut) {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := []string{}
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	if m.failDelete != "" && strings.Contains(key, m.failDelete) {
		return errors.New("permission denied")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return blob.ErrNotExist
	}
	delete(m.objects, key)
	return nil
}

func (m *memStore) URL(key string) string { return "https://cdn.test/" + key }

func newTestUploader(store blob.Store) *Uploader {
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolve_PreservesOrderAndPassesURLsThrough(t *testing.T) {
	store := newMemStore()
	u := newTestUploader(store)

	items := []Item{
		URLItem("https://cdn.test/challengeImages/doc1/old.jpg"),
		FileItem(&File{Name: "new.jpg", ContentType: "image/jpeg", Data: []byte("n")}),
		URLItem("https://elsewhere.test/x.png"),
		FileItem(&File{Name: "second.png", ContentType: "image/png", Data: []byte("s")}),
	}

	got, err := u.Resolve(context.Background(), "challengeImages", "doc1", items)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []string{
		"https://cdn.test/challengeImages/doc1/old.jpg",
		"https://cdn.test/challengeImages/doc1/new.jpg",
		"https://elsewhere.test/x.png",
		"https://cdn.test/challengeImages/doc1/second.png",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
	if len(store.objects) != 2 {
		t.Errorf("stored %d objects, want 2", len(store.objects))
	}
}

func TestResolve_EmptyInput(t *testing.T) {
	got, err := newTestUploader(newMemStore()).Resolve(context.Background(), "challengeImages", "doc1", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if diff := cmp.Diff([]string{}, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_OneFailureAbortsBatch(t *testing.T) {
	store := newMemStore()
	store.failPut = "bad.jpg"
	u := newTestUploader(store)

	items := []Item{
		FileItem(&File{Name: "ok.jpg", Data: []byte("1")}),
		FileItem(&File{Name: "bad.jpg", Data: []byte("2")}),
	}

	got, err := u.Resolve(context.Background(), "reservationImages", "doc9", items)
	if err == nil {
		t.Fatal("Resolve() should fail when one upload fails")
	}
	if got != nil {
		t.Errorf("Resolve() returned %v alongside an error", got)
	}
}

func TestResolve_EmptyItemIsError(t *testing.T) {
	_, err := newTestUploader(newMemStore()).Resolve(context.Background(), "p", "r", []Item{{}})
	if !errors.Is(err, ErrEmptyItem) {
		t.Errorf("Resolve() error = %v, want ErrEmptyItem", err)
	}
}

func TestResolve_RepeatedNamesGetDistinctKeys(t *testing.T) {
	store := newMemStore()
	u := newTestUploader(store)

	items := []Item{
		FileItem(&File{Name: "cover.jpg", Data: []byte("1")}),
		FileItem(&File{Name: "cover.jpg", Data: []byte("2")}),
		FileItem(&File{Name: "scan", Data: []byte("3")}),
		FileItem(&File{Name: "scan", Data: []byte("4")}),
	}

	got, err := u.Resolve(context.Background(), "challengeImages", "doc1", items)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []string{
		"https://cdn.test/challengeImages/doc1/cover.jpg",
		"https://cdn.test/challengeImages/doc1/cover-1.jpg",
		"https://cdn.test/challengeImages/doc1/scan",
		"https://cdn.test/challengeImages/doc1/scan-1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
	if string(store.objects["challengeImages/doc1/cover.jpg"]) != "1" {
		t.Errorf("first cover.jpg was overwritten")
	}
}

func TestResolve_KeepsExistingObjectBytes(t *testing.T) {
	store := newMemStore()
	store.objects["challengeImages/doc1/cover.jpg"] = []byte("kept")
	store.objects["challengeImages/doc1/cover-1.jpg"] = []byte("dropped")
	u := newTestUploader(store)

	items := []Item{
		URLItem("https://cdn.test/challengeImages/doc1/cover.jpg"),
		FileItem(&File{Name: "cover.jpg", Data: []byte("new")}),
	}

	got, err := u.Resolve(context.Background(), "challengeImages", "doc1", items)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []string{
		"https://cdn.test/challengeImages/doc1/cover.jpg",
		"https://cdn.test/challengeImages/doc1/cover-2.jpg",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
	if string(store.objects["challengeImages/doc1/cover.jpg"]) != "kept" {
		t.Errorf("kept cover.jpg was overwritten")
	}
	if string(store.objects["challengeImages/doc1/cover-1.jpg"]) != "dropped" {
		t.Errorf("cover-1.jpg was overwritten")
	}
}

func TestResolve_LocalStoreAcceptsDottedNames(t *testing.T) {
	store, err := local.New(t.TempDir(), "/files")
	if err != nil {
		t.Fatalf("local.New() error = %v", err)
	}

	got, err := newTestUploader(store).Resolve(context.Background(), "challengeImages", "abc", []Item{
		FileItem(&File{Name: "summer..trip.jpg", ContentType: "image/jpeg", Data: []byte("jpg")}),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if diff := cmp.Diff([]string{"/files/challengeImages/abc/summer..trip.jpg"}, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestUniqueKey(t *testing.T) {
	taken := map[string]bool{
		"p/r/a.jpg":   true,
		"p/r/a-1.jpg": true,
		"p/r/b":       true,
	}
	tests := []struct{ key, want string }{
		{"p/r/new.jpg", "p/r/new.jpg"},
		{"p/r/a.jpg", "p/r/a-2.jpg"},
		{"p/r/b", "p/r/b-1"},
	}
	for _, tt := range tests {
		if got := uniqueKey(tt.key, taken); got != tt.want {
			t.Errorf("uniqueKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestKey_StripsDirectories(t *testing.T) {
	tests := []struct {
		name string
		file string
		want string
	}{
		{"plain", "cover.jpg", "challengeImages/doc1/cover.jpg"},
		{"unix path", "../../etc/passwd", "challengeImages/doc1/passwd"},
		{"windows path", `C:\Users\me\pic.png`, "challengeImages/doc1/pic.png"},
		{"empty", "", "challengeImages/doc1/file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key("challengeImages", "doc1", tt.file); got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}

func TestDeleteFolder_RemovesOnlyThatRecord(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	for _, k := range []string{"challengeImages/doc1/a.jpg", "challengeImages/doc1/b.jpg", "challengeImages/doc10/c.jpg"} {
		store.Put(ctx, k, "", []byte("x"))
	}

	n, err := newTestUploader(store).DeleteFolder(ctx, "challengeImages", "doc1")
	if err != nil {
		t.Fatalf("DeleteFolder() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteFolder() = %d, want 2", n)
	}

	left, _ := store.List(ctx, "")
	if diff := cmp.Diff([]string{"challengeImages/doc10/c.jpg"}, left); diff != "" {
		t.Errorf("remaining objects (-want +got):\n%s", diff)
	}
}

func TestDeleteFolder_PropagatesFailure(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	store.Put(ctx, "reservationImages/doc2/a.jpg", "", []byte("x"))
	store.Put(ctx, "reservationImages/doc2/b.jpg", "", []byte("x"))
	store.failDelete = "b.jpg"

	if _, err := newTestUploader(store).DeleteFolder(ctx, "reservationImages", "doc2"); err == nil {
		t.Fatal("DeleteFolder() should return the delete failure")
	}
}

func TestPrune_KeepsListedURLs(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	for _, k := range []string{"challengeImages/doc1/a.jpg", "challengeImages/doc1/b.jpg", "challengeImages/doc1/c.jpg"} {
		store.Put(ctx, k, "", []byte("x"))
	}

	keep := []string{"https://cdn.test/challengeImages/doc1/b.jpg", "https://elsewhere.test/z.png"}
	n, err := newTestUploader(store).Prune(ctx, "challengeImages", "doc1", keep)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}

	left, _ := store.List(ctx, "")
	if diff := cmp.Diff([]string{"challengeImages/doc1/b.jpg"}, left); diff != "" {
		t.Errorf("remaining objects (-want +got):\n%s", diff)
	}
}

func TestWithExtension(t *testing.T) {
	tests := []struct {
		name, contentType, want string
	}{
		{"bg.png", "image/jpeg", "bg.jpg"},
		{"bg", "image/jpeg", "bg.jpg"},
		{"bg.jpeg", "image/png", "bg.png"},
		{"bg.bin", "application/x-unknown-thing", "bg.bin"},
	}
	for _, tt := range tests {
		if got := withExtension(tt.name, tt.contentType); got != tt.want {
			t.Errorf("withExtension(%q, %q) = %q, want %q", tt.name, tt.contentType, got, tt.want)
		}
	}
}
