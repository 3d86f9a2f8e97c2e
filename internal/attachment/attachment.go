// Package attachment turns an editor's ordered image list, a mix of already
// uploaded URLs and new files, into the final list of URLs for a record.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/linkblocks/internal/blob"
	"github.com/sakif/linkblocks/internal/imaging"
)

// File is a new upload read from a multipart part.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Item is one slot of an image list. Exactly one of URL and File is set.
type Item struct {
	URL  string
	File *File
}

func URLItem(url string) Item { return Item{URL: url} }

func FileItem(f *File) Item { return Item{File: f} }

var ErrEmptyItem = errors.New("attachment: item has neither url nor file")

// Uploader writes files through a blob.Store.
type Uploader struct {
	store    blob.Store
	logger   *slog.Logger
	compress *imaging.Options
	// deleteConcurrency bounds the fan-out of DeleteFolder.
	deleteConcurrency int
}

type Option func(*Uploader)

// WithCompression runs every uploaded file through imaging.Compress first.
func WithCompression(opts imaging.Options) Option {
	return func(u *Uploader) { u.compress = &opts }
}

func New(store blob.Store, logger *slog.Logger, opts ...Option) *Uploader {
	u := &Uploader{store: store, logger: logger, deleteConcurrency: 8}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Folder is the key prefix that holds every attachment of one record.
func Folder(prefix, recordID string) string {
	return path.Join(prefix, recordID) + "/"
}

// Key is where a file named name is stored for a record. Only the base name
// is kept so a client cannot write outside the record folder.
func Key(prefix, recordID, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "file"
	}
	return path.Join(prefix, recordID, base)
}

// Resolve returns one URL per item, in input order. URL items pass through
// unchanged; files are uploaded and replaced by their public URL. The first
// failure aborts the batch. Objects already written stay in the folder and
// are removed by DeleteFolder or Prune when the caller compensates.
//
// A new file never replaces an object that is already in the folder or was
// written earlier in the batch: a repeated name gets a -1, -2, ... suffix.
func (u *Uploader) Resolve(ctx context.Context, prefix, recordID string, items []Item) ([]string, error) {
	var taken map[string]bool
	if slices.ContainsFunc(items, func(it Item) bool { return it.File != nil }) {
		existing, err := u.store.List(ctx, Folder(prefix, recordID))
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", Folder(prefix, recordID), err)
		}
		taken = make(map[string]bool, len(existing)+len(items))
		for _, key := range existing {
			taken[key] = true
		}
	}

	urls := make([]string, len(items))
	for i, item := range items {
		switch {
		case item.File != nil:
			url, err := u.upload(ctx, prefix, recordID, item.File, taken)
			if err != nil {
				return nil, fmt.Errorf("uploading image %d (%s): %w", i, item.File.Name, err)
			}
			urls[i] = url
		case item.URL != "":
			urls[i] = item.URL
		default:
			return nil, fmt.Errorf("image %d: %w", i, ErrEmptyItem)
		}
	}
	return urls, nil
}

// Upload stores one file and returns its URL. Callers pick unique names.
func (u *Uploader) Upload(ctx context.Context, prefix, recordID string, f *File) (string, error) {
	return u.upload(ctx, prefix, recordID, f, nil)
}

// upload writes f under the record folder. When taken is non-nil the key is
// made unique against it and then recorded there.
func (u *Uploader) upload(ctx context.Context, prefix, recordID string, f *File, taken map[string]bool) (string, error) {
	data, contentType, name := f.Data, f.ContentType, f.Name
	if u.compress != nil {
		res, err := imaging.Compress(f.Data, *u.compress)
		if err != nil {
			return "", err
		}
		if res.ContentType != contentType {
			name = withExtension(name, res.ContentType)
		}
		data, contentType = res.Data, res.ContentType
	}

	key := Key(prefix, recordID, name)
	if taken != nil {
		key = uniqueKey(key, taken)
		taken[key] = true
	}
	if err := u.store.Put(ctx, key, contentType, data); err != nil {
		return "", err
	}
	u.logger.Debug("attachment stored", "key", key, "bytes", len(data))
	return u.store.URL(key), nil
}

// uniqueKey returns key, or key with "-n" before its extension for the
// smallest n that is not taken.
func uniqueKey(key string, taken map[string]bool) string {
	if !taken[key] {
		return key
	}
	ext := path.Ext(path.Base(key))
	stem := strings.TrimSuffix(key, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, n, ext)
		if !taken[candidate] {
			return candidate
		}
	}
}

// withExtension swaps the extension of name for the one matching contentType.
func withExtension(name, contentType string) string {
	exts, _ := mime.ExtensionsByType(contentType)
	if len(exts) == 0 {
		return name
	}
	ext := exts[0]
	if contentType == "image/jpeg" {
		ext = ".jpg"
	}
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}

// DeleteFolder removes every object under the record folder concurrently and
// returns how many were removed. The first error cancels the rest.
func (u *Uploader) DeleteFolder(ctx context.Context, prefix, recordID string) (int, error) {
	folder := Folder(prefix, recordID)
	keys, err := u.store.List(ctx, folder)
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", folder, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.deleteConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			err := u.store.Delete(gctx, key)
			if err != nil && !errors.Is(err, blob.ErrNotExist) {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	u.logger.Info("attachment folder deleted", "folder", folder, "objects", len(keys))
	return len(keys), nil
}

// Prune deletes objects in the record folder whose URL is not in keep. The
// editor calls it after an update drops images from a record.
func (u *Uploader) Prune(ctx context.Context, prefix, recordID string, keep []string) (int, error) {
	folder := Folder(prefix, recordID)
	keys, err := u.store.List(ctx, folder)
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", folder, err)
	}

	wanted := make(map[string]bool, len(keep))
	for _, url := range keep {
		wanted[url] = true
	}

	removed := 0
	for _, key := range keys {
		if wanted[u.store.URL(key)] {
			continue
		}
		if err := u.store.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotExist) {
			return removed, fmt.Errorf("deleting %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}
