package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/attachment"
	"github.com/sakif/linkblocks/internal/imaging"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/repository"
	"github.com/sakif/linkblocks/internal/theme"
)

// BackgroundImagePrefix is the blob folder for uploaded backgrounds, one
// sub-folder per user.
const BackgroundImagePrefix = "backgroundImages"

// Choice names a staging edit.
type Choice string

const (
	ChoiceDark       Choice = "dark"
	ChoiceLight      Choice = "light"
	ChoiceSample     Choice = "sample"
	ChoiceBackground Choice = "background"
)

// FileUploader stores one file and returns its URL.
type FileUploader interface {
	Upload(ctx context.Context, prefix, recordID string, f *attachment.File) (string, error)
}

// ThemeService is the only writer of theme preferences. It keeps one
// staging picker per user; a per-user lock serializes edits and applies.
type ThemeService struct {
	repo        repository.ThemeRepository
	uploader    FileUploader
	sampleImage string
	logger      *slog.Logger

	mu      sync.Mutex
	pickers map[string]*pickerEntry
}

// pickerEntry is one user's staging slot. refs counts callers holding it
// and is guarded by ThemeService.mu; picker is guarded by mu.
type pickerEntry struct {
	mu     sync.Mutex
	picker *theme.Picker
	refs   int
}

// NewThemeService uses sampleImage for ChoiceSample. uploader should
// compress images; backgrounds are limited to 1 MB and 1000 px.
func NewThemeService(repo repository.ThemeRepository, uploader FileUploader, sampleImage string, logger *slog.Logger) *ThemeService {
	return &ThemeService{
		repo:        repo,
		uploader:    uploader,
		sampleImage: sampleImage,
		logger:      logger,
		pickers:     make(map[string]*pickerEntry),
	}
}

// Get returns the applied preference, or theme.Default if none was saved.
func (s *ThemeService) Get(ctx context.Context, userID string) (theme.Preference, error) {
	stored, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return theme.Default, nil
		}
		return theme.Preference{}, fmt.Errorf("service/theme: loading preference for %s: %w", userID, err)
	}
	return theme.FromModel(stored), nil
}

// acquire returns the user's entry, creating it if needed. The caller must
// call release once it no longer holds e.mu.
func (s *ThemeService) acquire(userID string) (*pickerEntry, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pickers[userID]
	if !ok {
		e = &pickerEntry{}
		s.pickers[userID] = e
	}
	e.refs++
	return e, func() { s.release(userID, e) }
}

// release drops the entry once nobody holds it and no staging is open, so
// the map only holds users who are editing right now.
func (s *ThemeService) release(userID string, e *pickerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs > 0 {
		return
	}
	e.mu.Lock()
	idle := e.picker == nil
	e.mu.Unlock()
	if idle {
		delete(s.pickers, userID)
	}
}

// OpenStaging starts staging from the stored preference and returns the
// staged copy.
func (s *ThemeService) OpenStaging(ctx context.Context, userID string) (theme.Preference, error) {
	if userID == "" {
		return theme.Preference{}, apperror.Unauthorized("sign in to change the theme")
	}
	applied, err := s.Get(ctx, userID)
	if err != nil {
		return theme.Preference{}, err
	}

	e, release := s.acquire(userID)
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.picker = theme.NewPicker(applied)
	e.picker.Open()
	return e.picker.Staged()
}

// Stage applies one edit to the open staging area.
func (s *ThemeService) Stage(ctx context.Context, userID string, choice Choice, backgroundImage string) (theme.Preference, error) {
	return s.withPicker(userID, func(p *theme.Picker) error {
		switch choice {
		case ChoiceDark:
			return p.ChooseDark()
		case ChoiceLight:
			return p.ChooseLight()
		case ChoiceSample:
			return p.ChooseSample(s.sampleImage)
		case ChoiceBackground:
			if strings.TrimSpace(backgroundImage) == "" {
				return apperror.ValidationFailed("backgroundImage", "backgroundImage is required")
			}
			return p.ChooseBackground(backgroundImage)
		default:
			return apperror.ValidationFailed("choice", fmt.Sprintf("unknown choice %q", choice))
		}
	})
}

// UploadBackground stores f under backgroundImages/<user>/<random name>
// and stages it.
func (s *ThemeService) UploadBackground(ctx context.Context, userID string, f *attachment.File) (theme.Preference, error) {
	if userID == "" {
		return theme.Preference{}, apperror.Unauthorized("sign in to change the theme")
	}
	if f == nil || len(f.Data) == 0 {
		return theme.Preference{}, apperror.ValidationFailed("file", "an image file is required")
	}
	if !s.isOpen(userID) {
		return theme.Preference{}, notStaging()
	}

	named := *f
	named.Name = uuid.NewString() + strings.ToLower(path.Ext(f.Name))

	url, err := s.uploader.Upload(ctx, BackgroundImagePrefix, userID, &named)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupported) {
			return theme.Preference{}, apperror.ValidationFailed("file", "background must be a PNG, JPEG, GIF or WebP image")
		}
		return theme.Preference{}, fmt.Errorf("service/theme: uploading background: %w", err)
	}
	s.logger.Info("background uploaded", slog.String("userID", userID), slog.String("url", url))

	return s.withPicker(userID, func(p *theme.Picker) error {
		return p.ChooseBackground(url)
	})
}

// CloseStaging discards the staged edits. Closing twice is not an error.
func (s *ThemeService) CloseStaging(userID string) {
	e, release := s.acquire(userID)
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.picker != nil && e.picker.IsOpen() {
		e.picker.Close()
	}
	e.picker = nil
}

// ApplyStaging saves the staged preference and only then marks it applied.
// A failed save leaves staging open so the creator can retry.
func (s *ThemeService) ApplyStaging(ctx context.Context, userID string) (theme.Preference, error) {
	if userID == "" {
		return theme.Preference{}, apperror.Unauthorized("sign in to change the theme")
	}
	e, release := s.acquire(userID)
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.picker == nil {
		return theme.Preference{}, notStaging()
	}
	staged, err := e.picker.Staged()
	if err != nil {
		return theme.Preference{}, notStaging()
	}

	err = s.repo.Put(ctx, &model.ThemePreference{
		UserID:          userID,
		Theme:           staged.Theme,
		BackgroundImage: staged.BackgroundImage,
	})
	if err != nil {
		return theme.Preference{}, fmt.Errorf("service/theme: saving preference for %s: %w", userID, err)
	}

	applied, err := e.picker.Apply()
	if err != nil {
		return theme.Preference{}, notStaging()
	}
	e.picker = nil

	s.logger.Info("theme applied",
		slog.String("userID", userID),
		slog.String("theme", string(applied.Theme)),
		slog.Bool("background", applied.BackgroundImage != ""),
	)
	return applied, nil
}

func (s *ThemeService) isOpen(userID string) bool {
	e, release := s.acquire(userID)
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.picker != nil && e.picker.IsOpen()
}

func (s *ThemeService) withPicker(userID string, fn func(*theme.Picker) error) (theme.Preference, error) {
	if userID == "" {
		return theme.Preference{}, apperror.Unauthorized("sign in to change the theme")
	}
	e, release := s.acquire(userID)
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.picker == nil {
		return theme.Preference{}, notStaging()
	}
	if err := fn(e.picker); err != nil {
		if errors.Is(err, theme.ErrNotStaging) {
			return theme.Preference{}, notStaging()
		}
		return theme.Preference{}, err
	}
	return e.picker.Staged()
}

func notStaging() error {
	return apperror.ValidationFailed("staging", "open the theme settings first")
}
