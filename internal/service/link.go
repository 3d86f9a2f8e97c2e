package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/repository"
)

const (
	// MinDisplayLinks is the number of slots the link grid always shows.
	MinDisplayLinks = 3
	MaxLinksPerUser = 3
	MaxLinkTitle    = 30
)

type LinkService struct {
	repo             repository.LinkRepository
	placeholderImage string
	logger           *slog.Logger
}

// NewLinkService uses placeholderImage for the padding slots of the grid.
func NewLinkService(repo repository.LinkRepository, placeholderImage string, logger *slog.Logger) *LinkService {
	return &LinkService{repo: repo, placeholderImage: placeholderImage, logger: logger}
}

// NormalizeURL prefixes bare "www." addresses with http:// so they are not
// resolved relative to the page.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "www") {
		return "http://" + raw
	}
	return raw
}

// ListForDisplay returns the user's links in store order, padded with
// placeholders to MinDisplayLinks entries.
func (s *LinkService) ListForDisplay(ctx context.Context, userID string) ([]model.Link, error) {
	links, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/link: listing links for %s: %w", userID, err)
	}
	for i := range links {
		links[i].URL = NormalizeURL(links[i].URL)
	}
	return PadLinks(links, MinDisplayLinks, s.placeholderImage), nil
}

// PadLinks appends placeholder entries until links has at least n entries.
func PadLinks(links []model.Link, n int, placeholderImage string) []model.Link {
	out := make([]model.Link, 0, max(len(links), n))
	out = append(out, links...)
	for len(out) < n {
		out = append(out, model.Link{ImageURL: placeholderImage, Placeholder: true})
	}
	return out
}

// ListByUser returns the stored links without padding, for the editor.
func (s *LinkService) ListByUser(ctx context.Context, userID string) ([]model.Link, error) {
	links, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/link: listing links for %s: %w", userID, err)
	}
	return links, nil
}

type LinkInput struct {
	Title    string
	URL      string
	ImageURL string
}

func (s *LinkService) Create(ctx context.Context, userID string, in LinkInput) (*model.Link, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("sign in to add links")
	}
	in, err := validateLink(in)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/link: listing links for %s: %w", userID, err)
	}
	if len(existing) >= MaxLinksPerUser {
		return nil, apperror.ValidationFailed("url", fmt.Sprintf("you can add up to %d links", MaxLinksPerUser))
	}

	link := &model.Link{UserID: userID, Title: in.Title, URL: in.URL, ImageURL: in.ImageURL}
	if err := s.repo.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("service/link: creating link: %w", err)
	}
	s.logger.Info("link created", slog.String("id", link.ID), slog.String("userID", userID))
	return link, nil
}

func (s *LinkService) Update(ctx context.Context, userID, id string, in LinkInput) (*model.Link, error) {
	link, err := s.ownedLink(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	in, err = validateLink(in)
	if err != nil {
		return nil, err
	}

	link.Title, link.URL, link.ImageURL = in.Title, in.URL, in.ImageURL
	if err := s.repo.Update(ctx, link); err != nil {
		return nil, fmt.Errorf("service/link: updating link %s: %w", id, err)
	}
	return link, nil
}

func (s *LinkService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.ownedLink(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("service/link: deleting link %s: %w", id, err)
	}
	s.logger.Info("link deleted", slog.String("id", id))
	return nil
}

func (s *LinkService) ownedLink(ctx context.Context, userID, id string) (*model.Link, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("sign in to edit links")
	}
	link, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/link: getting link %s: %w", id, err)
	}
	if link.UserID != userID {
		return nil, apperror.Forbidden("you do not own this link")
	}
	return link, nil
}

func validateLink(in LinkInput) (LinkInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.URL = NormalizeURL(in.URL)
	in.ImageURL = strings.TrimSpace(in.ImageURL)

	if in.URL == "" {
		return in, apperror.ValidationFailed("url", "url is required")
	}
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return in, apperror.ValidationFailed("url", "url must start with http://, https:// or www")
	}
	if len([]rune(in.Title)) > MaxLinkTitle {
		return in, apperror.ValidationFailed("title", fmt.Sprintf("title must be %d characters or fewer", MaxLinkTitle))
	}
	return in, nil
}
