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

var _ repository.LinkRepository = (*LinkStore)(nil)

type linkDoc struct {
	UserID    string    `firestore:"uid"`
	Title     string    `firestore:"title"`
	URL       string    `firestore:"url"`
	ImageURL  string    `firestore:"imageUrl"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type LinkStore struct {
	client *firestore.Client
}

func decodeLink(snap *firestore.DocumentSnapshot) (model.Link, error) {
	var d linkDoc
	if err := snap.DataTo(&d); err != nil {
		return model.Link{}, err
	}
	return model.Link{
		ID:        snap.Ref.ID,
		UserID:    d.UserID,
		Title:     d.Title,
		URL:       d.URL,
		ImageURL:  d.ImageURL,
		CreatedAt: d.CreatedAt,
	}, nil
}

func (s *LinkStore) Create(ctx context.Context, link *model.Link) error {
	link.CreatedAt = time.Now()
	ref, _, err := s.client.Collection(linksCollection).Add(ctx, &linkDoc{
		UserID:    link.UserID,
		Title:     link.Title,
		URL:       link.URL,
		ImageURL:  link.ImageURL,
		CreatedAt: link.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("firestore: creating link: %w", err)
	}
	link.ID = ref.ID
	return nil
}

func (s *LinkStore) GetByID(ctx context.Context, id string) (*model.Link, error) {
	snap, err := s.client.Collection(linksCollection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("link", id)
		}
		return nil, fmt.Errorf("firestore: getting link %s: %w", id, err)
	}
	link, err := decodeLink(snap)
	if err != nil {
		return nil, fmt.Errorf("firestore: decoding link %s: %w", id, err)
	}
	return &link, nil
}

func (s *LinkStore) ListByUser(ctx context.Context, userID string) ([]model.Link, error) {
	iter := s.client.Collection(linksCollection).Where("uid", "==", userID).Documents(ctx)
	links, err := collect(iter, decodeLink)
	if err != nil {
		return nil, fmt.Errorf("firestore: listing links for %s: %w", userID, err)
	}
	sort.SliceStable(links, func(i, j int) bool { return links[i].CreatedAt.Before(links[j].CreatedAt) })
	return links, nil
}

func (s *LinkStore) Update(ctx context.Context, link *model.Link) error {
	_, err := s.client.Collection(linksCollection).Doc(link.ID).Update(ctx, []firestore.Update{
		{Path: "title", Value: link.Title},
		{Path: "url", Value: link.URL},
		{Path: "imageUrl", Value: link.ImageURL},
	})
	if err != nil {
		if isNotFound(err) {
			return apperror.NotFound("link", link.ID)
		}
		return fmt.Errorf("firestore: updating link %s: %w", link.ID, err)
	}
	return nil
}

func (s *LinkStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.Collection(linksCollection).Doc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		if isNotFound(err) {
			return apperror.NotFound("link", id)
		}
		return fmt.Errorf("firestore: deleting link %s: %w", id, err)
	}
	return nil
}
