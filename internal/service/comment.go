package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/auth"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/repository"
)

const (
	MinCommentPasswordLength = 4
	MaxNicknameLength        = 30
	MaxCommentLength         = 500
)

// CommentService runs the public comment board. Visitors are anonymous;
// the password they choose is the only proof that a comment is theirs.
type CommentService struct {
	repo      repository.CommentRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
	newToken  func() string
}

// NewCommentService takes the bcrypt PasswordService from the auth package.
//
// WHY HASH A COMMENT PASSWORD?
// Visitors pick a password only so they can delete their own comment later.
// People reuse passwords, so it is stored like any other: as a bcrypt hash.
// Delete compares with bcrypt and never sees the stored plaintext, because
// there is none.
func NewCommentService(repo repository.CommentRepository, passwords *auth.PasswordService, logger *slog.Logger) *CommentService {
	return &CommentService{
		repo:      repo,
		passwords: passwords,
		logger:    logger,
		newToken:  uuid.NewString,
	}
}

// Create posts a comment and returns it with its delete token.
func (s *CommentService) Create(ctx context.Context, nickname, password, text string) (*model.Comment, error) {
	nickname = strings.TrimSpace(nickname)
	text = strings.TrimSpace(text)

	switch {
	case nickname == "":
		return nil, apperror.ValidationFailed("nickname", "nickname is required")
	case len([]rune(nickname)) > MaxNicknameLength:
		return nil, apperror.ValidationFailed("nickname", fmt.Sprintf("nickname must be %d characters or fewer", MaxNicknameLength))
	case strings.TrimSpace(password) == "":
		return nil, apperror.ValidationFailed("password", "password is required")
	case len([]rune(password)) < MinCommentPasswordLength:
		return nil, apperror.ValidationFailed("password", fmt.Sprintf("password must be at least %d characters", MinCommentPasswordLength))
	case text == "":
		return nil, apperror.ValidationFailed("comment", "comment is required")
	case len([]rune(text)) > MaxCommentLength:
		return nil, apperror.ValidationFailed("comment", fmt.Sprintf("comment must be %d characters or fewer", MaxCommentLength))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	comment := &model.Comment{
		Token:        s.newToken(),
		Nickname:     nickname,
		PasswordHash: hash,
		Comment:      text,
	}
	if err := s.repo.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("service/comment: creating comment: %w", err)
	}

	s.logger.Info("comment created", slog.String("token", comment.Token))
	return comment, nil
}

// Delete removes the comment with token when password matches. A wrong
// password returns ErrForbidden and changes nothing.
func (s *CommentService) Delete(ctx context.Context, token, password string) error {
	if token == "" {
		return apperror.ValidationFailed("id", "comment id is required")
	}
	if password == "" {
		return apperror.ValidationFailed("password", "password is required")
	}

	comment, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("service/comment: looking up comment: %w", err)
	}

	if err := s.passwords.Verify(comment.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("comment delete rejected", slog.String("token", token))
			return apperror.Forbidden("password does not match")
		}
		return fmt.Errorf("service/comment: verifying password: %w", err)
	}

	if err := s.repo.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("service/comment: deleting comment: %w", err)
	}

	s.logger.Info("comment deleted", slog.String("token", token))
	return nil
}

// List returns the board newest first.
func (s *CommentService) List(ctx context.Context) ([]model.Comment, error) {
	comments, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/comment: listing comments: %w", err)
	}
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.After(comments[j].CreatedAt)
	})
	return comments, nil
}

// Count is the participants counter.
func (s *CommentService) Count(ctx context.Context) (int64, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("service/comment: reading counter: %w", err)
	}
	return n, nil
}

// ReconcileCount resets the counter to the number of stored comments and
// logs when it had drifted.
func (s *CommentService) ReconcileCount(ctx context.Context) (int64, error) {
	before, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("service/comment: reading counter: %w", err)
	}
	after, err := s.repo.Reconcile(ctx)
	if err != nil {
		return 0, fmt.Errorf("service/comment: reconciling counter: %w", err)
	}
	if before != after {
		s.logger.Warn("participant counter drifted",
			slog.Int64("counter", before),
			slog.Int64("comments", after),
		)
	}
	return after, nil
}
