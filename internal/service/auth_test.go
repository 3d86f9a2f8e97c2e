package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/auth"
	"github.com/sakif/linkblocks/internal/model"
)

// fakeUsers keys creators by GitHub id the way both stores do.
type fakeUsers struct {
	byID     map[string]*model.User
	byGitHub map[int64]string
	err      error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]*model.User{}, byGitHub: map[int64]string{}}
}

func (f *fakeUsers) Upsert(_ context.Context, user *model.User) error {
	if f.err != nil {
		return f.err
	}
	id, ok := f.byGitHub[user.GitHubID]
	if !ok {
		id = fmt.Sprintf("creator-%d", len(f.byID)+1)
		f.byGitHub[user.GitHubID] = id
		user.CreatedAt = fixedNow
	} else {
		user.CreatedAt = f.byID[id].CreatedAt
	}
	user.ID = id
	user.UpdatedAt = fixedNow
	stored := *user
	f.byID[id] = &stored
	return nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, apperror.NotFound("user", id)
}

func newAuthFixture(t *testing.T) (*AuthService, *fakeUsers) {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	require.NoError(t, err)
	users := newFakeUsers()
	return NewAuthService(users, tokens, testLogger()), users
}

func TestLoginOrRegisterGitHub(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()

	first, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{
		ID:        42,
		Login:     "octocat",
		AvatarURL: "https://avatars.test/42",
	})
	require.NoError(t, err)
	assert.Equal(t, "creator-1", first.User.ID)
	assert.NotEmpty(t, first.Token)

	subject, err := svc.ValidateToken(first.Token)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, subject)

	// A renamed GitHub account keeps its page URL.
	again, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 42, Login: "octo-renamed"})
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, again.User.ID)
	assert.Equal(t, "octo-renamed", again.User.Login)

	other, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 7, Login: "mina"})
	require.NoError(t, err)
	assert.NotEqual(t, first.User.ID, other.User.ID)
}

func TestLoginOrRegisterGitHub_Failures(t *testing.T) {
	svc, users := newAuthFixture(t)

	_, err := svc.LoginOrRegisterGitHub(context.Background(), nil)
	assert.Error(t, err)

	users.err = errors.New("store unavailable")
	_, err = svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 1, Login: "x"})
	assert.ErrorIs(t, err, users.err)
}

func TestGetUserByID(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()

	res, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 3, Login: "findme"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      string
		want    string
		wantErr error
	}{
		{name: "known creator", id: res.User.ID, want: "findme"},
		{name: "signed out", id: "", wantErr: apperror.ErrUnauthorized},
		{name: "unknown creator", id: "creator-99", wantErr: apperror.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := svc.GetUserByID(ctx, tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, user.Login)
		})
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	svc, _ := newAuthFixture(t)
	_, err := svc.ValidateToken("this.is.garbage")
	assert.Error(t, err)
}
