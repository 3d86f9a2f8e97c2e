package model

import "time"

// User is a creator account. Creators sign in with GitHub; visitors who
// comment or browse a page never have a User row.
//
// GitHubID is GitHub's stable numeric id and is unique. ID is our own xid so
// that page URLs (/u/{id}) and storage paths do not depend on GitHub's
// numbering. Email can be empty when the GitHub account hides it.
type User struct {
	ID        string    `json:"id"        db:"id"`
	GitHubID  int64     `json:"githubId"  db:"github_id"`
	Login     string    `json:"login"     db:"login"`
	Email     string    `json:"email"     db:"email"`
	AvatarURL string    `json:"avatarUrl" db:"avatar_url"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
