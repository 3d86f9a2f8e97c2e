package model

import "time"

// Comment is one entry on the public comment board.
//
// Token is the public handle a visitor uses to delete their own comment; ID
// is the storage key and never leaves the server. PasswordHash is a bcrypt
// hash and is excluded from JSON.
type Comment struct {
	ID           string    `json:"-"`
	Token        string    `json:"id"`
	Nickname     string    `json:"nickname"`
	PasswordHash string    `json:"-"`
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ParticipantsCounter is the name of the counter kept alongside the comment board.
const ParticipantsCounter = "participants"

// Counter is a named integer maintained by the store.
type Counter struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}
