// Package model defines the data structures shared by the stores, services
// and handlers. Struct tags give the JSON shape the editor and page consume.
package model

import "time"

// BlockKind names the editor a block was created with.
type BlockKind string

const (
	KindChallenge   BlockKind = "challenge"
	KindReservation BlockKind = "reservation"
)

// Valid reports whether k is one of the known block kinds.
func (k BlockKind) Valid() bool {
	return k == KindChallenge || k == KindReservation
}

// BlockStatus tracks how far the multi-step save has progressed.
//
// A block is written as "pending" before its attachments are uploaded and
// flipped to "active" once the image URLs are linked. Deletion marks it
// "deleting" before the attachment folder is removed. Anything that stays
// pending or deleting past the janitor's grace period is reaped.
type BlockStatus string

const (
	StatusPending  BlockStatus = "pending"
	StatusActive   BlockStatus = "active"
	StatusDeleting BlockStatus = "deleting"
)

// Block is a configurable content unit on a creator's page.
//
// ID is the storage key; BlockID is the per-user sequential number used for
// ordering blocks on the page. (UserID, BlockID) is unique.
//
// Dates are kept as "YYYY-MM-DD" strings, the same shape the editor submits.
// NumberOfPeople and PickDate are only meaningful for reservations.
type Block struct {
	ID             string      `json:"id"`
	BlockID        int         `json:"blockId"`
	UserID         string      `json:"userId"`
	Kind           BlockKind   `json:"blockKind"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	StartDate      string      `json:"startDate"`
	EndDate        string      `json:"endDate"`
	NumberOfPeople int         `json:"numberOfPeople,omitempty"`
	PickDate       string      `json:"pickDate,omitempty"`
	Images         []string    `json:"images"`
	Status         BlockStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}
