package model

import "time"

// Link is one button in a creator's link list.
type Link struct {
	ID        string    `json:"id"`
	UserID    string    `json:"uid"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	ImageURL  string    `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt"`

	// Placeholder marks a padding slot added for display; it is never stored.
	Placeholder bool `json:"placeholder,omitempty"`
}
