package model

import "time"

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ThemePreference is the per-user page appearance. BackgroundImage is a URL
// or empty for a plain background.
type ThemePreference struct {
	UserID          string    `json:"userId"`
	Theme           Theme     `json:"theme"`
	BackgroundImage string    `json:"backgroundImage"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
