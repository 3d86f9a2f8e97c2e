// Package theme models the page appearance settings and the staging area a
// creator edits before applying them.
package theme

import (
	"errors"

	"github.com/sakif/linkblocks/internal/model"
)

// ErrNotStaging is returned by every Picker operation except Open while the
// staging area is closed.
var ErrNotStaging = errors.New("theme: staging area is not open")

// Preference is the appearance of a page.
type Preference struct {
	Theme           model.Theme `json:"theme"`
	BackgroundImage string      `json:"backgroundImage"`
}

// Default is used for creators who never saved a preference.
var Default = Preference{Theme: model.ThemeLight}

// FromModel converts a stored preference, treating unknown themes as light.
func FromModel(p *model.ThemePreference) Preference {
	if p == nil {
		return Default
	}
	pref := Preference{Theme: p.Theme, BackgroundImage: p.BackgroundImage}
	if pref.Theme != model.ThemeDark {
		pref.Theme = model.ThemeLight
	}
	return pref
}

// Picker holds the applied preference and, while open, a staged copy.
// Edits only touch the staged copy until Apply.
//
// A Picker is not safe for concurrent use; the theme service serializes
// access per user.
type Picker struct {
	applied Preference
	staged  *Preference
}

func NewPicker(applied Preference) *Picker {
	return &Picker{applied: applied}
}

func (p *Picker) Applied() Preference { return p.applied }

func (p *Picker) IsOpen() bool { return p.staged != nil }

// Staged returns the staged preference.
func (p *Picker) Staged() (Preference, error) {
	if p.staged == nil {
		return Preference{}, ErrNotStaging
	}
	return *p.staged, nil
}

// Open starts staging from the applied values. Opening an open picker
// discards the previous staged edits.
func (p *Picker) Open() {
	staged := p.applied
	p.staged = &staged
}

// ChooseDark stages the dark theme. Dark pages have no background image.
func (p *Picker) ChooseDark() error {
	return p.edit(func(s *Preference) {
		s.Theme = model.ThemeDark
		s.BackgroundImage = ""
	})
}

func (p *Picker) ChooseLight() error {
	return p.edit(func(s *Preference) {
		s.Theme = model.ThemeLight
		s.BackgroundImage = ""
	})
}

// ChooseBackground stages an uploaded background. Backgrounds are drawn on
// the light theme.
func (p *Picker) ChooseBackground(url string) error {
	return p.edit(func(s *Preference) {
		s.Theme = model.ThemeLight
		s.BackgroundImage = url
	})
}

// ChooseSample stages one of the built-in sample backgrounds.
func (p *Picker) ChooseSample(url string) error {
	return p.ChooseBackground(url)
}

// Close discards the staged values. The applied preference is untouched.
func (p *Picker) Close() error {
	if p.staged == nil {
		return ErrNotStaging
	}
	p.staged = nil
	return nil
}

// Apply makes the staged values the applied preference and closes staging.
func (p *Picker) Apply() (Preference, error) {
	if p.staged == nil {
		return Preference{}, ErrNotStaging
	}
	p.applied = *p.staged
	p.staged = nil
	return p.applied, nil
}

func (p *Picker) edit(fn func(*Preference)) error {
	if p.staged == nil {
		return ErrNotStaging
	}
	fn(p.staged)
	return nil
}
