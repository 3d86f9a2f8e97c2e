package theme

import "github.com/sakif/linkblocks/internal/model"

// Style is what the page template needs to paint the body.
type Style struct {
	Background      string
	Color           string
	BackgroundImage string
}

// PageStyle maps a preference to body colours: dark is light text on
// #333, light is dark text on white.
func PageStyle(p Preference) Style {
	if p.Theme == model.ThemeDark {
		return Style{Background: "#333", Color: "#fff"}
	}
	return Style{Background: "#fff", Color: "#333", BackgroundImage: p.BackgroundImage}
}
