package domain

const (
	DefaultColorTop    = "#000000"
	DefaultColorBottom = "#000000"
	DefaultTextColor   = "#FFFFFF"
	DefaultOverlayType = "default"
)

// OverlayOptions describe the caption and music UI rendered on top of a post.
type OverlayOptions struct {
	Caption     string
	ColorTop    string
	ColorBottom string
	TextColor   string
	OverlayType string
	// MusicTrack is the client-supplied track object, passed through as-is.
	MusicTrack map[string]any
}

// WithDefaults fills empty colors and overlay type.
func (o OverlayOptions) WithDefaults() OverlayOptions {
	if o.ColorTop == "" {
		o.ColorTop = DefaultColorTop
	}
	if o.ColorBottom == "" {
		o.ColorBottom = DefaultColorBottom
	}
	if o.TextColor == "" {
		o.TextColor = DefaultTextColor
	}
	if o.OverlayType == "" {
		o.OverlayType = DefaultOverlayType
	}
	return o
}
