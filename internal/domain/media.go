// Package domain contains the core concepts of the relay.
// Keep this package free of transport (HTTP) and infrastructure concerns.
package domain

import "strings"

// Credentials identify the Locket account a post is made for.
type Credentials struct {
	UserID  string
	IDToken string
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Media is an uploaded file stored on local disk until the relay is done with
// it.
type Media struct {
	Kind     MediaKind
	Path     string
	Filename string
	MimeType string
	Size     int64
}

// IsWebM reports whether a MIME type denotes a WebM container.
func IsWebM(mimeType string) bool {
	return strings.Contains(strings.ToLower(mimeType), "webm")
}

// PostResult carries the download URLs of the objects a post references.
type PostResult struct {
	ImageURL     string
	VideoURL     string
	ThumbnailURL string
}
