package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoMedia          = errors.New("No media found")
	ErrMixedMedia       = errors.New("Only one type of media is allowed")
	ErrVideoTooLarge    = errors.New("video exceeds the size limit")
	ErrImageTooLarge    = errors.New("image exceeds the size limit")
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrInvalidCredentials signals login fields that could not be decrypted.
	ErrInvalidCredentials = errors.New("invalid login data")

	// ErrThumbnail signals that no thumbnail could be produced or uploaded
	// for a video.
	ErrThumbnail = errors.New("failed to upload thumbnail")

	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded yet.
	// This can happen during startup when the DB isn't ready.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

// UpstreamError is a non-2xx answer from the Locket or Firebase APIs.
type UpstreamError struct {
	Op         string
	Status     int
	StatusText string
	// Detail is the upstream error message, when the body carried one.
	Detail string
}

func (e *UpstreamError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s failed: %d %s (%s)", e.Op, e.Status, e.StatusText, e.Detail)
	}
	return fmt.Sprintf("%s failed: %d %s", e.Op, e.Status, e.StatusText)
}
