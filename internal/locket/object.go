package locket

import (
	"fmt"
	"time"

	"github.com/rs/xid"
)

// Object is a file to store in a Firebase Storage bucket.
type Object struct {
	Bucket string
	// Path is the unescaped object name, e.g. users/{uid}/moments/videos/{name}.
	Path string
	// ContentType is announced as x-goog-upload-content-type.
	ContentType string
	// MetadataContentType overrides the contentType of the object metadata.
	// Images are stored as "image/*" by the mobile client.
	MetadataContentType string
	Creator             string
	IDToken             string
	Data                []byte
}

// ThumbnailPath is where images and video thumbnails live.
func ThumbnailPath(userID, name string) string {
	return fmt.Sprintf("users/%s/moments/thumbnails/%s", userID, name)
}

func VideoPath(userID, name string) string {
	return fmt.Sprintf("users/%s/moments/videos/%s", userID, name)
}

// ObjectName returns a unique object file name with the given extension.
func ObjectName(now time.Time, ext string) string {
	return fmt.Sprintf("%d_%s.%s", now.UnixMilli(), xid.New().String(), ext)
}

type startUploadBody struct {
	Name        string         `json:"name"`
	ContentType string         `json:"contentType"`
	Bucket      string         `json:"bucket"`
	Metadata    objectMetadata `json:"metadata"`
}

type objectMetadata struct {
	Creator    string `json:"creator"`
	Visibility string `json:"visibility"`
}

type objectInfo struct {
	DownloadTokens string `json:"downloadTokens"`
}
