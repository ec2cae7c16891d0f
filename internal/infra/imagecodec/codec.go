// Package imagecodec normalizes uploaded photos and renders video thumbnails.
package imagecodec

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"locket-relay/internal/config"
	"locket-relay/internal/infra/logging"
)

// Encoded is an image ready to be stored.
type Encoded struct {
	Data        []byte
	ContentType string
	Ext         string
}

type Encoder struct {
	webp             bool
	quality          int
	maxWidth         int
	thumbnailWidth   int
	thumbnailQuality int
}

func NewEncoder(cfg config.MediaConfig) *Encoder {
	return &Encoder{
		webp:             cfg.WebPImages,
		quality:          cfg.ImageQuality,
		maxWidth:         cfg.MaxImageWidth,
		thumbnailWidth:   cfg.ThumbnailWidth,
		thumbnailQuality: cfg.ThumbnailQuality,
	}
}

// Normalize re-encodes a photo. Input the decoder does not understand is
// returned unchanged with its sniffed content type.
func (e *Encoder) Normalize(data []byte) (Encoded, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		mt := mimetype.Detect(data)
		logging.Warn("image decode failed, storing original bytes", "mime", mt.String(), "error", err)
		return Encoded{Data: data, ContentType: mt.String(), Ext: extension(mt)}, nil
	}

	if e.maxWidth > 0 && img.Bounds().Dx() > e.maxWidth {
		img = imaging.Resize(img, e.maxWidth, 0, imaging.Lanczos)
	}

	if e.webp {
		var buf bytes.Buffer
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(e.quality)}); err != nil {
			return Encoded{}, fmt.Errorf("encode webp: %w", err)
		}
		return Encoded{Data: buf.Bytes(), ContentType: "image/webp", Ext: "webp"}, nil
	}
	return e.jpeg(img, e.quality)
}

// Thumbnail scales a decoded video frame down to the thumbnail width.
// Narrower frames keep their size.
func (e *Encoder) Thumbnail(frame []byte) (Encoded, error) {
	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		return Encoded{}, fmt.Errorf("decode frame: %w", err)
	}
	if e.thumbnailWidth > 0 && img.Bounds().Dx() > e.thumbnailWidth {
		img = imaging.Resize(img, e.thumbnailWidth, 0, imaging.Lanczos)
	}
	return e.jpeg(img, e.thumbnailQuality)
}

func (e *Encoder) jpeg(img image.Image, quality int) (Encoded, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Encoded{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Encoded{Data: buf.Bytes(), ContentType: "image/jpeg", Ext: "jpg"}, nil
}

func extension(mt *mimetype.MIME) string {
	ext := mt.Extension()
	if len(ext) > 1 && ext[0] == '.' {
		return ext[1:]
	}
	return "bin"
}
