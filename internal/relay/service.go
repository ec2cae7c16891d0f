// Package relay implements the login and posting flows on top of the Locket
// upstream client. Every flow is a strict sequence of blocking steps; the
// first failing step aborts the flow.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"locket-relay/internal/config"
	"locket-relay/internal/domain"
	"locket-relay/internal/infra/imagecodec"
	"locket-relay/internal/infra/logging"
	"locket-relay/internal/locket"
)

type Upstream interface {
	Login(ctx context.Context, email, password string) (json.RawMessage, error)
	UploadObject(ctx context.Context, obj locket.Object) (string, error)
	CreatePost(ctx context.Context, idToken string, payload any) error
}

type Transcoder interface {
	ToMP4(ctx context.Context, src, dst string) error
	ExtractFrame(ctx context.Context, src string) ([]byte, error)
}

type ImageEncoder interface {
	Normalize(data []byte) (imagecodec.Encoded, error)
	Thumbnail(frame []byte) (imagecodec.Encoded, error)
}

type LoginCache interface {
	Get(ctx context.Context, email, password string) (json.RawMessage, bool)
	Set(ctx context.Context, email, password string, resp json.RawMessage)
}

type Decrypter interface {
	DecryptLoginData(email, password string) (string, string, error)
}

type Deps struct {
	Upstream   Upstream
	Transcoder Transcoder
	Images     ImageEncoder
	// Cache may be nil.
	Cache     LoginCache
	Decrypter Decrypter
	Buckets   config.UpstreamConfig
	Limits    config.LimitsConfig
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{deps: deps}
}

// Login decrypts the credentials and returns the upstream login response.
func (s *Service) Login(ctx context.Context, email, password string) (json.RawMessage, error) {
	logging.Info("relay login", "step", "start")

	if s.deps.Decrypter != nil {
		var err error
		email, password, err = s.deps.Decrypter.DecryptLoginData(email, password)
		if err != nil {
			logging.Warn("relay login", "step", "decrypt", "error", err)
			return nil, err
		}
	}

	if s.deps.Cache != nil {
		if cached, ok := s.deps.Cache.Get(ctx, email, password); ok {
			logging.Info("relay login", "step", "end", "cached", true)
			return cached, nil
		}
	}

	resp, err := s.deps.Upstream.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Set(ctx, email, password, resp)
	}
	logging.Info("relay login", "step", "end", "cached", false)
	return resp, nil
}

// PostImage uploads a photo and publishes it. The temp file behind media is
// removed whatever the outcome.
func (s *Service) PostImage(ctx context.Context, creds domain.Credentials, media domain.Media, overlay domain.OverlayOptions) (domain.PostResult, error) {
	defer removeFiles(media.Path)
	logging.Info("post image", "step", "start", "user", creds.UserID, "file", media.Filename)

	if _, err := resolveType(media, "image/"); err != nil {
		return domain.PostResult{}, err
	}
	data, err := os.ReadFile(media.Path)
	if err != nil {
		return domain.PostResult{}, fmt.Errorf("read image: %w", err)
	}
	if limit := s.deps.Limits.MaxImageBytes; limit > 0 && int64(len(data)) > limit {
		return domain.PostResult{}, domain.ErrImageTooLarge
	}

	encoded, err := s.deps.Images.Normalize(data)
	if err != nil {
		return domain.PostResult{}, err
	}
	if !strings.HasPrefix(encoded.ContentType, "image/") {
		return domain.PostResult{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedMedia, encoded.ContentType)
	}

	imageURL, err := s.deps.Upstream.UploadObject(ctx, locket.Object{
		Bucket:              s.deps.Buckets.ImageBucket,
		Path:                locket.ThumbnailPath(creds.UserID, locket.ObjectName(s.deps.Now(), encoded.Ext)),
		ContentType:         encoded.ContentType,
		MetadataContentType: "image/*",
		Creator:             creds.UserID,
		IDToken:             creds.IDToken,
		Data:                encoded.Data,
	})
	if err != nil {
		return domain.PostResult{}, err
	}

	if err := s.deps.Upstream.CreatePost(ctx, creds.IDToken, locket.ImagePost(imageURL, overlay)); err != nil {
		return domain.PostResult{}, err
	}
	logging.Info("post image", "step", "end", "user", creds.UserID)
	return domain.PostResult{ImageURL: imageURL}, nil
}

// PostVideo uploads a video with a thumbnail taken from its first frame and
// publishes it. WebM input is converted to MP4 first. The original and the
// converted file are removed whatever the outcome.
func (s *Service) PostVideo(ctx context.Context, creds domain.Credentials, media domain.Media, overlay domain.OverlayOptions) (domain.PostResult, error) {
	var convertedPath string
	defer func() { removeFiles(media.Path, convertedPath) }()
	logging.Info("post video", "step", "start", "user", creds.UserID, "file", media.Filename)

	mimeType, err := resolveType(media, "video/")
	if err != nil {
		return domain.PostResult{}, err
	}
	if limit := s.deps.Limits.MaxVideoBytes; limit > 0 && media.Size > limit {
		return domain.PostResult{}, domain.ErrVideoTooLarge
	}

	finalPath := media.Path
	if domain.IsWebM(mimeType) {
		convertedPath = ConvertedPath(media.Path)
		if err := s.deps.Transcoder.ToMP4(ctx, media.Path, convertedPath); err != nil {
			return domain.PostResult{}, fmt.Errorf("convert webm: %w", err)
		}
		finalPath = convertedPath
		mimeType = "video/mp4"
		logging.Info("post video", "step", "converted", "path", convertedPath)
	}

	data, err := os.ReadFile(finalPath)
	if err != nil {
		return domain.PostResult{}, fmt.Errorf("read video: %w", err)
	}

	thumbnailURL, err := s.uploadThumbnail(ctx, creds, finalPath)
	if err != nil {
		logging.Error("post video", "step", "thumbnail", "error", err)
		return domain.PostResult{}, fmt.Errorf("%w: %v", domain.ErrThumbnail, err)
	}

	videoURL, err := s.deps.Upstream.UploadObject(ctx, locket.Object{
		Bucket:              s.deps.Buckets.VideoBucket,
		Path:                locket.VideoPath(creds.UserID, locket.ObjectName(s.deps.Now(), videoExtension(mimeType))),
		ContentType:         mimeType,
		MetadataContentType: mimeType,
		Creator:             creds.UserID,
		IDToken:             creds.IDToken,
		Data:                data,
	})
	if err != nil {
		return domain.PostResult{}, err
	}

	payload := locket.VideoPost(videoURL, thumbnailURL, overlay)
	if err := s.deps.Upstream.CreatePost(ctx, creds.IDToken, payload); err != nil {
		return domain.PostResult{}, err
	}
	logging.Info("post video", "step", "end", "user", creds.UserID)
	return domain.PostResult{VideoURL: videoURL, ThumbnailURL: thumbnailURL}, nil
}

func (s *Service) uploadThumbnail(ctx context.Context, creds domain.Credentials, videoPath string) (string, error) {
	frame, err := s.deps.Transcoder.ExtractFrame(ctx, videoPath)
	if err != nil {
		return "", err
	}
	thumb, err := s.deps.Images.Thumbnail(frame)
	if err != nil {
		return "", err
	}
	return s.deps.Upstream.UploadObject(ctx, locket.Object{
		Bucket:              s.deps.Buckets.ImageBucket,
		Path:                locket.ThumbnailPath(creds.UserID, locket.ObjectName(s.deps.Now(), thumb.Ext)),
		ContentType:         thumb.ContentType,
		MetadataContentType: "image/*",
		Creator:             creds.UserID,
		IDToken:             creds.IDToken,
		Data:                thumb.Data,
	})
}

// ConvertedPath is where the MP4 rendition of path is written.
func ConvertedPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_converted.mp4"
}

// resolveType returns the declared MIME type when it has the wanted prefix and
// the sniffed one otherwise.
func resolveType(media domain.Media, prefix string) (string, error) {
	declared, _, _ := strings.Cut(media.MimeType, ";")
	declared = strings.ToLower(strings.TrimSpace(declared))
	if strings.HasPrefix(declared, prefix) {
		return declared, nil
	}
	mt, err := mimetype.DetectFile(media.Path)
	if err != nil {
		return "", fmt.Errorf("detect media type: %w", err)
	}
	if !strings.HasPrefix(mt.String(), prefix) {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedMedia, mt.String())
	}
	return mt.String(), nil
}

func videoExtension(mimeType string) string {
	if mt := mimetype.Lookup(mimeType); mt != nil && mt.Extension() != "" {
		return strings.TrimPrefix(mt.Extension(), ".")
	}
	return "mp4"
}

func removeFiles(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn("remove temp file", "path", p, "error", err)
		}
	}
}
