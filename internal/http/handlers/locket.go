// Package handlers exposes the relay over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"locket-relay/internal/config"
	"locket-relay/internal/domain"
	"locket-relay/internal/infra/logging"
)

// Relay is the service behind the Locket routes.
type Relay interface {
	Login(ctx context.Context, email, password string) (json.RawMessage, error)
	PostImage(ctx context.Context, creds domain.Credentials, media domain.Media, overlay domain.OverlayOptions) (domain.PostResult, error)
	PostVideo(ctx context.Context, creds domain.Credentials, media domain.Media, overlay domain.OverlayOptions) (domain.PostResult, error)
}

type Locket struct {
	relay         Relay
	validate      *validator.Validate
	tempDir       string
	maxVideoBytes int64
}

func NewLocket(relay Relay, cfg config.Config) *Locket {
	v := validator.New()
	// Report the wire name of a field rather than the Go name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"form", "json"} {
			if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return &Locket{
		relay:         relay,
		validate:      v,
		tempDir:       cfg.Media.TempDir,
		maxVideoBytes: cfg.Limits.MaxVideoBytes,
	}
}

type LoginRequest struct {
	Email    string `json:"email" form:"email" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

// Login handles POST /locket/login.
func (h *Locket) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationError(err)
	}

	user, err := h.relay.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": user})
}

type UploadForm struct {
	UserID      string `form:"userId" validate:"required"`
	IDToken     string `form:"idToken" validate:"required"`
	Caption     string `form:"caption"`
	ColorTop    string `form:"color_top" validate:"omitempty,hexcolor"`
	ColorBottom string `form:"color_bottom" validate:"omitempty,hexcolor"`
	TextColor   string `form:"text_color" validate:"omitempty,hexcolor"`
	OverlayType string `form:"overlay_type"`
	MusicTrack  string `form:"music_track"`
}

// UploadMedia handles POST /locket/upload-media. Exactly one of the "images"
// or "videos" file fields must be present; only its first file is used.
func (h *Locket) UploadMedia(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid multipart form")
	}
	images, videos := form.File["images"], form.File["videos"]
	switch {
	case len(images) == 0 && len(videos) == 0:
		return domain.ErrNoMedia
	case len(images) > 0 && len(videos) > 0:
		return domain.ErrMixedMedia
	}

	var req UploadForm
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationError(err)
	}

	kind, fh := domain.MediaImage, firstFile(images)
	if fh == nil {
		kind, fh = domain.MediaVideo, firstFile(videos)
		if h.maxVideoBytes > 0 && fh.Size > h.maxVideoBytes {
			return fiber.NewError(fiber.StatusBadRequest,
				fmt.Sprintf("Video size exceeds %dMB", h.maxVideoBytes/(1024*1024)))
		}
	}

	media, err := h.store(c, kind, fh)
	if err != nil {
		return err
	}

	creds := domain.Credentials{UserID: req.UserID, IDToken: req.IDToken}
	overlay := req.overlay()

	if kind == domain.MediaImage {
		if _, err := h.relay.PostImage(c.UserContext(), creds, media, overlay); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"message": "Upload image successfully"})
	}

	res, err := h.relay.PostVideo(c.UserContext(), creds, media, overlay)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message":      "Upload video successfully",
		"videoUrl":     res.VideoURL,
		"thumbnailUrl": res.ThumbnailURL,
	})
}

func (r UploadForm) overlay() domain.OverlayOptions {
	opts := domain.OverlayOptions{
		Caption:     r.Caption,
		ColorTop:    r.ColorTop,
		ColorBottom: r.ColorBottom,
		TextColor:   r.TextColor,
		OverlayType: r.OverlayType,
	}
	if r.MusicTrack != "" {
		opts.MusicTrack = musicTrack(r.MusicTrack)
	}
	return opts.WithDefaults()
}

// musicTrack decodes the music_track field. The music overlay is built from
// the track's fields, so only a JSON object is kept.
func musicTrack(raw string) map[string]any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		logging.Warn("Failed to parse music_track", "error", err)
		return nil
	}
	track, ok := v.(map[string]any)
	if !ok {
		logging.Warn("Ignoring music_track that is not a JSON object", "type", fmt.Sprintf("%T", v))
		return nil
	}
	return track
}

// store saves the upload under a random name in the temp directory. The relay
// owns the file from here on and removes it.
func (h *Locket) store(c *fiber.Ctx, kind domain.MediaKind, fh *multipart.FileHeader) (domain.Media, error) {
	if err := os.MkdirAll(h.tempDir, 0o755); err != nil {
		return domain.Media{}, fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(h.tempDir, uuid.NewString()+safeExt(fh.Filename))
	if err := c.SaveFile(fh, path); err != nil {
		return domain.Media{}, fmt.Errorf("save upload: %w", err)
	}
	return domain.Media{
		Kind:     kind,
		Path:     path,
		Filename: fh.Filename,
		MimeType: fh.Header.Get(fiber.HeaderContentType),
		Size:     fh.Size,
	}, nil
}

func firstFile(files []*multipart.FileHeader) *multipart.FileHeader {
	if len(files) == 0 {
		return nil
	}
	return files[0]
}

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)

func safeExt(filename string) string {
	ext := filepath.Ext(filename)
	if !extPattern.MatchString(ext) {
		return ""
	}
	return strings.ToLower(ext)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, e.Field()+" is required")
		case "hexcolor":
			msgs = append(msgs, e.Field()+" must be a hex color")
		default:
			msgs = append(msgs, e.Field()+" is invalid")
		}
	}
	sort.Strings(msgs)
	return fiber.NewError(fiber.StatusBadRequest, strings.Join(msgs, "; "))
}
