package locket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"locket-relay/internal/config"
	"locket-relay/internal/domain"
	"locket-relay/internal/infra/logging"
)

const uploadURLHeader = "X-Goog-Upload-URL"

// Client talks to the Firebase Auth, Firebase Storage and Locket APIs.
// Every call is a single blocking request-response exchange.
type Client struct {
	cfg config.UpstreamConfig
}

func NewClient(cfg config.UpstreamConfig) *Client {
	return &Client{cfg: cfg}
}

// Login exchanges an email/password pair for a Firebase session and returns
// the upstream JSON verbatim.
func (c *Client) Login(ctx context.Context, email, password string) (json.RawMessage, error) {
	logging.Info("locket login", "step", "start")

	body, err := json.Marshal(map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
		"clientType":        "CLIENT_TYPE_IOS",
	})
	if err != nil {
		return nil, err
	}

	a := fiber.Post(c.loginURL())
	a.Set("Content-Type", "application/json")
	a.Set("Accept", "*/*")
	a.Set("X-Ios-Bundle-Identifier", c.cfg.IOSBundleID)
	a.Set("X-Client-Version", c.cfg.ClientVersion)
	a.Set("X-Firebase-GMPID", c.cfg.FirebaseGMPID)
	a.Set("Accept-Language", c.cfg.AcceptLanguage)
	a.Set("User-Agent", c.cfg.AuthUserAgent)
	a.Body(body)

	resp, err := c.exchange(ctx, "login", a, nil)
	if err != nil {
		logging.Error("locket login", "error", err)
		return nil, err
	}
	if !json.Valid(resp) {
		return nil, fmt.Errorf("login: upstream returned invalid JSON")
	}
	logging.Info("locket login", "step", "end")
	return json.RawMessage(resp), nil
}

func (c *Client) loginURL() string {
	if c.cfg.APIKey == "" {
		return c.cfg.LoginURL
	}
	sep := "?"
	if strings.Contains(c.cfg.LoginURL, "?") {
		sep = "&"
	}
	return c.cfg.LoginURL + sep + "key=" + url.QueryEscape(c.cfg.APIKey)
}

// UploadObject stores obj through the resumable upload protocol and returns
// its tokenized download URL.
func (c *Client) UploadObject(ctx context.Context, obj Object) (string, error) {
	logging.Info("upload object", "step", "start", "bucket", obj.Bucket, "path", obj.Path, "bytes", len(obj.Data))

	sessionURL, err := c.startUpload(ctx, obj)
	if err != nil {
		logging.Error("upload object", "step", "start upload", "path", obj.Path, "error", err)
		return "", err
	}
	if err := c.uploadBytes(ctx, sessionURL, obj.Data); err != nil {
		logging.Error("upload object", "step", "upload", "path", obj.Path, "error", err)
		return "", err
	}
	downloadURL, err := c.downloadURL(ctx, obj)
	if err != nil {
		logging.Error("upload object", "step", "get download token", "path", obj.Path, "error", err)
		return "", err
	}

	logging.Info("upload object", "step", "end", "path", obj.Path)
	return downloadURL, nil
}

func (c *Client) objectURL(obj Object) string {
	return fmt.Sprintf("%s/v0/b/%s/o/%s",
		strings.TrimRight(c.cfg.StorageBaseURL, "/"), obj.Bucket, url.PathEscape(obj.Path))
}

func (c *Client) startUpload(ctx context.Context, obj Object) (string, error) {
	target := c.objectURL(obj) + "?uploadType=resumable&name=" + url.QueryEscape(obj.Path)

	metadataType := obj.MetadataContentType
	if metadataType == "" {
		metadataType = obj.ContentType
	}
	body, err := json.Marshal(startUploadBody{
		Name:        obj.Path,
		ContentType: metadataType,
		Bucket:      "",
		Metadata:    objectMetadata{Creator: obj.Creator, Visibility: "private"},
	})
	if err != nil {
		return "", err
	}

	a := fiber.Post(target)
	a.Set("Content-Type", "application/json; charset=UTF-8")
	a.Set("Authorization", "Bearer "+obj.IDToken)
	a.Set("X-Goog-Upload-Protocol", "resumable")
	a.Set("Accept", "*/*")
	a.Set("X-Goog-Upload-Command", "start")
	a.Set("X-Goog-Upload-Content-Length", strconv.Itoa(len(obj.Data)))
	a.Set("Accept-Language", c.cfg.AcceptLanguage)
	a.Set("X-Firebase-Storage-Version", c.cfg.StorageVersion)
	a.Set("User-Agent", c.cfg.UserAgent)
	a.Set("X-Goog-Upload-Content-Type", obj.ContentType)
	a.Set("X-Firebase-GMPID", c.cfg.FirebaseGMPID)
	a.Body(body)

	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)

	if _, err := c.exchange(ctx, "start upload", a, resp); err != nil {
		return "", err
	}
	sessionURL := string(resp.Header.Peek(uploadURLHeader))
	if sessionURL == "" {
		return "", fmt.Errorf("start upload: response has no %s header", uploadURLHeader)
	}
	return sessionURL, nil
}

func (c *Client) uploadBytes(ctx context.Context, sessionURL string, data []byte) error {
	a := fiber.Put(sessionURL)
	a.Set("Content-Type", "application/octet-stream")
	a.Set("X-Goog-Upload-Protocol", "resumable")
	a.Set("X-Goog-Upload-Offset", "0")
	a.Set("X-Goog-Upload-Command", "upload, finalize")
	a.Set("Upload-Incomplete", "?0")
	a.Set("Upload-Draft-Interop-Version", "3")
	a.Set("User-Agent", c.cfg.UserAgent)
	a.Body(data)

	_, err := c.exchange(ctx, "upload", a, nil)
	return err
}

func (c *Client) downloadURL(ctx context.Context, obj Object) (string, error) {
	getURL := c.objectURL(obj)

	a := fiber.Get(getURL)
	a.Set("Content-Type", "application/json; charset=UTF-8")
	a.Set("Authorization", "Bearer "+obj.IDToken)

	body, err := c.exchange(ctx, "get download token", a, nil)
	if err != nil {
		return "", err
	}
	var meta objectInfo
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("get download token: %w", err)
	}
	if meta.DownloadTokens == "" {
		return "", fmt.Errorf("get download token: object %s has no download token", obj.Path)
	}
	// Several comma separated tokens may be present; any of them grants access.
	token, _, _ := strings.Cut(meta.DownloadTokens, ",")
	return getURL + "?alt=media&token=" + token, nil
}

// CreatePost publishes a moment built by ImagePost or VideoPost.
func (c *Client) CreatePost(ctx context.Context, idToken string, payload any) error {
	logging.Info("create post", "step", "start")

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	a := fiber.Post(c.cfg.CreatePostURL)
	a.Set("Content-Type", "application/json")
	a.Set("Authorization", "Bearer "+idToken)
	a.Body(body)

	if _, err := c.exchange(ctx, "create post", a, nil); err != nil {
		logging.Error("create post", "error", err)
		return err
	}
	logging.Info("create post", "step", "end")
	return nil
}

// exchange sends the agent's request. A non-nil resp receives the full
// response, including headers. Non-2xx answers become *domain.UpstreamError.
func (c *Client) exchange(ctx context.Context, op string, a *fiber.Agent, resp *fiber.Response) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(a)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Firebase object paths carry %2F which must reach the server unchanged.
	// The host client normalizes the URI again right before writing it.
	a.Request().URI().DisablePathNormalizing = true
	if a.HostClient != nil {
		a.HostClient.DisablePathNormalizing = true
	}
	if timeout := c.timeout(ctx); timeout > 0 {
		a.Timeout(timeout)
	}
	if resp != nil {
		a.SetResponse(resp)
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return body, &domain.UpstreamError{
			Op:         op,
			Status:     code,
			StatusText: utils.StatusMessage(code),
			Detail:     errorDetail(body),
		}
	}
	return body, nil
}

func (c *Client) timeout(ctx context.Context) time.Duration {
	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	return timeout
}

// errorDetail extracts the message of a Google API error body.
func errorDetail(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Error.Message
}
