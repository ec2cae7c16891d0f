package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locket-relay/internal/config"
	"locket-relay/internal/domain"
	"locket-relay/internal/tokens"
)

type stubRelay struct {
	err error
}

func (s stubRelay) Login(ctx context.Context, email, password string) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(`{"idToken":"t"}`), nil
}

func (s stubRelay) PostImage(ctx context.Context, creds domain.Credentials, media domain.Media, overlay domain.OverlayOptions) (domain.PostResult, error) {
	return domain.PostResult{}, s.err
}

func (s stubRelay) PostVideo(ctx context.Context, creds domain.Credentials, media domain.Media, overlay domain.OverlayOptions) (domain.PostResult, error) {
	return domain.PostResult{VideoURL: "v", ThumbnailURL: "t"}, s.err
}

func minimalConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Media.TempDir = t.TempDir()
	return cfg
}

func newTestApp(t *testing.T, relay stubRelay) *fiber.App {
	t.Helper()
	store := tokens.NewCache()
	store.Replace(nil)
	return New(Deps{Config: minimalConfig(t), Relay: relay, Tokens: store, Storage: memoryStorage.New()})
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func loginRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/locket/login", strings.NewReader(`{"email":"a","password":"b"}`))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestNew_RoutesAndJSON404(t *testing.T) {
	app := newTestApp(t, stubRelay{})

	resp, err := app.Test(loginRequest())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := app.Test(httptest.NewRequest(http.MethodGet, "/ops/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, health.StatusCode)

	resp404, err := app.Test(httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
	assert.Contains(t, resp404.Header.Get("Content-Type"), "application/json")
	body := decodeError(t, resp404)
	assert.Equal(t, http.StatusNotFound, body.Error.Code)
	assert.Equal(t, "Not Found", body.Error.Message)
}

func TestNew_HandlerValidationUsesEnvelope(t *testing.T) {
	app := newTestApp(t, stubRelay{})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("userId", "u"))
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/locket/upload-media", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No media found", decodeError(t, resp).Error.Message)
}

func TestNew_RelayErrorsAreMapped(t *testing.T) {
	for name, tc := range map[string]struct {
		err    error
		status int
	}{
		"login rejected":      {err: &domain.UpstreamError{Op: "login", Status: 400, StatusText: "Bad Request"}, status: http.StatusUnauthorized},
		"login upstream down": {err: &domain.UpstreamError{Op: "login", Status: 503}, status: http.StatusBadGateway},
		"bad credentials":     {err: fmt.Errorf("decrypt: %w", domain.ErrInvalidCredentials), status: http.StatusBadRequest},
		"unexpected":          {err: errors.New("disk on fire"), status: http.StatusInternalServerError},
	} {
		t.Run(name, func(t *testing.T) {
			app := newTestApp(t, stubRelay{err: tc.err})
			resp, err := app.Test(loginRequest())
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.status, decodeError(t, resp).Error.Code)
		})
	}
}

func TestStatusOf(t *testing.T) {
	for _, tc := range []struct {
		err    error
		status int
		msg    string
	}{
		{fiber.NewError(fiber.StatusBadRequest, "No media found"), 400, "No media found"},
		{domain.ErrNoMedia, 400, "No media found"},
		{fmt.Errorf("upload: %w", domain.ErrMixedMedia), 400, "Only one type of media is allowed"},
		{fmt.Errorf("wrapped: %w", domain.ErrVideoTooLarge), 413, "video exceeds the size limit"},
		{domain.ErrImageTooLarge, 413, "image exceeds the size limit"},
		{fmt.Errorf("%w: text/plain", domain.ErrUnsupportedMedia), 415, "unsupported media type: text/plain"},
		{domain.ErrInvalidAPIKey, 401, "invalid api key"},
		{domain.ErrTokenStoreNotReady, 503, "token store not ready"},
		{fmt.Errorf("%w: ffmpeg frame: no output", domain.ErrThumbnail), 500, "failed to upload thumbnail"},
		{&domain.UpstreamError{Op: "upload", Status: 403, StatusText: "Forbidden"}, 502, "upload failed: 403 Forbidden"},
		{errors.New("secret internals"), 500, "Internal Server Error"},
	} {
		status, msg := statusOf(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.msg, msg, tc.err.Error())
	}
}

func TestNew_BodyLimitFromConfig(t *testing.T) {
	cfg := minimalConfig(t)
	cfg.Server.BodyLimitMB = 1
	store := tokens.NewCache()
	store.Replace(nil)
	app := New(Deps{Config: cfg, Relay: stubRelay{}, Tokens: store, Storage: memoryStorage.New()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// The announced length alone exceeds the limit; the server answers
	// before reading any body bytes.
	_, err = fmt.Fprintf(conn, "POST /locket/login HTTP/1.1\r\nHost: relay\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n", 2*1024*1024)
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	body := decodeError(t, resp)
	assert.Equal(t, http.StatusRequestEntityTooLarge, body.Error.Code)
	assert.Equal(t, "Request Entity Too Large", body.Error.Message)
}
