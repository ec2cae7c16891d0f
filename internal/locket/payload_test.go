package locket

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locket-relay/internal/domain"
)

func TestVideoPost_Shape(t *testing.T) {
	p := VideoPost("https://video", "https://thumb", domain.OverlayOptions{Caption: "hi"})

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var m map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	data := m["data"]
	assert.Equal(t, "https://video", data["video_url"])
	assert.Equal(t, "https://thumb", data["thumbnail_url"])
	assert.Equal(t, MD5Hex("https://video"), data["md5"])
	assert.Equal(t, []any{}, data["recipients"])
	assert.Equal(t, true, data["sent_to_all"])

	analytics := data["analytics"].(map[string]any)
	assert.Equal(t, "ios", analytics["platform"])
	flag := analytics["experiments"].(map[string]any)["flag_4"].(map[string]any)
	assert.Equal(t, int64ValueType, flag["@type"])
	assert.Equal(t, "43", flag["value"])
}

func TestImagePost_OmitsVideoFields(t *testing.T) {
	raw, err := json.Marshal(ImagePost("https://img", domain.OverlayOptions{}))
	require.NoError(t, err)
	s := string(raw)
	for _, key := range []string{"video_url", "md5", "recipients", "analytics"} {
		assert.NotContains(t, s, `"`+key+`"`)
	}
	assert.Contains(t, s, `"overlays":[]`)
}

func TestOverlays_CaptionAndMusic(t *testing.T) {
	opts := domain.OverlayOptions{
		Caption:     "sunset",
		ColorTop:    "#111111",
		ColorBottom: "#222222",
		MusicTrack:  map[string]any{"id": "trk-9", "title": "Song", "artist": "Band"},
	}
	overlays := Overlays(opts)
	require.Len(t, overlays, 2)

	caption := overlays[0]
	assert.Equal(t, "caption", caption.OverlayType)
	assert.Equal(t, "caption:standard", caption.OverlayID)
	assert.Equal(t, "sunset", caption.AltText)
	data := caption.Data.(CaptionData)
	assert.Equal(t, []string{"#111111", "#222222"}, data.Background.Colors)
	assert.Equal(t, domain.DefaultTextColor, data.TextColor)
	assert.Equal(t, "4", data.MaxLines.Value)

	music := overlays[1]
	assert.Equal(t, "music", music.OverlayType)
	assert.Equal(t, "music:trk-9", music.OverlayID)
	assert.Equal(t, "Song - Band", music.AltText)
}

func TestOverlays_CustomTypeAndEmptyCaption(t *testing.T) {
	assert.Empty(t, Overlays(domain.OverlayOptions{}))

	overlays := Overlays(domain.OverlayOptions{Caption: "x", OverlayType: "review"})
	require.Len(t, overlays, 1)
	assert.Equal(t, "caption:review", overlays[0].OverlayID)
}

func TestObjectNaming(t *testing.T) {
	now := time.UnixMilli(1722437166613)
	a := ObjectName(now, "webp")
	b := ObjectName(now, "webp")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "1722437166613_"))
	assert.True(t, strings.HasSuffix(a, ".webp"))

	assert.Equal(t, "users/u/moments/thumbnails/n.jpg", ThumbnailPath("u", "n.jpg"))
	assert.Equal(t, "users/u/moments/videos/n.mp4", VideoPath("u", "n.mp4"))
}

func TestMD5Hex(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", MD5Hex(""))
}
