package locket

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"locket-relay/internal/domain"
)

const int64ValueType = "type.googleapis.com/google.protobuf.Int64Value"

// Int64Value is the JSON form of google.protobuf.Int64Value.
type Int64Value struct {
	Type  string `json:"@type"`
	Value string `json:"value"`
}

func int64Value(v string) Int64Value {
	return Int64Value{Type: int64ValueType, Value: v}
}

// PostRequest is the body of the post creation endpoint.
type PostRequest struct {
	Data PostData `json:"data"`
}

type PostData struct {
	ThumbnailURL string     `json:"thumbnail_url"`
	VideoURL     string     `json:"video_url,omitempty"`
	MD5          string     `json:"md5,omitempty"`
	Recipients   *[]string  `json:"recipients,omitempty"`
	Analytics    *Analytics `json:"analytics,omitempty"`
	SentToAll    bool       `json:"sent_to_all"`
	Caption      string     `json:"caption"`
	Overlays     []Overlay  `json:"overlays"`
}

type Analytics struct {
	Experiments     map[string]Int64Value `json:"experiments"`
	Amplitude       Amplitude             `json:"amplitude"`
	GoogleAnalytics GoogleAnalytics       `json:"google_analytics"`
	Platform        string                `json:"platform"`
}

type Amplitude struct {
	DeviceID  string     `json:"device_id"`
	SessionID Int64Value `json:"session_id"`
}

type GoogleAnalytics struct {
	AppInstanceID string `json:"app_instance_id"`
}

type Overlay struct {
	Data        any    `json:"data"`
	AltText     string `json:"alt_text"`
	OverlayID   string `json:"overlay_id"`
	OverlayType string `json:"overlay_type"`
}

type CaptionData struct {
	Text       string            `json:"text"`
	TextColor  string            `json:"text_color"`
	Type       string            `json:"type"`
	MaxLines   Int64Value        `json:"max_lines"`
	Background CaptionBackground `json:"background"`
}

type CaptionBackground struct {
	MaterialBlur string   `json:"material_blur"`
	Colors       []string `json:"colors"`
}

// ImagePost builds the post for an uploaded image.
func ImagePost(imageURL string, opts domain.OverlayOptions) PostRequest {
	opts = opts.WithDefaults()
	return PostRequest{Data: PostData{
		ThumbnailURL: imageURL,
		SentToAll:    true,
		Caption:      opts.Caption,
		Overlays:     Overlays(opts),
	}}
}

// VideoPost builds the post for an uploaded video and its thumbnail.
func VideoPost(videoURL, thumbnailURL string, opts domain.OverlayOptions) PostRequest {
	opts = opts.WithDefaults()
	recipients := []string{}
	analytics := defaultAnalytics()
	return PostRequest{Data: PostData{
		ThumbnailURL: thumbnailURL,
		VideoURL:     videoURL,
		MD5:          MD5Hex(videoURL),
		Recipients:   &recipients,
		Analytics:    &analytics,
		SentToAll:    true,
		Caption:      opts.Caption,
		Overlays:     Overlays(opts),
	}}
}

// Overlays renders the caption and music overlays of opts. The caption
// overlay is omitted for an empty caption, the music overlay when no track
// was supplied.
func Overlays(opts domain.OverlayOptions) []Overlay {
	opts = opts.WithDefaults()
	overlays := []Overlay{}

	if opts.Caption != "" {
		kind := opts.OverlayType
		if kind == domain.DefaultOverlayType {
			kind = "standard"
		}
		overlays = append(overlays, Overlay{
			Data: CaptionData{
				Text:      opts.Caption,
				TextColor: opts.TextColor,
				Type:      kind,
				MaxLines:  int64Value("4"),
				Background: CaptionBackground{
					MaterialBlur: "ultra_thin",
					Colors:       []string{opts.ColorTop, opts.ColorBottom},
				},
			},
			AltText:     opts.Caption,
			OverlayID:   "caption:" + kind,
			OverlayType: "caption",
		})
	}

	if len(opts.MusicTrack) > 0 {
		overlays = append(overlays, Overlay{
			Data:        opts.MusicTrack,
			AltText:     musicAltText(opts.MusicTrack),
			OverlayID:   "music:" + stringField(opts.MusicTrack, "id", "track_id", "spotify_url", "apple_music_url"),
			OverlayType: "music",
		})
	}
	return overlays
}

func musicAltText(track map[string]any) string {
	title := stringField(track, "title", "song_title", "name")
	artist := stringField(track, "artist", "artist_name")
	switch {
	case title != "" && artist != "":
		return title + " - " + artist
	case title != "":
		return title
	default:
		return artist
	}
}

// stringField returns the first non-empty value among keys.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s
		}
	}
	return ""
}

// MD5Hex returns the hex MD5 digest of s.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// defaultAnalytics mirrors the stub the iOS client attaches to video posts.
func defaultAnalytics() Analytics {
	return Analytics{
		Experiments: map[string]Int64Value{
			"flag_4":  int64Value("43"),
			"flag_10": int64Value("505"),
			"flag_23": int64Value("400"),
			"flag_22": int64Value("1203"),
			"flag_19": int64Value("52"),
			"flag_18": int64Value("1203"),
			"flag_16": int64Value("303"),
			"flag_15": int64Value("501"),
			"flag_14": int64Value("500"),
			"flag_25": int64Value("23"),
		},
		Amplitude: Amplitude{
			DeviceID:  "BF5D1FD7-9E4D-4F8B-AB68-B89ED20398A6",
			SessionID: int64Value("1722437166613"),
		},
		GoogleAnalytics: GoogleAnalytics{AppInstanceID: "5BDC04DA16FF4B0C9CA14FFB9C502900"},
		Platform:        "ios",
	}
}
