// Package ffmpeg drives the external ffmpeg binary.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"locket-relay/internal/config"
	"locket-relay/internal/infra/logging"
)

type Transcoder struct {
	cfg config.TranscoderConfig
}

func New(cfg config.TranscoderConfig) *Transcoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	return &Transcoder{cfg: cfg}
}

// ToMP4 converts src into an H.264/AAC MP4 at dst, overwriting dst.
func (t *Transcoder) ToMP4(ctx context.Context, src, dst string) error {
	logging.Info("ffmpeg convert", "step", "start", "src", src, "dst", dst)
	if _, err := t.run(ctx, "convert", t.conversionArgs(src, dst)); err != nil {
		logging.Error("ffmpeg convert", "src", src, "error", err)
		return err
	}
	logging.Info("ffmpeg convert", "step", "end", "dst", dst)
	return nil
}

// ExtractFrame returns the first frame of src encoded as PNG.
func (t *Transcoder) ExtractFrame(ctx context.Context, src string) ([]byte, error) {
	logging.Info("ffmpeg frame", "step", "start", "src", src)
	out, err := t.run(ctx, "frame", frameArgs(src))
	if err != nil {
		logging.Error("ffmpeg frame", "src", src, "error", err)
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("ffmpeg frame: no output")
	}
	logging.Info("ffmpeg frame", "step", "end", "bytes", len(out))
	return out, nil
}

func (t *Transcoder) conversionArgs(src, dst string) []string {
	return []string{
		"-y",
		"-i", src,
		"-c:v", t.cfg.VideoCodec,
		"-c:a", t.cfg.AudioCodec,
		"-b:v", t.cfg.VideoBitrate,
		"-s", t.cfg.Size,
		"-preset", t.cfg.Preset,
		"-movflags", "+faststart",
		"-f", "mp4",
		dst,
	}
}

func frameArgs(src string) []string {
	return []string{
		"-i", src,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	}
}

func (t *Transcoder) run(ctx context.Context, op string, args []string) ([]byte, error) {
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	var stdout bytes.Buffer
	stderr := &logWriter{op: op}
	cmd := exec.CommandContext(ctx, t.cfg.FFmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stderr.flush()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("ffmpeg %s: %w", op, ctxErr)
		}
		if last := stderr.last(); last != "" {
			return nil, fmt.Errorf("ffmpeg %s: %w: %s", op, err, last)
		}
		return nil, fmt.Errorf("ffmpeg %s: %w", op, err)
	}
	return stdout.Bytes(), nil
}

// logWriter forwards ffmpeg diagnostics to the debug log one line at a time
// and remembers the last line for error reports. Lines end with \n or with
// the \r ffmpeg uses for progress updates and may span several writes.
type logWriter struct {
	op string

	mu       sync.Mutex
	pending  []byte
	lastLine string
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexAny(w.pending, "\r\n")
		if idx == -1 {
			break
		}
		w.emit(w.pending[:idx])
		w.pending = w.pending[idx+1:]
	}
	return len(p), nil
}

// flush emits a trailing line that was not terminated.
func (w *logWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(w.pending)
	w.pending = nil
}

// emit must be called with mu held.
func (w *logWriter) emit(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	w.lastLine = string(line)
	logging.Debug("ffmpeg output", "op", w.op, "line", w.lastLine)
}

func (w *logWriter) last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLine
}
