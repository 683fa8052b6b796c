package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// maxChunkRunes is the longest text the translate_tts endpoint accepts per
// request.
const maxChunkRunes = 100

// Options configures the Google Translate TTS synthesizer.
type Options struct {
	BaseURL   string // default "https://translate.google.com"
	Language  string // default "fr"
	OutputDir string // default "output_audio"
	Timeout   time.Duration
	Slow      bool
}

// googleTTS is the concrete Synthesizer backed by the public translate_tts
// endpoint. It returns MP3 data; multi-chunk messages are concatenated,
// which MP3 players handle frame by frame.
type googleTTS struct {
	http *resty.Client
	opts Options
}

// NewGoogleTTS returns a Synthesizer that calls Google Translate TTS.
func NewGoogleTTS(opts Options) Synthesizer {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://translate.google.com"
	}
	if opts.Language == "" {
		opts.Language = "fr"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "output_audio"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; RespirIA/1.0)").
		SetHeader("Accept", "audio/mpeg")

	return &googleTTS{http: client, opts: opts}
}

// Synthesize speaks text into <OutputDir>/<filename>. It makes one request per
// chunk and never retries.
func (g *googleTTS) Synthesize(ctx context.Context, text, filename string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if !IsSafeFilename(filename) {
		return "", fmt.Errorf("speech: invalid filename %q", filename)
	}

	chunks := splitText(text, maxChunkRunes)

	var audio []byte
	for i, chunk := range chunks {
		data, err := g.fetch(ctx, chunk, i, len(chunks))
		if err != nil {
			return "", err
		}
		audio = append(audio, data...)
	}

	return g.write(filename, audio)
}

// fetch requests one chunk of speech.
func (g *googleTTS) fetch(ctx context.Context, chunk string, idx, total int) ([]byte, error) {
	speed := "1"
	if g.opts.Slow {
		speed = "0.3"
	}

	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ie":       "UTF-8",
			"client":   "tw-ob",
			"tl":       g.opts.Language,
			"q":        chunk,
			"ttsspeed": speed,
			"idx":      strconv.Itoa(idx),
			"total":    strconv.Itoa(total),
			"textlen":  strconv.Itoa(len([]rune(chunk))),
		}).
		Get("/translate_tts")
	if err != nil {
		return nil, fmt.Errorf("speech: tts request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("speech: tts unexpected status %d: %.200s", resp.StatusCode(), resp.String())
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("speech: tts returned no audio for chunk %d/%d", idx+1, total)
	}
	return body, nil
}

// write stores audio atomically: a temp file in the same directory is renamed
// into place once fully written.
func (g *googleTTS) write(filename string, audio []byte) (string, error) {
	if err := os.MkdirAll(g.opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("speech: create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(g.opts.OutputDir, ".tts-*.part")
	if err != nil {
		return "", fmt.Errorf("speech: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("speech: write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("speech: close audio: %w", err)
	}

	path := filepath.Join(g.opts.OutputDir, filename)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("speech: move audio into place: %w", err)
	}

	return path, nil
}
