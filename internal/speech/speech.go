// Package speech turns advisory messages into spoken-audio files.
package speech

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrEmptyText is returned when there is nothing to speak. No file is written.
var ErrEmptyText = errors.New("speech: empty text")

// Synthesizer is the interface the analysis pipeline uses to produce audio.
// Tests inject a stub that records calls without hitting the network.
type Synthesizer interface {
	// Synthesize speaks text and writes the audio to filename inside the
	// configured output directory, creating the directory if needed. It
	// returns the written path. A failure leaves no partial file behind.
	Synthesize(ctx context.Context, text, filename string) (string, error)
}

// AudioFilename builds the deterministic artifact name
// <prefix>_<user>_<YYYYMMDD_HHMMSS>.<ext>. The user identifier is sanitized so
// the name can never leave the output directory.
func AudioFilename(prefix, userID, ext string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s.%s", prefix, sanitize(userID), t.Format("20060102_150405"), ext)
}

// IsSafeFilename reports whether name is a plain file name with no directory
// component, suitable for joining onto the output directory.
func IsSafeFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}

func sanitize(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, userID)
}

// splitText cuts text into chunks of at most max runes, breaking on
// whitespace. Words longer than max are hard-split.
func splitText(text string, max int) []string {
	var (
		chunks []string
		cur    []rune
	)
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, string(cur))
			cur = cur[:0]
		}
	}

	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > max {
			flush()
			chunks = append(chunks, string(w[:max]))
			w = w[max:]
		}
		if len(cur) > 0 && len(cur)+1+len(w) > max {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, w...)
	}
	flush()

	return chunks
}
