package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/nyashahama/respiria-backend/internal/speech"
)

// ─── GET /audio/{filename} ────────────────────────────────────────────────────

// handleGetAudio serves a previously synthesized alert. Only bare file names
// inside the audio directory are reachable.
func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if !speech.IsSafeFilename(filename) {
		respondErr(w, http.StatusBadRequest, "invalid file name")
		return
	}

	path := filepath.Join(s.cfg.AudioDir, filename)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		respondErr(w, http.StatusNotFound, "audio file not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, path)
}
