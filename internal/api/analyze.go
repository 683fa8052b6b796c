package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nyashahama/respiria-backend/internal/analysis"
)

// ─── GET / ────────────────────────────────────────────────────────────────────

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"service": "RespirIA",
		"status":  "running",
		"endpoints": map[string]string{
			"health":             "GET /health",
			"analyze":            "POST /analyze",
			"analyze_with_audio": "POST /analyze-with-audio",
			"batch_analyze":      "POST /batch-analyze",
			"audio":              "GET /audio/{filename}",
		},
	})
}

// ─── GET /health ──────────────────────────────────────────────────────────────

type healthResponse struct {
	Status           string `json:"status"`
	ModelLoaded      bool   `json:"model_loaded"`
	RemoteConfigured bool   `json:"remote_configured"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, healthResponse{
		Status:           "healthy",
		ModelLoaded:      s.svc.HasContext(),
		RemoteConfigured: s.cfg.RemoteConfigured,
	})
}

// ─── POST /analyze ────────────────────────────────────────────────────────────

// handleAnalyze runs the pipeline for one reading. Remote and format failures
// still produce a 200 with a fallback assessment; only an invalid reading is
// rejected.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var reading analysis.SensorReading
	if !decode(w, r, &reading) {
		return
	}

	res, err := s.svc.Analyze(r.Context(), reading)
	if err != nil {
		s.respondAnalysisErr(w, r, err)
		return
	}

	respond(w, http.StatusOK, res.Report())
}

// ─── POST /analyze-with-audio ─────────────────────────────────────────────────

func (s *Server) handleAnalyzeWithAudio(w http.ResponseWriter, r *http.Request) {
	var reading analysis.SensorReading
	if !decode(w, r, &reading) {
		return
	}

	res, err := s.svc.AnalyzeWithAudio(r.Context(), reading)
	if err != nil {
		s.respondAnalysisErr(w, r, err)
		return
	}

	if res.AudioURL == "" {
		s.logger.Warn("analyze-with-audio: no audio produced",
			"analysis_id", res.ID,
			logField(r),
		)
	}

	respond(w, http.StatusOK, res.Report())
}

// ─── POST /batch-analyze ──────────────────────────────────────────────────────

type batchResponse struct {
	Results []analysis.Report `json:"results"`
	Total   int               `json:"total"`
}

func (s *Server) handleBatchAnalyze(w http.ResponseWriter, r *http.Request) {
	var readings []analysis.SensorReading
	if !decode(w, r, &readings) {
		return
	}

	results, err := s.svc.AnalyzeBatch(r.Context(), readings)
	if err != nil {
		s.respondAnalysisErr(w, r, err)
		return
	}

	reports := make([]analysis.Report, len(results))
	for i, res := range results {
		reports[i] = res.Report()
	}

	respond(w, http.StatusOK, batchResponse{Results: reports, Total: len(reports)})
}

// respondAnalysisErr maps pipeline errors to status codes.
func (s *Server) respondAnalysisErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, analysis.ErrInvalidReading) {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondInternalErr(w, r, fmt.Errorf("analyze: %w", err))
}
