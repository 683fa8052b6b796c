package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nyashahama/respiria-backend/internal/analysis"
)

// Task is one reading received from a device.
type Task struct {
	// UserID addresses the reply. It is never empty: the subscriber falls back
	// to the topic segment, then to "unknown".
	UserID  string
	Reading analysis.SensorReading
}

// Analyzer is the subset of *analysis.Service a Job needs.
type Analyzer interface {
	Analyze(ctx context.Context, r analysis.SensorReading) (analysis.Result, error)
	AnalyzeWithAudio(ctx context.Context, r analysis.SensorReading) (analysis.Result, error)
}

// Publisher delivers the encoded report back to the device.
type Publisher interface {
	PublishAssessment(ctx context.Context, userID string, payload []byte) error
}

// Job holds the dependencies for the analyze-and-publish pipeline.
type Job struct {
	analyzer  Analyzer
	publisher Publisher
	withAudio bool
	logger    *slog.Logger
}

// NewJob constructs a Job with all required dependencies.
func NewJob(analyzer Analyzer, publisher Publisher, withAudio bool, logger *slog.Logger) *Job {
	return &Job{
		analyzer:  analyzer,
		publisher: publisher,
		withAudio: withAudio,
		logger:    logger,
	}
}

// Run executes the pipeline for a single task:
//
//  1. Analyze the reading (with audio when configured).
//  2. Encode the report exactly as the HTTP API does.
//  3. Publish it to the user's assessment topic.
func (j *Job) Run(ctx context.Context, t Task) error {
	log := j.logger.With("user_id", t.UserID)

	// ── 1. Analyze ────────────────────────────────────────────────────────────
	var (
		res analysis.Result
		err error
	)
	if j.withAudio {
		res, err = j.analyzer.AnalyzeWithAudio(ctx, t.Reading)
	} else {
		res, err = j.analyzer.Analyze(ctx, t.Reading)
	}
	if err != nil {
		return fmt.Errorf("job: analyze: %w", err)
	}

	// ── 2. Encode ─────────────────────────────────────────────────────────────
	payload, err := json.Marshal(res.Report())
	if err != nil {
		return fmt.Errorf("job: encode report: %w", err)
	}

	// ── 3. Publish ────────────────────────────────────────────────────────────
	if err := j.publisher.PublishAssessment(ctx, t.UserID, payload); err != nil {
		return fmt.Errorf("job: publish: %w", err)
	}

	log.Debug("job: assessment published",
		"analysis_id", res.ID,
		"niveau_risque", res.Assessment.Level,
		"bytes", len(payload),
	)
	return nil
}
