package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/respiria-backend/internal/ai"
	"github.com/nyashahama/respiria-backend/internal/speech"
	"github.com/nyashahama/respiria-backend/internal/training"
)

// Options holds the audio naming settings. All fields have defaults.
type Options struct {
	AudioPrefix    string           // default "alerte"
	AudioExt       string           // default "mp3"
	AudioURLPrefix string           // default "/audio/"
	Now            func() time.Time // default time.Now
}

// Service runs the analysis pipeline. It holds no mutable state: the training
// context is fixed at construction and the clients are safe for concurrent
// use, so one Service serves every request in parallel.
type Service struct {
	trainingCtx training.Context
	completer   ai.Completer
	synth       speech.Synthesizer
	opts        Options
	logger      *slog.Logger
}

// NewService constructs a Service. synth may be nil, in which case audio is
// never produced.
func NewService(
	trainingCtx training.Context,
	completer ai.Completer,
	synth speech.Synthesizer,
	opts Options,
	logger *slog.Logger,
) *Service {
	if opts.AudioPrefix == "" {
		opts.AudioPrefix = "alerte"
	}
	if opts.AudioExt == "" {
		opts.AudioExt = "mp3"
	}
	if opts.AudioURLPrefix == "" {
		opts.AudioURLPrefix = "/audio/"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		trainingCtx: trainingCtx,
		completer:   completer,
		synth:       synth,
		opts:        opts,
		logger:      logger,
	}
}

// HasContext reports whether the training context was loaded.
func (s *Service) HasContext() bool {
	return s.trainingCtx != ""
}

// Analyze runs the pipeline for one reading:
//
//  1. Compose the prompt from the training context and the reading.
//  2. Send it to the remote model (one attempt, bounded by the client timeout).
//  3. Interpret the answer, substituting a fallback record on failure.
//
// Once the reading is valid the returned Result always carries a well-formed
// assessment; remote and format failures are encoded in Result.Outcome. The
// only error is ErrInvalidReading for readings that cannot be serialized.
func (s *Service) Analyze(ctx context.Context, r SensorReading) (Result, error) {
	id := uuid.New()
	log := s.logger.With("analysis_id", id, "user_id", r.UserIDOr("unknown"))
	start := time.Now()

	prompt, err := ComposePrompt(s.trainingCtx, r)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: compose prompt: %w", err)
	}

	raw, callErr := s.completer.Complete(ctx, SystemPersona, prompt)
	if callErr != nil {
		var ce *ai.CallError
		if !errors.As(callErr, &ce) {
			// Completers are required to return *ai.CallError; anything else is
			// still a failed call from the pipeline's point of view.
			callErr = &ai.CallError{Kind: ai.KindTransport, Err: callErr}
		}
	}

	res := resolve(raw, callErr)
	res.ID = id

	switch res.Outcome {
	case OutcomeParsed:
		log.Info("analysis: completed",
			"niveau_risque", res.Assessment.Level,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	default:
		log.Warn("analysis: using fallback assessment",
			"outcome", res.Outcome,
			"niveau_risque", res.Assessment.Level,
			"error", res.Err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return res, nil
}

// AnalyzeWithAudio runs Analyze, then speaks the advisory message. A synthesis
// failure is logged and leaves AudioURL empty; the assessment is still
// returned.
func (s *Service) AnalyzeWithAudio(ctx context.Context, r SensorReading) (Result, error) {
	res, err := s.Analyze(ctx, r)
	if err != nil {
		return Result{}, err
	}

	if s.synth == nil || strings.TrimSpace(res.Assessment.Message) == "" {
		return res, nil
	}

	filename := speech.AudioFilename(s.opts.AudioPrefix, r.UserIDOr("unknown"), s.opts.AudioExt, s.opts.Now())
	path, err := s.synth.Synthesize(ctx, res.Assessment.Message, filename)
	if err != nil {
		s.logger.Error("analysis: audio synthesis failed",
			"analysis_id", res.ID,
			"filename", filename,
			"error", err,
		)
		return res, nil
	}

	res.AudioURL = s.opts.AudioURLPrefix + filename
	s.logger.Info("analysis: audio generated", "analysis_id", res.ID, "path", path)
	return res, nil
}

// AnalyzeBatch analyzes readings one after another. Items are independent:
// a failed remote call only affects its own Result. Every reading is
// validated up front so an invalid item rejects the batch before any remote
// call is made.
func (s *Service) AnalyzeBatch(ctx context.Context, readings []SensorReading) ([]Result, error) {
	for i, r := range readings {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("analysis: reading %d: %w", i, err)
		}
	}

	results := make([]Result, 0, len(readings))
	for _, r := range readings {
		res, err := s.Analyze(ctx, r)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
