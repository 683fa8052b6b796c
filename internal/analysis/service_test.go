package analysis_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/respiria-backend/internal/ai"
	"github.com/nyashahama/respiria-backend/internal/analysis"
)

// ─── Test helpers ─────────────────────────────────────────────────────────────

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubCompleter answers each call with the next scripted reply.
type stubCompleter struct {
	mu      sync.Mutex
	replies []stubReply
	prompts []string
	system  string
}

type stubReply struct {
	text string
	err  error
}

func (s *stubCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = system
	s.prompts = append(s.prompts, prompt)
	if len(s.replies) == 0 {
		return "", errors.New("stubCompleter: no reply scripted")
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return r.text, r.err
}

func (s *stubCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func reply(text string) stubReply { return stubReply{text: text} }
func failure(kind ai.Kind) stubReply { return stubReply{err: &ai.CallError{Kind: kind, Err: errors.New(string(kind))}} }
func replies(r ...stubReply) []stubReply { return r }

type stubSynth struct {
	err      error
	texts    []string
	filename string
}

func (s *stubSynth) Synthesize(_ context.Context, text, filename string) (string, error) {
	s.texts = append(s.texts, text)
	s.filename = filename
	if s.err != nil {
		return "", s.err
	}
	return "output_audio/" + filename, nil
}

var fixedNow = func() time.Time { return time.Date(2026, 1, 14, 14, 30, 0, 0, time.UTC) }

func newService(c ai.Completer, synth *stubSynth) *analysis.Service {
	opts := analysis.Options{Now: fixedNow}
	if synth == nil {
		return analysis.NewService(sampleContext, c, nil, opts, discardLogger())
	}
	return analysis.NewService(sampleContext, c, synth, opts, discardLogger())
}

// ─── Analyze ──────────────────────────────────────────────────────────────────

func TestAnalyze_WellFormedReply(t *testing.T) {
	c := &stubCompleter{replies: replies(reply(analysis.ExampleResponse))}
	svc := newService(c, nil)

	res, err := svc.Analyze(context.Background(), fullReading())
	require.NoError(t, err)

	assert.Equal(t, analysis.OutcomeParsed, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, analysis.LevelModerate, res.Assessment.Level)
	require.NotNil(t, res.Assessment.Score)
	assert.Equal(t, 65, *res.Assessment.Score)
	assert.NotEqual(t, "", res.ID.String())
	assert.Empty(t, res.AudioURL)

	require.Equal(t, 1, c.calls())
	assert.Equal(t, analysis.SystemPersona, c.system)
	want, err := analysis.ComposePrompt(sampleContext, fullReading())
	require.NoError(t, err)
	assert.Equal(t, want, c.prompts[0])
}

func TestAnalyze_IndoorReading_ExampleReply(t *testing.T) {
	reading := analysis.SensorReading{
		Temperature: analysis.Float(22.0),
		Humidity:    analysis.Float(50.0),
		CO2:         analysis.Float(700.0),
		PM25:        analysis.Float(10.0),
	}
	c := &stubCompleter{replies: replies(reply(analysis.ExampleResponse))}

	res, err := newService(c, nil).Analyze(context.Background(), reading)
	require.NoError(t, err)

	assert.Equal(t, analysis.OutcomeParsed, res.Outcome)
	assert.Equal(t, analysis.LevelModerate, res.Assessment.Level)
	require.NotNil(t, res.Assessment.Score)
	assert.Equal(t, 65, *res.Assessment.Score)

	require.Equal(t, 1, c.calls())
	for _, field := range []string{`"temperature": 22`, `"humidity": 50`, `"co2": 700`, `"pm25": 10`} {
		assert.Contains(t, c.prompts[0], field)
	}
	assert.NotContains(t, c.prompts[0], `"no2"`)
}

func TestAnalyze_RemoteTimeout_ReturnsErrorRecord(t *testing.T) {
	c := &stubCompleter{replies: replies(failure(ai.KindTimeout))}
	svc := newService(c, nil)

	res, err := svc.Analyze(context.Background(), fullReading())
	require.NoError(t, err)

	assert.Equal(t, analysis.OutcomeUnreachable, res.Outcome)
	assert.Equal(t, analysis.LevelError, res.Assessment.Level)
	require.NotNil(t, res.Assessment.Score)
	assert.Equal(t, 0, *res.Assessment.Score)
	assert.NotEmpty(t, res.Assessment.Message)

	var ce *ai.CallError
	require.True(t, errors.As(res.Err, &ce))
	assert.Equal(t, ai.KindTimeout, ce.Kind)
	assert.Equal(t, 1, c.calls(), "no retry")
}

func TestAnalyze_EveryCallFailureKindIsUnreachable(t *testing.T) {
	for _, kind := range []ai.Kind{ai.KindTimeout, ai.KindTransport, ai.KindStatus, ai.KindProtocol} {
		t.Run(string(kind), func(t *testing.T) {
			svc := newService(&stubCompleter{replies: replies(failure(kind))}, nil)
			res, err := svc.Analyze(context.Background(), analysis.SensorReading{})
			require.NoError(t, err)
			assert.Equal(t, analysis.LevelError, res.Assessment.Level)
		})
	}
}

func TestAnalyze_PlainErrorTreatedAsTransport(t *testing.T) {
	c := &stubCompleter{replies: replies(stubReply{err: errors.New("boom")})}
	res, err := newService(c, nil).Analyze(context.Background(), analysis.SensorReading{})
	require.NoError(t, err)

	var ce *ai.CallError
	require.True(t, errors.As(res.Err, &ce))
	assert.Equal(t, ai.KindTransport, ce.Kind)
	assert.Equal(t, analysis.LevelError, res.Assessment.Level)
}

func TestAnalyze_FencedReply(t *testing.T) {
	c := &stubCompleter{replies: replies(reply("```json\n{\"niveau_risque\":\"FAIBLE\",\"message_vocal\":\"ok\"}\n```"))}
	res, err := newService(c, nil).Analyze(context.Background(), fullReading())
	require.NoError(t, err)

	assert.Equal(t, analysis.OutcomeParsed, res.Outcome)
	assert.Equal(t, analysis.LevelLow, res.Assessment.Level)
	assert.Equal(t, "ok", res.Assessment.Message)
}

func TestAnalyze_ProseReply_ReturnsUndetermined(t *testing.T) {
	prose := "Le risque semble modéré aujourd'hui, pensez à aérer."
	c := &stubCompleter{replies: replies(reply(prose))}
	res, err := newService(c, nil).Analyze(context.Background(), fullReading())
	require.NoError(t, err)

	assert.Equal(t, analysis.OutcomeUnparseable, res.Outcome)
	assert.Equal(t, analysis.LevelUndetermined, res.Assessment.Level)
	assert.Equal(t, prose, res.Assessment.Message)

	var fe *analysis.FormatError
	assert.True(t, errors.As(res.Err, &fe))
}

func TestAnalyze_InvalidReading_NoRemoteCall(t *testing.T) {
	c := &stubCompleter{replies: replies(reply(analysis.ExampleResponse))}
	_, err := newService(c, nil).Analyze(context.Background(), analysis.SensorReading{PM25: analysis.Float(math.NaN())})

	require.Error(t, err)
	assert.True(t, errors.Is(err, analysis.ErrInvalidReading))
	assert.Equal(t, 0, c.calls())
}

func TestAnalyze_IDsAreUnique(t *testing.T) {
	c := &stubCompleter{replies: replies(reply(analysis.ExampleResponse))}
	svc := newService(c, nil)

	a, err := svc.Analyze(context.Background(), analysis.SensorReading{})
	require.NoError(t, err)
	b, err := svc.Analyze(context.Background(), analysis.SensorReading{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestService_HasContext(t *testing.T) {
	assert.True(t, newService(&stubCompleter{}, nil).HasContext())
	empty := analysis.NewService("", &stubCompleter{}, nil, analysis.Options{}, discardLogger())
	assert.False(t, empty.HasContext())
}

// ─── AnalyzeWithAudio ─────────────────────────────────────────────────────────

func TestAnalyzeWithAudio_SetsAudioURL(t *testing.T) {
	c := &stubCompleter{replies: replies(reply(analysis.ExampleResponse))}
	synth := &stubSynth{}
	res, err := newService(c, synth).AnalyzeWithAudio(context.Background(), fullReading())
	require.NoError(t, err)

	assert.Equal(t, "/audio/alerte_user123_20260114_143000.mp3", res.AudioURL)
	assert.Equal(t, "alerte_user123_20260114_143000.mp3", synth.filename)
	require.Len(t, synth.texts, 1)
	assert.Equal(t, res.Assessment.Message, synth.texts[0])
}

func TestAnalyzeWithAudio_UnknownUser(t *testing.T) {
	c := &stubCompleter{replies: replies(reply(analysis.ExampleResponse))}
	synth := &stubSynth{}
	res, err := newService(c, synth).AnalyzeWithAudio(context.Background(), analysis.SensorReading{})
	require.NoError(t, err)

	assert.Equal(t, "/audio/alerte_unknown_20260114_143000.mp3", res.AudioURL)
}

func TestAnalyzeWithAudio_SynthesisFailure_KeepsAssessment(t *testing.T) {
	c := &stubCompleter{replies: replies(reply(analysis.ExampleResponse))}
	synth := &stubSynth{err: errors.New("tts down")}
	res, err := newService(c, synth).AnalyzeWithAudio(context.Background(), fullReading())
	require.NoError(t, err)

	assert.Empty(t, res.AudioURL)
	assert.Equal(t, analysis.LevelModerate, res.Assessment.Level)
}

func TestAnalyzeWithAudio_FallbackMessageIsSpoken(t *testing.T) {
	c := &stubCompleter{replies: replies(failure(ai.KindStatus))}
	synth := &stubSynth{}
	res, err := newService(c, synth).AnalyzeWithAudio(context.Background(), fullReading())
	require.NoError(t, err)

	require.Len(t, synth.texts, 1)
	assert.Equal(t, analysis.UnreachableMessage, synth.texts[0])
	assert.NotEmpty(t, res.AudioURL)
}

func TestAnalyzeWithAudio_BlankMessageSkipsSynthesis(t *testing.T) {
	// The model answered with non-JSON blank text, so the fallback message is
	// the (blank) raw answer.
	c := &stubCompleter{replies: replies(reply("   "))}
	synth := &stubSynth{}
	res, err := newService(c, synth).AnalyzeWithAudio(context.Background(), fullReading())
	require.NoError(t, err)

	assert.Equal(t, analysis.LevelUndetermined, res.Assessment.Level)
	assert.Empty(t, synth.texts)
	assert.Empty(t, res.AudioURL)
}

func TestAnalyzeWithAudio_NoSynthesizer(t *testing.T) {
	c := &stubCompleter{replies: replies(reply(analysis.ExampleResponse))}
	res, err := newService(c, nil).AnalyzeWithAudio(context.Background(), fullReading())
	require.NoError(t, err)

	assert.Empty(t, res.AudioURL)
	assert.Equal(t, analysis.LevelModerate, res.Assessment.Level)
}

// ─── AnalyzeBatch ─────────────────────────────────────────────────────────────

func TestAnalyzeBatch_ItemsAreIndependent(t *testing.T) {
	c := &stubCompleter{replies: replies(
		reply(analysis.ExampleResponse),
		failure(ai.KindTimeout),
		reply(analysis.ExampleResponse),
	)}
	results, err := newService(c, nil).AnalyzeBatch(context.Background(), []analysis.SensorReading{
		{UserID: analysis.String("a")},
		{UserID: analysis.String("b")},
		{UserID: analysis.String("c")},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, analysis.LevelModerate, results[0].Assessment.Level)
	assert.Equal(t, analysis.LevelError, results[1].Assessment.Level)
	assert.Equal(t, analysis.LevelModerate, results[2].Assessment.Level)
	assert.Equal(t, 3, c.calls())

	// Prompts follow input order.
	assert.Contains(t, c.prompts[0], `"user_id": "a"`)
	assert.Contains(t, c.prompts[1], `"user_id": "b"`)
	assert.Contains(t, c.prompts[2], `"user_id": "c"`)
}

func TestAnalyzeBatch_Empty(t *testing.T) {
	c := &stubCompleter{}
	results, err := newService(c, nil).AnalyzeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, c.calls())
}

func TestAnalyzeBatch_InvalidItemRejectsWholeBatch(t *testing.T) {
	c := &stubCompleter{replies: replies(reply(analysis.ExampleResponse))}
	_, err := newService(c, nil).AnalyzeBatch(context.Background(), []analysis.SensorReading{
		{},
		{Temperature: analysis.Float(math.Inf(1))},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, analysis.ErrInvalidReading))
	assert.Equal(t, 0, c.calls())
}
