// Package analysis is the respiratory-risk pipeline: it composes the prompt
// from the training context and a sensor reading, calls the remote model,
// interprets the answer into a RiskAssessment (or a fallback record) and
// optionally turns the advisory message into an audio file.
//
// Dependency rule: analysis imports ai, speech and training. It never imports
// api, mqtt or config; those packages wire it up.
package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ─── SENSOR READING ───────────────────────────────────────────────────────────

// ErrInvalidReading is returned when a reading cannot be serialized without
// losing information (NaN or infinite measurements).
var ErrInvalidReading = errors.New("invalid sensor reading")

// SensorReading is one snapshot of environmental measurements. Every field is
// optional; unset fields are nil and omitted when serialized, because zero is
// a valid measurement. Field order here is the serialization order.
type SensorReading struct {
	Temperature *float64 `json:"temperature,omitempty"` // °C
	Humidity    *float64 `json:"humidity,omitempty"`    // %
	CO2         *float64 `json:"co2,omitempty"`         // ppm
	PM25        *float64 `json:"pm25,omitempty"`        // µg/m³
	NO2         *float64 `json:"no2,omitempty"`         // µg/m³
	Pressure    *float64 `json:"pressure,omitempty"`    // hPa
	Pollen      *string  `json:"pollen,omitempty"`
	Timestamp   *string  `json:"timestamp,omitempty"`
	Location    *string  `json:"location,omitempty"`
	UserID      *string  `json:"user_id,omitempty"`
}

// Validate rejects non-finite measurements.
func (r SensorReading) Validate() error {
	fields := []struct {
		name string
		v    *float64
	}{
		{"temperature", r.Temperature},
		{"humidity", r.Humidity},
		{"co2", r.CO2},
		{"pm25", r.PM25},
		{"no2", r.NO2},
		{"pressure", r.Pressure},
	}
	for _, f := range fields {
		if f.v != nil && (math.IsNaN(*f.v) || math.IsInf(*f.v, 0)) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidReading, f.name)
		}
	}
	return nil
}

// UserIDOr returns the reading's user identifier, or def when it is unset or
// blank.
func (r SensorReading) UserIDOr(def string) string {
	if r.UserID == nil || *r.UserID == "" {
		return def
	}
	return *r.UserID
}

// Float returns a pointer to v. Handy for building readings in code.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s.
func String(s string) *string { return &s }

// ─── RISK ASSESSMENT ──────────────────────────────────────────────────────────

// Risk level labels. The first four come from the model; LevelError and
// LevelUndetermined are the sentinels used by the fallback records.
const (
	LevelLow          = "FAIBLE"
	LevelModerate     = "MODÉRÉ"
	LevelHigh         = "ÉLEVÉ"
	LevelCritical     = "CRITIQUE"
	LevelError        = "ERREUR"
	LevelUndetermined = "INDÉTERMINÉ"
)

// RiskFactor is one environmental factor the model flagged.
type RiskFactor struct {
	Factor string      `json:"facteur"`
	Value  FactorValue `json:"valeur"`
	Impact string      `json:"impact"`
}

// FactorValue is the measured value of a factor, e.g. "1200 ppm". Models
// sometimes send a bare number instead of a string; the number's literal text
// is kept as is.
type FactorValue string

func (v *FactorValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = FactorValue(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("valeur: expected a string or a number, got %s", data)
	}
	*v = FactorValue(n.String())
	return nil
}

// RiskAssessment is the structured answer. Its JSON shape is also the schema
// the model is instructed to emit. Message is always set, including in
// fallback records: it is the one field every consumer relies on.
//
// Absent and null fields both decode to nil and are omitted when re-encoded;
// an explicit empty list is kept.
type RiskAssessment struct {
	Level           string       `json:"niveau_risque"`
	Score           *int         `json:"score_risque,omitempty"` // 0–100
	Conditions      []string     `json:"maladies_concernees,omitzero"`
	Factors         []RiskFactor `json:"facteurs_risque,omitzero"`
	Recommendations []string     `json:"recommandations,omitzero"`
	Message         string       `json:"message_vocal"`
	Forecast        *string      `json:"previsions,omitempty"`
}

// ─── RESULT ───────────────────────────────────────────────────────────────────

// Outcome tags which path produced a Result's assessment.
type Outcome string

const (
	OutcomeParsed      Outcome = "parsed"      // model answered in the required shape
	OutcomeUnparseable Outcome = "unparseable" // model answered, shape unusable → INDÉTERMINÉ
	OutcomeUnreachable Outcome = "unreachable" // remote call failed → ERREUR
)

// Result is what one pipeline run returns. Assessment is always well-formed;
// Err carries the recovered failure (a *FormatError or *ai.CallError) for
// diagnostics and is nil when Outcome is OutcomeParsed.
type Result struct {
	ID         uuid.UUID
	Outcome    Outcome
	Assessment RiskAssessment
	Err        error

	// AudioURL is the relative locator of the synthesized alert, e.g.
	// "/audio/alerte_user123_20260114_143000.mp3". Empty when no audio was
	// requested or synthesis failed.
	AudioURL string
}

// Report is the JSON document handed to clients, over HTTP and MQTT alike:
// the assessment fields at top level plus the run's identifiers.
type Report struct {
	Success    bool    `json:"success"`
	AnalysisID string  `json:"analysis_id"`
	Outcome    Outcome `json:"outcome"`
	RiskAssessment
	AudioURL string `json:"audio_url,omitempty"`
}

// Report renders r for clients. Success is true whenever an assessment was
// produced, fallback records included.
func (r Result) Report() Report {
	return Report{
		Success:        true,
		AnalysisID:     r.ID.String(),
		Outcome:        r.Outcome,
		RiskAssessment: r.Assessment,
		AudioURL:       r.AudioURL,
	}
}
