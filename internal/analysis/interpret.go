package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// FormatError is the ResponseFormatFailure: the model answered, but the text
// is not a usable risk record. Raw is the untouched model output.
type FormatError struct {
	Raw string
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("analysis: unusable model response: %v (raw: %.200s)", e.Err, e.Raw)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Interpret parses the model's answer into a RiskAssessment. A markdown code
// fence around the JSON (optionally tagged json) is stripped first. Fields the
// model left out stay unset. Anything that is not a JSON object carrying both
// niveau_risque and message_vocal yields a *FormatError.
func Interpret(raw string) (RiskAssessment, error) {
	cleaned := StripFences(raw)

	if !strings.HasPrefix(cleaned, "{") {
		return RiskAssessment{}, &FormatError{Raw: raw, Err: errors.New("response is not a JSON object")}
	}

	a, err := decodeAssessment([]byte(cleaned))
	if err != nil {
		return RiskAssessment{}, &FormatError{Raw: raw, Err: err}
	}

	if a.Level == "" {
		return RiskAssessment{}, &FormatError{Raw: raw, Err: errors.New("missing niveau_risque")}
	}
	if a.Message == "" {
		return RiskAssessment{}, &FormatError{Raw: raw, Err: errors.New("missing message_vocal")}
	}

	return a, nil
}

// decodeAssessment is json.Unmarshal with score_risque read as any JSON number
// holding an integral value, so 72 and 72.0 both give 72.
func decodeAssessment(data []byte) (RiskAssessment, error) {
	var aux struct {
		RiskAssessment
		Score *json.Number `json:"score_risque"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return RiskAssessment{}, err
	}

	a := aux.RiskAssessment
	if aux.Score == nil {
		return a, nil
	}
	f, err := aux.Score.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return RiskAssessment{}, fmt.Errorf("score_risque: %s is not an integer", aux.Score.String())
	}
	score := int(f)
	a.Score = &score
	return a, nil
}

// StripFences trims s and removes a surrounding ``` / ```json fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = s[4:]
		}
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ─── FALLBACK RECORDS ─────────────────────────────────────────────────────────

// UnreachableMessage is the advisory message used when the model could not be
// reached at all.
const UnreachableMessage = "Impossible d'analyser les données pour le moment. Veuillez réessayer."

// UnparseableFallback is substituted when the model answered in the wrong
// shape. The raw answer becomes the advisory message so a human can still
// read it.
func UnparseableFallback(raw string) RiskAssessment {
	return RiskAssessment{
		Level:           LevelUndetermined,
		Message:         raw,
		Recommendations: []string{"Consultez les données manuellement"},
	}
}

// UnreachableFallback is substituted on timeout, network error or a
// non-success status from the remote endpoint.
func UnreachableFallback() RiskAssessment {
	score := 0
	return RiskAssessment{
		Level:   LevelError,
		Score:   &score,
		Message: UnreachableMessage,
		Recommendations: []string{
			"Vérifiez votre connexion",
			"Contactez le support technique",
		},
	}
}

// resolve turns the remote call's outcome into a tagged Result. callErr is the
// error returned by the Completer, if any.
func resolve(raw string, callErr error) Result {
	if callErr != nil {
		return Result{Outcome: OutcomeUnreachable, Assessment: UnreachableFallback(), Err: callErr}
	}

	a, err := Interpret(raw)
	if err != nil {
		return Result{Outcome: OutcomeUnparseable, Assessment: UnparseableFallback(raw), Err: err}
	}

	return Result{Outcome: OutcomeParsed, Assessment: a}
}
