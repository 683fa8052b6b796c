package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nyashahama/respiria-backend/internal/training"
)

// SystemPersona is the system-role message sent with every prompt.
const SystemPersona = "Tu es RespirIA, un assistant médical spécialisé dans la prédiction des risques respiratoires."

// ExampleResponse is the documented answer the model is asked to imitate.
// Its shape is exactly RiskAssessment's JSON shape.
const ExampleResponse = `{
    "niveau_risque": "MODÉRÉ",
    "score_risque": 65,
    "maladies_concernees": ["asthme", "rhinite"],
    "facteurs_risque": [
        {"facteur": "CO2 élevé", "valeur": "1200 ppm", "impact": "élevé"},
        {"facteur": "Humidité faible", "valeur": "30%", "impact": "modéré"}
    ],
    "recommandations": [
        "Évitez les activités physiques intenses",
        "Aérez votre intérieur tôt le matin",
        "Gardez votre inhalateur à portée de main"
    ],
    "message_vocal": "Attention, risque respiratoire modéré détecté. Le taux de CO2 est élevé et l'air est sec. Je vous conseille d'éviter les activités physiques intenses et de bien aérer votre logement.",
    "previsions": "Le risque devrait diminuer en soirée avec la baisse des températures."
}`

const (
	missionSection = `MISSION :
Analyse les données environnementales suivantes et prédit les risques pour les maladies respiratoires.`

	checklistSection = `ANALYSE REQUISE :
1. Niveau de risque global (FAIBLE / MODÉRÉ / ÉLEVÉ / CRITIQUE)
2. Maladies potentiellement concernées (asthme, bronchite, rhinite allergique, etc.)
3. Facteurs environnementaux problématiques
4. Recommandations personnalisées et concrètes
5. Prévisions pour les prochaines heures`

	formatInstruction = "Réponds UNIQUEMENT avec le JSON, sans texte supplémentaire."
)

// ComposePrompt builds the user prompt from the training context and reading.
// The output depends only on its inputs: identical arguments always produce
// byte-identical text.
func ComposePrompt(ctx training.Context, r SensorReading) (string, error) {
	data, err := encodeReading(r)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(string(ctx))
	sb.WriteString("\n\n")
	sb.WriteString(missionSection)
	sb.WriteString("\n\nDONNÉES DES CAPTEURS :\n")
	sb.WriteString(data)
	sb.WriteString("\n\n")
	sb.WriteString(checklistSection)
	sb.WriteString("\n\nFORMAT DE RÉPONSE (JSON) :\n")
	sb.WriteString(ExampleResponse)
	sb.WriteString("\n\n")
	sb.WriteString(formatInstruction)
	sb.WriteString("\n")

	return sb.String(), nil
}

// encodeReading serializes r as indented JSON in field order, leaving UTF-8
// and HTML-significant characters as they are.
func encodeReading(r SensorReading) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}

	return strings.TrimRight(buf.String(), "\n"), nil
}
