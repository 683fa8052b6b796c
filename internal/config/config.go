// Package config loads and validates all environment variables at startup.
// Every other package receives typed values from here.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrMissingCredential is returned by Load when the remote model credential is
// absent. The process must not start without it.
var ErrMissingCredential = errors.New("missing remote model credential")

// Config is the fully-parsed application configuration.
type Config struct {
	// ── Server ────────────────────────────────────────────────────────────────
	Port               string   `env:"PORT" envDefault:"8000"`
	Env                string   `env:"ENV" envDefault:"development"` // "development" | "staging" | "production"
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// ── OpenRouter ────────────────────────────────────────────────────────────
	OpenRouterAPIKey  string `env:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	OpenRouterModel   string `env:"OPENROUTER_MODEL" envDefault:"google/gemini-2.5-pro"`
	OpenRouterReferer string `env:"OPENROUTER_REFERER" envDefault:"https://respiria.app"`
	OpenRouterTitle   string `env:"OPENROUTER_TITLE" envDefault:"RespirIA"`

	// ── Sampling ──────────────────────────────────────────────────────────────
	Temperature float32       `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	MaxTokens   int           `env:"LLM_MAX_TOKENS" envDefault:"2048"`
	LLMTimeout  time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`

	// ── Training data ─────────────────────────────────────────────────────────
	// TrainingDataPath is a .csv / .xlsx file or a postgres:// URL.
	TrainingDataPath string `env:"TRAINING_DATA_PATH" envDefault:"data/training_data.csv"`
	TrainingTable    string `env:"TRAINING_TABLE" envDefault:"training_cases"`

	// ── Audio ─────────────────────────────────────────────────────────────────
	AudioOutputDir string `env:"AUDIO_OUTPUT_DIR" envDefault:"output_audio"`
	AudioLanguage  string `env:"AUDIO_LANGUAGE" envDefault:"fr"`
	TTSBaseURL     string `env:"TTS_BASE_URL" envDefault:"https://translate.google.com"`

	// ── MQTT ──────────────────────────────────────────────────────────────────
	// Optional. When MQTT_BROKER is empty the ingestion adapter is not started.
	MQTTBroker          string `env:"MQTT_BROKER"`
	MQTTClientID        string `env:"MQTT_CLIENT_ID" envDefault:"respiria-backend"`
	MQTTUsername        string `env:"MQTT_USERNAME"`
	MQTTPassword        string `env:"MQTT_PASSWORD"`
	MQTTReadingTopic    string `env:"MQTT_READING_TOPIC" envDefault:"respira/+/reading"`
	MQTTAssessmentTopic string `env:"MQTT_ASSESSMENT_TOPIC" envDefault:"respira/{user_id}/assessment"`
	MQTTWorkers         int    `env:"MQTT_WORKERS" envDefault:"3"`
	MQTTWithAudio       bool   `env:"MQTT_WITH_AUDIO" envDefault:"false"`
}

// Load reads all environment variables and returns a validated Config.
// A .env file in the working directory is loaded first when present; real
// environment variables always take precedence over .env values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return c, c.validate()
}

// IsProduction reports whether ENV is "production".
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TrainingIsPostgres reports whether the training data lives in Postgres
// rather than in a local file.
func (c *Config) TrainingIsPostgres() bool {
	return strings.HasPrefix(c.TrainingDataPath, "postgres://") ||
		strings.HasPrefix(c.TrainingDataPath, "postgresql://")
}

func (c *Config) validate() error {
	var errs []error

	if strings.TrimSpace(c.OpenRouterAPIKey) == "" {
		errs = append(errs, fmt.Errorf("%w: OPENROUTER_API_KEY must be set", ErrMissingCredential))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("LLM_MAX_TOKENS must be positive, got %d", c.MaxTokens))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT must be positive, got %s", c.LLMTimeout))
	}
	if c.MQTTBroker != "" && c.MQTTWorkers <= 0 {
		errs = append(errs, fmt.Errorf("MQTT_WORKERS must be positive, got %d", c.MQTTWorkers))
	}

	return errors.Join(errs...)
}
