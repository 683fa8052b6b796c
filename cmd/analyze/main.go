// Command analyze runs one reading through the pipeline and prints the report.
//
//	analyze -input reading.json [-audio]
//	cat reading.json | analyze -input -
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nyashahama/respiria-backend/internal/ai"
	"github.com/nyashahama/respiria-backend/internal/analysis"
	"github.com/nyashahama/respiria-backend/internal/config"
	"github.com/nyashahama/respiria-backend/internal/speech"
	"github.com/nyashahama/respiria-backend/internal/training"
)

func main() {
	var input = flag.String("input", "", "Path to a SensorReading JSON file, or '-' for stdin")
	var withAudio = flag.Bool("audio", false, "Also synthesize the advisory message to an mp3 file")
	var verbose = flag.Bool("v", false, "Log pipeline steps to stderr")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*input, *withAudio, logger); err != nil {
		fmt.Fprintln(os.Stderr, "analyze:", err)
		os.Exit(1)
	}
}

func run(input string, withAudio bool, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	reading, err := readReading(input)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src := training.NewSource(cfg.TrainingDataPath, cfg.TrainingTable)
	trainingCtx := training.Load(ctx, src, logger)

	completer := ai.NewOpenRouterClient(ai.Options{
		APIKey:      cfg.OpenRouterAPIKey,
		BaseURL:     cfg.OpenRouterBaseURL,
		Model:       cfg.OpenRouterModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.LLMTimeout,
		Referer:     cfg.OpenRouterReferer,
		Title:       cfg.OpenRouterTitle,
	})
	synth := speech.NewGoogleTTS(speech.Options{
		BaseURL:   cfg.TTSBaseURL,
		Language:  cfg.AudioLanguage,
		OutputDir: cfg.AudioOutputDir,
	})

	// Locally the audio URL is the file path, not the HTTP route.
	svc := analysis.NewService(trainingCtx, completer, synth, analysis.Options{
		AudioURLPrefix: cfg.AudioOutputDir + string(os.PathSeparator),
	}, logger)

	var res analysis.Result
	if withAudio {
		res, err = svc.AnalyzeWithAudio(ctx, reading)
	} else {
		res, err = svc.Analyze(ctx, reading)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Report())
}

func readReading(input string) (analysis.SensorReading, error) {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return analysis.SensorReading{}, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var reading analysis.SensorReading
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&reading); err != nil {
		return analysis.SensorReading{}, fmt.Errorf("decode input: %w", err)
	}
	return reading, nil
}
