package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/nyashahama/respiria-backend/internal/ai"
	"github.com/nyashahama/respiria-backend/internal/analysis"
	"github.com/nyashahama/respiria-backend/internal/api"
	"github.com/nyashahama/respiria-backend/internal/config"
	"github.com/nyashahama/respiria-backend/internal/mqtt"
	"github.com/nyashahama/respiria-backend/internal/speech"
	"github.com/nyashahama/respiria-backend/internal/training"
	"github.com/nyashahama/respiria-backend/internal/worker"
)

func main() {
	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		slog.Error("fatal", "error", fmt.Errorf("config: %w", err))
		os.Exit(1)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, pretty text in development.
	var logger *slog.Logger
	if cfg.IsProduction() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port, "model", cfg.OpenRouterModel)

	// Root context cancelled by OS signal. Worker, MQTT and HTTP server all
	// respect it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Training context ──────────────────────────────────────────────────────
	// Built once; a failed load leaves the context empty and the service
	// still starts.
	trainingCtx := loadTrainingContext(ctx, cfg, logger)

	// ── Remote model ──────────────────────────────────────────────────────────
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

	// ── Speech ────────────────────────────────────────────────────────────────
	synth := speech.NewGoogleTTS(speech.Options{
		BaseURL:   cfg.TTSBaseURL,
		Language:  cfg.AudioLanguage,
		OutputDir: cfg.AudioOutputDir,
	})

	svc := analysis.NewService(trainingCtx, completer, synth, analysis.Options{}, logger)

	// ── MQTT ingestion (optional) ─────────────────────────────────────────────
	// workersDone is closed once every in-flight MQTT job has returned; the
	// client is closed after that so their publishes still go out.
	var workersDone <-chan struct{}
	if cfg.MQTTBroker != "" {
		client, done, err := startMQTT(ctx, cfg, svc, logger)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer client.Close()
		workersDone = done
	} else {
		logger.Info("mqtt: disabled (MQTT_BROKER not set)")
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.NewServer(svc, api.Config{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AudioDir:         cfg.AudioOutputDir,
		RemoteConfigured: cfg.OpenRouterAPIKey != "",
		RequestTimeout:   90 * time.Second,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 100 * time.Second, // model call + synthesis
		IdleTimeout:  120 * time.Second,
	}

	// Start the HTTP server in a background goroutine.
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until either a signal arrives or the server dies unexpectedly.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Give in-flight HTTP requests up to 20 seconds to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if workersDone != nil {
		select {
		case <-workersDone:
		case <-shutdownCtx.Done():
			logger.Warn("mqtt: workers still running at shutdown deadline")
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// loadTrainingContext reads the training table from a file or Postgres.
func loadTrainingContext(ctx context.Context, cfg *config.Config, logger *slog.Logger) training.Context {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	src := training.NewSource(cfg.TrainingDataPath, cfg.TrainingTable)
	if cfg.TrainingIsPostgres() {
		pool, err := openDB(loadCtx, cfg.TrainingDataPath)
		if err != nil {
			logger.Error("training: database unavailable, starting without context", "error", err)
			return ""
		}
		defer pool.Close()
		src = &training.PostgresSource{DB: pool, Table: cfg.TrainingTable}
	}

	trainingCtx := training.Load(loadCtx, src, logger)
	logger.Info("training context ready", "bytes", len(trainingCtx), "source", cfg.TrainingTable)
	return trainingCtx
}

// startMQTT wires subscriber → worker pool → analysis → publisher and starts
// the pool. The returned channel is closed when the pool has drained after
// ctx is cancelled; close the client only after that.
func startMQTT(ctx context.Context, cfg *config.Config, svc *analysis.Service, logger *slog.Logger) (*mqtt.Client, <-chan struct{}, error) {
	client := mqtt.NewClient(mqtt.Config{
		Broker:          cfg.MQTTBroker,
		ClientID:        cfg.MQTTClientID,
		Username:        cfg.MQTTUsername,
		Password:        cfg.MQTTPassword,
		ReadingTopic:    cfg.MQTTReadingTopic,
		AssessmentTopic: cfg.MQTTAssessmentTopic,
	}, logger)

	job := worker.NewJob(svc, client, cfg.MQTTWithAudio, logger)
	runner := worker.NewRunner(job, worker.RunnerConfig{Workers: cfg.MQTTWorkers}, logger)

	// Start the worker pool in a background goroutine. It blocks until ctx is
	// done and in-flight jobs have returned.
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	handler := mqtt.NewReadingHandler(cfg.MQTTReadingTopic, runner, logger)
	if err := client.Connect(handler.Handle); err != nil {
		return nil, nil, err
	}
	return client, done, nil
}

// openDB opens a small connection pool for the one-off training query and
// verifies the server is reachable.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	pool.SetMaxOpenConns(2)
	pool.SetConnMaxLifetime(5 * time.Minute)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}
