package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PitchLabs-AI/debrief/internal/api"
	"github.com/PitchLabs-AI/debrief/internal/config"
	"github.com/PitchLabs-AI/debrief/internal/events"
	"github.com/PitchLabs-AI/debrief/internal/grading"
	"github.com/PitchLabs-AI/debrief/internal/llm"
	"github.com/PitchLabs-AI/debrief/internal/pipeline"
	"github.com/PitchLabs-AI/debrief/internal/store"
	"github.com/PitchLabs-AI/debrief/internal/summary"
	"github.com/PitchLabs-AI/debrief/internal/transcript"
	"github.com/PitchLabs-AI/debrief/internal/voice"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("debrief starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.DefaultRubricID != 0 {
		db.SetDefaultRubricID(cfg.DefaultRubricID)
	}
	slog.Info("database connected")

	// OpenAI client
	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	ai := llm.NewClient(cfg.OpenAIAPIKey, cfg.GradingModel)
	slog.Info("llm client ready", "model", cfg.GradingModel)

	// Voice vendor (optional — sessions without vendor calls skip recording fetch)
	var fetcher *voice.Fetcher
	if cfg.VapiAPIKey != "" {
		vendor := voice.NewClient(cfg.VapiAPIKey)
		if cfg.VapiURL != "" {
			vendor.SetBaseURL(cfg.VapiURL)
		}
		fetcher = voice.NewFetcher(vendor, slog.Default())
		slog.Info("voice vendor client ready")
	} else {
		fetcher = voice.NewFetcher(nil, slog.Default())
		slog.Warn("voice vendor not configured — recording fetch disabled")
	}

	// NATS
	ev, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer ev.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Processing stages
	grader := grading.New(ai, db, slog.Default())
	cleaner := transcript.NewCleaner(ai, slog.Default())
	summarizer := summary.NewGenerator(ai, slog.Default())

	// Post-call pipeline
	runner := pipeline.NewRunner(db, fetcher, cleaner, summarizer, grader, ev, slog.Default())

	if err := ev.Subscribe(events.SubjectSessionSaved, runner.HandleSessionSaved); err != nil {
		slog.Error("failed to subscribe to session events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, db, grader, cleaner, summarizer, runner, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := ev.Publish("training.service.debrief.registered", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("debrief ready", "port", cfg.Port)

	// Graceful shutdown — wait for in-flight pipeline runs before exiting.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	runner.Close()
	slog.Info("debrief stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
