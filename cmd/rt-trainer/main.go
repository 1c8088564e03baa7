package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/rt-trainer/internal/aiscore"
	"github.com/snarg/rt-trainer/internal/api"
	"github.com/snarg/rt-trainer/internal/audio"
	"github.com/snarg/rt-trainer/internal/config"
	"github.com/snarg/rt-trainer/internal/pool"
	"github.com/snarg/rt-trainer/internal/provider"
	"github.com/snarg/rt-trainer/internal/question"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.StringVar(&overrides.QuestionDir, "questions", "", "question bank directory")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("rt-trainer starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Question bank with hot reload
	bank := question.NewBank(cfg.QuestionDir, log)
	if err := bank.Load(); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.QuestionDir).Msg("failed to load question bank")
	}
	watcher, err := bank.Watch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("question bank hot reload unavailable")
	} else {
		defer watcher.Close()
	}

	// Provider connection pool. Warmed lazily on the first attempt; torn
	// down on shutdown.
	tokenURLs := make(map[provider.ID]string)
	if cfg.ElevenLabsTokenURL != "" {
		tokenURLs[provider.ElevenLabs] = cfg.ElevenLabsTokenURL
	}
	if cfg.DeepgramTokenURL != "" {
		tokenURLs[provider.Deepgram] = cfg.DeepgramTokenURL
	}
	if len(tokenURLs) == 0 {
		log.Warn().Msg("no provider token URLs configured, transcription disabled")
	}

	poolLog := log.With().Str("component", "pool").Logger()
	tokens := pool.NewTokenClient(cfg.TokenHTTPTimeout)
	p := pool.New(pool.Options{
		TokenURLs: tokenURLs,
		Params: provider.Params{
			SampleRate:          cfg.SampleRate,
			Language:            "en",
			SessionStartTimeout: cfg.SessionStartTimeout,
		},
		RefreshBuffer: cfg.TokenRefreshBuffer,
		MaxAttempts:   cfg.PoolMaxAttempts,
		BackoffBase:   cfg.PoolBackoffBase,
		FetchToken:    tokens.Fetch,
		Log:           poolLog,
	})
	defer p.Teardown()

	// Attempt manager
	attempts := api.NewAttemptManager(api.AttemptManagerOptions{
		Pool:    p,
		Bank:    bank,
		AIScore: aiscore.NewClient(cfg.AIScoreURL, cfg.AIScoreTimeout, log),
		ChunkerConfig: audio.ChunkerConfig{
			SampleRate:    cfg.SampleRate,
			FrameDuration: cfg.FrameDuration,
		},
		FinalizeTimeout: cfg.FinalizeTimeout,
		AttemptTimeout:  cfg.AttemptTimeout,
		Log:             log,
	})

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, p, bank, attempts, version, startTime, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("rt-trainer stopped")
}
