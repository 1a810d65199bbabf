package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mstanisz/clara/internal/assistant"
	"github.com/mstanisz/clara/internal/brain"
	"github.com/mstanisz/clara/internal/capture"
	"github.com/mstanisz/clara/internal/config"
	"github.com/mstanisz/clara/internal/history"
	"github.com/mstanisz/clara/internal/httpapi"
	"github.com/mstanisz/clara/internal/observability"
	"github.com/mstanisz/clara/internal/session"
	"github.com/mstanisz/clara/internal/speech"
)

// BuildResult holds every wired component of the service.
type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Chats        *session.Manager
	Orchestrator *assistant.Orchestrator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (DB connections and the like).
	Cleanup func() error
}

// Build wires config into a ready-to-serve stack.
func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = log.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:         cfg.BrainMode,
		HTTPURL:      cfg.BrainHTTPURL,
		FallbackURL:  cfg.BrainFallbackURL,
		StreamStrict: cfg.BrainStreamStrict,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("brain adapter init failed: %w", err)
	}

	synth, err := speech.NewSynthesizer(speech.SynthConfig{
		Mode:      cfg.SynthMode,
		HTTPURL:   cfg.SynthHTTPURL,
		APIKey:    cfg.SynthAPIKey,
		Format:    cfg.SynthOutputFormat,
		CLI:       cfg.SynthCLI,
		CLIFormat: cfg.SynthCLIFormat,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("synthesizer init failed: %w", err)
	}

	greetings, err := speech.LoadGreetingLibrary(cfg.GreetingAssetDir, cfg.DefaultLocale)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("greeting library init failed: %w", err)
	}

	transcriber, err := capture.NewProvider(capture.Config{
		Mode:  cfg.TranscriberMode,
		WSURL: cfg.TranscriberWSURL,
		Key:   cfg.TranscriberKey,
		Model: cfg.TranscriberModel,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("transcriber init failed: %w", err)
	}

	chats := session.NewManager(cfg.ChatInactivityTimeout)
	chats.SetExpireHook(func(_ *session.Chat) {
		metrics.ChatEvents.WithLabelValues("expired").Inc()
		metrics.ActiveChats.Set(float64(chats.ActiveCount()))
	})

	orchestrator := assistant.NewOrchestrator(
		chats,
		adapter,
		store,
		transcriber,
		synth,
		greetings,
		metrics,
		logger,
		assistant.Config{
			SegmentMinChars:    cfg.SegmentMinChars,
			RetryMax:           cfg.BrainRetryMax,
			RetryBase:          cfg.BrainRetryBase,
			RetryCap:           cfg.BrainRetryCap,
			PlaybackAckTimeout: cfg.PlaybackAckTimeout,
			FirstAudioSLO:      cfg.FirstAudioSLO,
		},
	)

	api := httpapi.New(cfg, chats, orchestrator, store, metrics)

	cleanup := func() error {
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Chats:        chats,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
