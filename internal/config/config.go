package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the Clara assistant service.
type Config struct {
	BindAddr              string
	ShutdownTimeout       time.Duration
	ChatInactivityTimeout time.Duration
	FirstAudioSLO         time.Duration
	MetricsNamespace      string

	AllowAnyOrigin bool

	// Text-stream (brain) backend.
	BrainMode         string
	BrainHTTPURL      string
	BrainFallbackURL  string
	BrainStreamStrict bool
	BrainRetryMax     int
	BrainRetryBase    time.Duration
	BrainRetryCap     time.Duration

	// Speech synthesis backend.
	SynthMode         string
	SynthHTTPURL      string
	SynthAPIKey       string
	SynthVoice        string
	SynthOutputFormat string
	SynthCLI          string
	SynthCLIFormat    string

	// Streaming transcription backend.
	TranscriberMode  string
	TranscriberWSURL string
	TranscriberKey   string
	TranscriberModel string

	// Segmentation and playback tuning.
	SegmentMinChars    int
	ReadAloudDefault   bool
	PlaybackAckTimeout time.Duration

	// Static greeting assets.
	GreetingAssetDir string
	DefaultLocale    string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "clara"),
		AllowAnyOrigin:   false,

		BrainMode:        envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:     envTrimmed("BRAIN_HTTP_URL"),
		BrainFallbackURL: envTrimmed("BRAIN_FALLBACK_HTTP_URL"),
		BrainRetryMax:    2,
		BrainRetryBase:   250 * time.Millisecond,
		BrainRetryCap:    2 * time.Second,

		SynthMode:         envOrDefault("SYNTH_MODE", "auto"),
		SynthHTTPURL:      envTrimmed("SYNTH_HTTP_URL"),
		SynthAPIKey:       envTrimmed("SYNTH_API_KEY"),
		SynthVoice:        envOrDefault("SYNTH_VOICE_ID", "clara_default"),
		SynthOutputFormat: envOrDefault("SYNTH_OUTPUT_FORMAT", "pcm_16000"),
		SynthCLI:          envTrimmed("SYNTH_CLI"),
		SynthCLIFormat:    envOrDefault("SYNTH_CLI_FORMAT", "wav_16000"),

		TranscriberMode:  envOrDefault("TRANSCRIBER_MODE", "auto"),
		TranscriberWSURL: envTrimmed("TRANSCRIBER_WS_URL"),
		TranscriberKey:   envTrimmed("TRANSCRIBER_API_KEY"),
		TranscriberModel: envOrDefault("TRANSCRIBER_MODEL_ID", "general_realtime"),

		SegmentMinChars:    20,
		ReadAloudDefault:   true,
		PlaybackAckTimeout: 30 * time.Second,

		GreetingAssetDir: envOrDefault("GREETING_ASSET_DIR", "assets/greetings"),
		DefaultLocale:    envOrDefault("APP_DEFAULT_LOCALE", "en"),

		DatabaseURL: envTrimmed("DATABASE_URL"),

		ShutdownTimeout:       15 * time.Second,
		ChatInactivityTimeout: 5 * time.Minute,
		FirstAudioSLO:         700 * time.Millisecond,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatInactivityTimeout, err = durationFromEnv("APP_CHAT_INACTIVITY_TIMEOUT", cfg.ChatInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FirstAudioSLO, err = durationFromEnv("APP_FIRST_AUDIO_SLO", cfg.FirstAudioSLO)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackAckTimeout, err = durationFromEnv("APP_PLAYBACK_ACK_TIMEOUT", cfg.PlaybackAckTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainRetryBase, err = durationFromEnv("BRAIN_RETRY_BASE", cfg.BrainRetryBase)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainRetryCap, err = durationFromEnv("BRAIN_RETRY_CAP", cfg.BrainRetryCap)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainRetryMax, err = intFromEnv("BRAIN_RETRY_MAX", cfg.BrainRetryMax)
	if err != nil {
		return Config{}, err
	}
	cfg.SegmentMinChars, err = intFromEnv("SEGMENT_MIN_CHARS", cfg.SegmentMinChars)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ReadAloudDefault, err = boolFromEnv("APP_READ_ALOUD_DEFAULT", cfg.ReadAloudDefault)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainStreamStrict, err = boolFromEnv("BRAIN_STREAM_STRICT", cfg.BrainStreamStrict)
	if err != nil {
		return Config{}, err
	}

	if cfg.ChatInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_CHAT_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SegmentMinChars <= 0 {
		return Config{}, fmt.Errorf("SEGMENT_MIN_CHARS must be positive")
	}
	if cfg.BrainRetryMax < 0 {
		return Config{}, fmt.Errorf("BRAIN_RETRY_MAX must be >= 0")
	}
	if cfg.PlaybackAckTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_PLAYBACK_ACK_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: invalid bool %q", key, v)
	}
}
