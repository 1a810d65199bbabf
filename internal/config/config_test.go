package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.BrainMode != "auto" {
		t.Fatalf("BrainMode = %q, want %q", cfg.BrainMode, "auto")
	}
	if cfg.BrainHTTPURL != "" {
		t.Fatalf("BrainHTTPURL = %q, want empty default", cfg.BrainHTTPURL)
	}
	if cfg.SegmentMinChars != 20 {
		t.Fatalf("SegmentMinChars = %d, want 20", cfg.SegmentMinChars)
	}
	if !cfg.ReadAloudDefault {
		t.Fatalf("ReadAloudDefault = false, want true")
	}
}

func TestLoadUsesExplicitBrainHTTPURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("BRAIN_HTTP_URL", "http://localhost:7777/stream")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BrainHTTPURL != "http://localhost:7777/stream" {
		t.Fatalf("BrainHTTPURL = %q, want explicit value", cfg.BrainHTTPURL)
	}
}

func TestLoadRejectsInvalidSegmentMinChars(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SEGMENT_MIN_CHARS", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want SEGMENT_MIN_CHARS validation failure")
	}
}

func TestLoadRejectsMalformedBool(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_READ_ALOUD_DEFAULT", "maybe")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want bool parse failure")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_CHAT_INACTIVITY_TIMEOUT",
		"APP_FIRST_AUDIO_SLO",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_READ_ALOUD_DEFAULT",
		"APP_PLAYBACK_ACK_TIMEOUT",
		"APP_DEFAULT_LOCALE",
		"BRAIN_MODE",
		"BRAIN_HTTP_URL",
		"BRAIN_FALLBACK_HTTP_URL",
		"BRAIN_STREAM_STRICT",
		"BRAIN_RETRY_MAX",
		"BRAIN_RETRY_BASE",
		"BRAIN_RETRY_CAP",
		"SYNTH_MODE",
		"SYNTH_HTTP_URL",
		"SYNTH_API_KEY",
		"SYNTH_VOICE_ID",
		"SYNTH_OUTPUT_FORMAT",
		"SYNTH_CLI",
		"SYNTH_CLI_FORMAT",
		"TRANSCRIBER_MODE",
		"TRANSCRIBER_WS_URL",
		"TRANSCRIBER_API_KEY",
		"TRANSCRIBER_MODEL_ID",
		"SEGMENT_MIN_CHARS",
		"GREETING_ASSET_DIR",
		"DATABASE_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
