package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SynthesisRequest carries one segment to the synthesis backend. The
// position label is diagnostic only; playback ordering is keyed by the
// slot index held by the caller.
type SynthesisRequest struct {
	Text          string `json:"text"`
	TurnContextID string `json:"turn_context_id"`
	PositionLabel string `json:"position_label"`
	Voice         string `json:"voice"`
}

// SynthesisResult is the resolved audio for one request.
type SynthesisResult struct {
	Audio  []byte
	Format string
}

// Synthesizer produces audio for one segment. Implementations never
// retry; retry policy belongs to the caller.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error)
}

// SynthConfig controls synthesizer construction.
type SynthConfig struct {
	Mode      string
	HTTPURL   string
	APIKey    string
	Format    string
	CLI       string
	CLIFormat string
}

func NewSynthesizer(cfg SynthConfig) (Synthesizer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPSynthesizer(cfg.HTTPURL, cfg.APIKey, cfg.Format), nil
		}
		if strings.TrimSpace(cfg.CLI) != "" {
			return NewExecSynthesizer(cfg.CLI, cfg.CLIFormat)
		}
		return NewMockSynthesizer(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("synthesizer url is required for http mode")
		}
		return NewHTTPSynthesizer(cfg.HTTPURL, cfg.APIKey, cfg.Format), nil
	case "exec":
		if strings.TrimSpace(cfg.CLI) == "" {
			return nil, errors.New("synthesizer command is required for exec mode")
		}
		return NewExecSynthesizer(cfg.CLI, cfg.CLIFormat)
	case "mock":
		return NewMockSynthesizer(), nil
	default:
		return nil, fmt.Errorf("unsupported synthesizer mode %q", cfg.Mode)
	}
}
