package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TurnRequest is the normalized request sent to the model backend.
type TurnRequest struct {
	UserID    string   `json:"user_id"`
	ChatID    string   `json:"chat_id"`
	TurnID    string   `json:"turn_id"`
	InputText string   `json:"input_text"`
	History   []string `json:"history,omitempty"`
	Locale    string   `json:"locale,omitempty"`
}

// TurnResponse is the final response after streaming deltas.
type TurnResponse struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments. Returning an error aborts
// the stream.
type DeltaHandler func(delta string) error

// Adapter bridges the assistant runtime with the model backend. Stream
// errors carry a reliability classification; retry policy lives in the
// caller, never in an adapter.
type Adapter interface {
	StreamTurn(ctx context.Context, req TurnRequest, onDelta DeltaHandler) (TurnResponse, error)
}

// Config controls adapter construction.
type Config struct {
	Mode         string
	HTTPURL      string
	FallbackURL  string
	StreamStrict bool
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		primary := NewHTTPAdapter(cfg.HTTPURL, cfg.StreamStrict)
		if strings.TrimSpace(cfg.FallbackURL) != "" {
			return NewFallbackAdapter(primary, NewHTTPAdapter(cfg.FallbackURL, cfg.StreamStrict)), nil
		}
		return primary, nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	httpURL := strings.TrimSpace(cfg.HTTPURL)
	if httpURL == "" {
		return NewMockAdapter()
	}
	primary := NewHTTPAdapter(httpURL, cfg.StreamStrict)
	if fallbackURL := strings.TrimSpace(cfg.FallbackURL); fallbackURL != "" {
		return NewFallbackAdapter(primary, NewHTTPAdapter(fallbackURL, cfg.StreamStrict))
	}
	return primary
}
