package capture

import (
	"errors"
	"fmt"
	"strings"
)

// Config controls provider construction.
type Config struct {
	Mode  string
	WSURL string
	Key   string
	Model string
}

func NewProvider(cfg Config) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.WSURL) != "" {
			return NewWSTranscriber(WSTranscriberConfig{WSURL: cfg.WSURL, APIKey: cfg.Key, Model: cfg.Model}), nil
		}
		return NewMockProvider(), nil
	case "ws":
		if strings.TrimSpace(cfg.WSURL) == "" {
			return nil, errors.New("transcriber websocket url is required for ws mode")
		}
		return NewWSTranscriber(WSTranscriberConfig{WSURL: cfg.WSURL, APIKey: cfg.Key, Model: cfg.Model}), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported transcriber mode %q", cfg.Mode)
	}
}
