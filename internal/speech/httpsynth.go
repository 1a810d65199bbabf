package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mstanisz/clara/internal/reliability"
)

// HTTPSynthesizer posts segment text to a speech backend and returns the
// binary audio body. Provider framing stays opaque here.
type HTTPSynthesizer struct {
	url    string
	apiKey string
	format string
	client *http.Client
}

func NewHTTPSynthesizer(url, apiKey, format string) *HTTPSynthesizer {
	if strings.TrimSpace(format) == "" {
		format = "audio/mpeg"
	}
	return &HTTPSynthesizer{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		format: format,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return SynthesisResult{}, reliability.Classify(reliability.KindSynthesis, 0, fmt.Errorf("marshal synthesis request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return SynthesisResult{}, reliability.Classify(reliability.KindSynthesis, 0, fmt.Errorf("create synthesis request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", s.format)
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	res, err := s.client.Do(httpReq)
	if err != nil {
		return SynthesisResult{}, reliability.Classify(reliability.KindSynthesis, 0, fmt.Errorf("send synthesis request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return SynthesisResult{}, reliability.Classify(reliability.KindSynthesis, res.StatusCode,
			fmt.Errorf("synthesis http status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return SynthesisResult{}, reliability.Classify(reliability.KindSynthesis, 0, fmt.Errorf("read synthesis response: %w", err))
	}
	if len(audio) == 0 {
		return SynthesisResult{}, reliability.Classify(reliability.KindSynthesis, 0, fmt.Errorf("synthesis returned empty audio"))
	}

	format := res.Header.Get("Content-Type")
	if format == "" {
		format = s.format
	}
	return SynthesisResult{Audio: audio, Format: format}, nil
}
