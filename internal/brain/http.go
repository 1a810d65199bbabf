package brain

import (
	"bufio"
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

// terminalFrame marks the end of a turn stream, distinct from data frames.
const terminalFrame = "[DONE]"

// HTTPAdapter consumes one long-lived streaming request per turn from an
// SSE- or NDJSON-speaking model backend.
type HTTPAdapter struct {
	url    string
	strict bool
	client *http.Client
}

func NewHTTPAdapter(url string, strict bool) *HTTPAdapter {
	return &HTTPAdapter{
		url:    strings.TrimSpace(url),
		strict: strict,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (a *HTTPAdapter) StreamTurn(ctx context.Context, req TurnRequest, onDelta DeltaHandler) (TurnResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return TurnResponse{}, reliability.Classify(reliability.KindFatal, 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return TurnResponse{}, reliability.Classify(reliability.KindFatal, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	res, err := a.client.Do(httpReq)
	if err != nil {
		// Transport-level failures are transient by definition.
		return TurnResponse{}, reliability.Classify(reliability.KindRetriable, 0, fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		kind := reliability.ClassifyHTTPStatus(res.StatusCode)
		return TurnResponse{}, reliability.Classify(kind, res.StatusCode,
			fmt.Errorf("brain http status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") {
		return a.consumeSSE(res.Body, onDelta)
	}
	if strings.Contains(ct, "application/x-ndjson") {
		return a.consumeNDJSON(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return TurnResponse{}, reliability.Classify(reliability.KindRetriable, 0, fmt.Errorf("read response: %w", err))
	}
	text := strings.TrimSpace(string(body))
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		text = strings.TrimSpace(extractText(obj))
	}
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return TurnResponse{}, err
		}
	}
	return TurnResponse{Text: text}, nil
}

// consumeSSE reads `data:` frames until the terminal frame or stream close.
// Comment frames (leading ':') and blank separators are skipped. In strict
// mode a malformed data frame closes the stream with an error; otherwise it
// is dropped so one bad frame cannot kill the turn.
func (a *HTTPAdapter) consumeSSE(body io.Reader, onDelta DeltaHandler) (TurnResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == terminalFrame {
			return TurnResponse{Text: out.String()}, nil
		}

		delta, err := decodeDelta(data)
		if err != nil {
			if a.strict {
				return TurnResponse{}, reliability.Classify(reliability.KindFatal, 0, fmt.Errorf("malformed stream frame: %w", err))
			}
			continue
		}
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return TurnResponse{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return TurnResponse{}, reliability.Classify(reliability.KindRetriable, 0, fmt.Errorf("stream read: %w", err))
	}

	// Stream closed without a terminal frame; treat whatever arrived as the
	// full response rather than failing the turn.
	return TurnResponse{Text: out.String()}, nil
}

func (a *HTTPAdapter) consumeNDJSON(body io.Reader, onDelta DeltaHandler) (TurnResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == terminalFrame {
			return TurnResponse{Text: out.String()}, nil
		}

		delta, err := decodeDelta(line)
		if err != nil {
			if a.strict {
				return TurnResponse{}, reliability.Classify(reliability.KindFatal, 0, fmt.Errorf("malformed stream line: %w", err))
			}
			// Loose mode: non-JSON lines are raw text deltas.
			delta = line
		}
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return TurnResponse{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return TurnResponse{}, reliability.Classify(reliability.KindRetriable, 0, fmt.Errorf("stream read: %w", err))
	}
	return TurnResponse{Text: out.String()}, nil
}

func decodeDelta(raw string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", err
	}
	return extractText(obj), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"data", "text", "delta", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
