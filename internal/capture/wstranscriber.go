package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mstanisz/clara/internal/reliability"
)

// WSTranscriberConfig points at a websocket speech-to-text backend.
type WSTranscriberConfig struct {
	WSURL  string
	APIKey string
	Model  string
}

// WSTranscriber streams microphone audio to the backend over one
// websocket per chat and reads transcript events back.
type WSTranscriber struct {
	cfg WSTranscriberConfig
}

func NewWSTranscriber(cfg WSTranscriberConfig) *WSTranscriber {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "general"
	}
	return &WSTranscriber{cfg: cfg}
}

func (p *WSTranscriber) StartSession(ctx context.Context, chatID string) (Session, <-chan Event, error) {
	u, err := url.Parse(p.cfg.WSURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse transcriber url: %w", err)
	}
	q := u.Query()
	q.Set("model", p.cfg.Model)
	q.Set("chat_id", chatID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if p.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial transcriber websocket: %w", err)
	}

	events := make(chan Event, 256)
	s := &wsSession{conn: conn, events: events}
	go s.readLoop()
	return s, events, nil
}

type wsSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Event
}

func (s *wsSession) SendAudioChunk(_ context.Context, audioBase64 string, sampleRate int, commit bool) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	payload := map[string]any{
		"type":         "audio_chunk",
		"audio_base64": audioBase64,
		"sample_rate":  sampleRate,
		"commit":       commit,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

// readLoop is the only goroutine that sends on or closes s.events, so a
// concurrent Close can never race a send against the channel close.
func (s *wsSession) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		msgType := asString(raw["type"])
		switch msgType {
		case "partial":
			// Partials are disposable; drop them instead of blocking when
			// the consumer is behind.
			select {
			case s.events <- Event{Type: EventPartial, Text: asString(raw["text"]), Timestamp: time.Now().UnixMilli()}:
			default:
			}
		case "committed":
			s.events <- Event{Type: EventCommitted, Text: asString(raw["text"]), Timestamp: time.Now().UnixMilli()}
		case "session_started", "", "audio_chunk":
			// control echoes, nothing to surface
		default:
			s.events <- Event{
				Type:      EventError,
				Code:      msgType,
				Detail:    asString(raw["error"]),
				Retryable: reliability.IsRetryableRealtimeMessageType(msgType),
				Timestamp: time.Now().UnixMilli(),
			}
		}
	}
}

// Close shuts the websocket down; the event channel closes when readLoop
// observes the dead connection and exits.
func (s *wsSession) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
	})
	return retErr
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
