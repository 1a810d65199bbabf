package capture

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWSTranscriberSessionRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("model"); got != "general" {
			t.Errorf("model query = %q, want general", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var chunk map[string]any
		if err := conn.ReadJSON(&chunk); err != nil {
			t.Errorf("read chunk: %v", err)
			return
		}
		if chunk["type"] != "audio_chunk" || chunk["audio_base64"] != "cGNt" {
			t.Errorf("chunk = %v", chunk)
		}

		_ = conn.WriteJSON(map[string]any{"type": "session_started"})
		_ = conn.WriteJSON(map[string]any{"type": "partial", "text": "hel"})
		_ = conn.WriteJSON(map[string]any{"type": "committed", "text": "hello there"})
		_ = conn.WriteJSON(map[string]any{"type": "rate_limited", "error": "slow down"})
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	p := NewWSTranscriber(WSTranscriberConfig{WSURL: wsURL})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, events, err := p.StartSession(ctx, "chat-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	defer session.Close()

	if err := session.SendAudioChunk(ctx, "cGNt", 16000, false); err != nil {
		t.Fatalf("SendAudioChunk() error = %v", err)
	}

	want := []Event{
		{Type: EventPartial, Text: "hel"},
		{Type: EventCommitted, Text: "hello there"},
		{Type: EventError, Code: "rate_limited", Detail: "slow down", Retryable: true},
	}
	for _, w := range want {
		select {
		case got, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed early, want %+v", w)
			}
			if got.Type != w.Type || got.Text != w.Text || got.Code != w.Code || got.Retryable != w.Retryable {
				t.Fatalf("event = %+v, want %+v", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %+v", w)
		}
	}
}

func TestWSSessionCloseDuringEventBurst(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Flood more partials than the event buffer holds while the
		// client is not draining, then let the client close mid-stream.
		for i := 0; i < 400; i++ {
			if err := conn.WriteJSON(map[string]any{"type": "partial", "text": "..."}); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	p := NewWSTranscriber(WSTranscriberConfig{WSURL: wsURL})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, events, err := p.StartSession(ctx, "chat-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	// The channel must still drain to a clean close with no panic from a
	// send racing the teardown.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("event channel never closed after session Close")
		}
	}
}

func TestMockProviderCommitsOnFlag(t *testing.T) {
	p := NewMockProvider()
	session, events, err := p.StartSession(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	defer session.Close()

	if err := session.SendAudioChunk(context.Background(), "cGNt", 16000, true); err != nil {
		t.Fatalf("SendAudioChunk() error = %v", err)
	}

	var committed bool
	for i := 0; i < 2; i++ {
		select {
		case evt := <-events:
			if evt.Type == EventCommitted && evt.Text != "" {
				committed = true
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for mock events")
		}
	}
	if !committed {
		t.Fatalf("committed transcript never arrived")
	}
}

func TestNewProviderModes(t *testing.T) {
	if _, err := NewProvider(Config{Mode: "mock"}); err != nil {
		t.Fatalf("NewProvider(mock) error = %v", err)
	}
	if _, err := NewProvider(Config{Mode: "ws"}); err == nil {
		t.Fatalf("NewProvider(ws) expected error without url")
	}
	p, err := NewProvider(Config{})
	if err != nil {
		t.Fatalf("NewProvider(auto) error = %v", err)
	}
	if _, ok := p.(*MockProvider); !ok {
		t.Fatalf("NewProvider(auto) without url = %T, want *MockProvider", p)
	}
}
