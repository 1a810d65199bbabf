package capture

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockProvider simulates transcription locally when no backend is
// configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartSession(_ context.Context, _ string) (Session, <-chan Event, error) {
	events := make(chan Event, 64)
	return &mockSession{events: events}, events, nil
}

type mockSession struct {
	mu        sync.Mutex
	events    chan Event
	chunks    int
	closed    bool
	lastInput string
}

func (s *mockSession) SendAudioChunk(_ context.Context, audioBase64 string, _ int, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.chunks++
	if audioBase64 != "" {
		s.lastInput = audioBase64
		s.events <- Event{Type: EventPartial, Text: "...", Timestamp: time.Now().UnixMilli()}
	}
	if commit || s.chunks%8 == 0 {
		text := "simulated voice input"
		if strings.TrimSpace(s.lastInput) == "" {
			text = ""
		}
		s.events <- Event{Type: EventCommitted, Text: text, Timestamp: time.Now().UnixMilli()}
	}
	return nil
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
