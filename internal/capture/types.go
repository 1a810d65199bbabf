package capture

import "context"

type EventType string

const (
	EventPartial   EventType = "partial"
	EventCommitted EventType = "committed"
	EventError     EventType = "error"
)

// Event is one transcription update from the provider.
type Event struct {
	Type      EventType
	Text      string
	Code      string
	Detail    string
	Retryable bool
	Timestamp int64
}

// Session is one live transcription stream for a chat.
type Session interface {
	SendAudioChunk(ctx context.Context, audioBase64 string, sampleRate int, commit bool) error
	Close() error
}

// Provider starts transcription sessions. The event channel closes when
// the session ends.
type Provider interface {
	StartSession(ctx context.Context, chatID string) (Session, <-chan Event, error)
}
