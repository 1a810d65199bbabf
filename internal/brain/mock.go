package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter produces deterministic local replies when no backend is
// configured. Replies are streamed as multiple deltas so downstream
// segmentation still sees incremental text.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamTurn(ctx context.Context, req TurnRequest, onDelta DeltaHandler) (TurnResponse, error) {
	select {
	case <-ctx.Done():
		return TurnResponse{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		for _, chunk := range splitMockDeltas(text) {
			if err := onDelta(chunk); err != nil {
				return TurnResponse{}, err
			}
		}
	}
	return TurnResponse{Text: text}, nil
}

func buildMockReply(req TurnRequest) string {
	base := strings.TrimSpace(req.InputText)
	if base == "" {
		base = "I am listening."
	}

	if len(req.History) == 0 {
		return fmt.Sprintf("I heard you say: %s. Let me think about that for a moment.", base)
	}

	last := strings.TrimSpace(req.History[len(req.History)-1])
	if last == "" {
		return fmt.Sprintf("I heard you say: %s. Let me think about that for a moment.", base)
	}
	return fmt.Sprintf("I heard you say: %s. Earlier you mentioned: %s.", base, last)
}

// splitMockDeltas breaks a reply into word-sized fragments to mimic a
// streaming backend.
func splitMockDeltas(text string) []string {
	words := strings.Fields(text)
	deltas := make([]string, 0, len(words))
	for i, w := range words {
		if i == 0 {
			deltas = append(deltas, w)
			continue
		}
		deltas = append(deltas, " "+w)
	}
	return deltas
}
