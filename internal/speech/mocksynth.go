package speech

import (
	"context"
	"time"

	"github.com/mstanisz/clara/internal/audio"
)

// MockSynthesizer produces a short silent WAV clip for local runs and
// tests. Duration scales with text length so playback timing still feels
// roughly proportional.
type MockSynthesizer struct {
	sampleRate int
	delay      time.Duration
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{sampleRate: 16000, delay: 10 * time.Millisecond}
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	select {
	case <-ctx.Done():
		return SynthesisResult{}, ctx.Err()
	case <-time.After(m.delay):
	}

	samples := m.sampleRate / 10
	if n := len(req.Text); n > 0 {
		samples = m.sampleRate * n / 200
		if samples < m.sampleRate/20 {
			samples = m.sampleRate / 20
		}
	}
	pcm := make([]byte, samples*2)
	wav, err := audio.EncodeWAVPCM16LE(pcm, m.sampleRate)
	if err != nil {
		return SynthesisResult{}, err
	}
	return SynthesisResult{Audio: wav, Format: "audio/wav"}, nil
}
