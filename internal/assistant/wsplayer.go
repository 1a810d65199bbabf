package assistant

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/mstanisz/clara/internal/observability"
	"github.com/mstanisz/clara/internal/protocol"
	"github.com/mstanisz/clara/internal/speech"
)

type slotKey struct {
	turnID string
	index  int
}

// wsPlayer realizes playback over the websocket: starting a slot ships
// the audio segment plus a playback_started marker, and the client acks
// with a playback_ended control. A watchdog timer ends the slot anyway if
// the ack never arrives, so a silent client cannot wedge the sequencer.
type wsPlayer struct {
	chatID     string
	send       func(msg any)
	ackTimeout time.Duration
	metrics    *observability.Metrics

	// set right after the sequencer is constructed, before Run
	sequencer *speech.Sequencer

	mu     sync.Mutex
	timers map[slotKey]*time.Timer
}

func newWSPlayer(chatID string, send func(msg any), ackTimeout time.Duration, metrics *observability.Metrics) *wsPlayer {
	if ackTimeout <= 0 {
		ackTimeout = 30 * time.Second
	}
	return &wsPlayer{
		chatID:     chatID,
		send:       send,
		ackTimeout: ackTimeout,
		metrics:    metrics,
		timers:     make(map[slotKey]*time.Timer),
	}
}

func (p *wsPlayer) Start(h *speech.AudioHandle) error {
	p.send(protocol.AssistantAudioSegment{
		Type:         protocol.TypeAssistantAudio,
		ChatID:       p.chatID,
		TurnID:       h.TurnID,
		SegmentIndex: h.Index,
		Rule:         string(h.Rule),
		Format:       h.Format,
		AudioBase64:  base64.StdEncoding.EncodeToString(h.Audio),
	})
	p.send(protocol.PlaybackStarted{
		Type:         protocol.TypePlaybackStarted,
		ChatID:       p.chatID,
		TurnID:       h.TurnID,
		SegmentIndex: h.Index,
	})

	key := slotKey{turnID: h.TurnID, index: h.Index}
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.timers[key]; ok {
		old.Stop()
	}
	p.timers[key] = time.AfterFunc(p.ackTimeout, func() {
		p.mu.Lock()
		delete(p.timers, key)
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.ObserveTurnIndicator("playback_ack_timeout")
		}
		p.sequencer.OnPlaybackEnded(key.turnID, key.index)
	})
	return nil
}

// Ack handles a playback_ended control from the client. Acks for slots
// that already timed out or were stopped are dropped.
func (p *wsPlayer) Ack(turnID string, index int) {
	key := slotKey{turnID: turnID, index: index}
	p.mu.Lock()
	timer, ok := p.timers[key]
	if ok {
		timer.Stop()
		delete(p.timers, key)
	}
	p.mu.Unlock()
	if ok {
		p.sequencer.OnPlaybackEnded(turnID, index)
	}
}

func (p *wsPlayer) Stop(turnID string, index int) {
	key := slotKey{turnID: turnID, index: index}
	p.mu.Lock()
	if timer, ok := p.timers[key]; ok {
		timer.Stop()
		delete(p.timers, key)
	}
	p.mu.Unlock()

	p.send(protocol.SystemEvent{
		Type:   protocol.TypeSystemEvent,
		ChatID: p.chatID,
		Code:   "stop_playback",
		Detail: fmt.Sprintf("turn=%s segment=%d", turnID, index),
	})
}

func (p *wsPlayer) CloseTimers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, timer := range p.timers {
		timer.Stop()
		delete(p.timers, key)
	}
}
