package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTextTurn     MessageType = "client_text_turn"
	TypeClientAudioChunk   MessageType = "client_audio_chunk"
	TypeClientControl      MessageType = "client_control"
	TypeSTTPartial         MessageType = "stt_partial"
	TypeSTTCommitted       MessageType = "stt_committed"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantAudio     MessageType = "assistant_audio_segment"
	TypePlaybackStarted    MessageType = "playback_started"
	TypeAssistantTurnEnd   MessageType = "assistant_turn_end"
	TypeSystemEvent        MessageType = "system_event"
	TypeErrorEvent         MessageType = "error_event"
)

// Client control actions.
const (
	ActionStopSpeaking  = "stop_speaking"
	ActionSpeakTurn     = "speak_turn"
	ActionSetReadAloud  = "set_read_aloud"
	ActionPlaybackEnded = "playback_ended"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTextTurn submits a typed user turn.
type ClientTextTurn struct {
	Type   MessageType `json:"type"`
	ChatID string      `json:"chat_id"`
	Text   string      `json:"text"`
}

// ClientAudioChunk carries microphone audio for live transcription.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	ChatID      string      `json:"chat_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	Commit      bool        `json:"commit,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientControl carries playback and capture controls. For playback_ended
// acks, TurnID and SegmentIndex identify the finished slot; for
// set_read_aloud, Enabled carries the toggle state; for speak_turn, TurnID
// names the turn to replay.
type ClientControl struct {
	Type         MessageType `json:"type"`
	ChatID       string      `json:"chat_id"`
	Action       string      `json:"action"`
	TurnID       string      `json:"turn_id,omitempty"`
	SegmentIndex int         `json:"segment_index,omitempty"`
	Enabled      bool        `json:"enabled,omitempty"`
}

type STTPartial struct {
	Type       MessageType `json:"type"`
	ChatID     string      `json:"chat_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	TSMs       int64       `json:"ts_ms"`
}

type STTCommitted struct {
	Type   MessageType `json:"type"`
	ChatID string      `json:"chat_id"`
	Text   string      `json:"text"`
	TSMs   int64       `json:"ts_ms"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	ChatID    string      `json:"chat_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

// AssistantAudioSegment delivers one synthesized (or static) speech segment.
// SegmentIndex is the playback order key; Rule records which boundary rule
// produced the segment for diagnostics.
type AssistantAudioSegment struct {
	Type         MessageType `json:"type"`
	ChatID       string      `json:"chat_id"`
	TurnID       string      `json:"turn_id"`
	SegmentIndex int         `json:"segment_index"`
	Rule         string      `json:"rule"`
	Format       string      `json:"format"`
	AudioBase64  string      `json:"audio_base64"`
}

// PlaybackStarted tells the client which slot the sequencer just started, so
// the UI can highlight the spoken span and ack with playback_ended.
type PlaybackStarted struct {
	Type         MessageType `json:"type"`
	ChatID       string      `json:"chat_id"`
	TurnID       string      `json:"turn_id"`
	SegmentIndex int         `json:"segment_index"`
}

type AssistantTurnEnd struct {
	Type   MessageType `json:"type"`
	ChatID string      `json:"chat_id"`
	TurnID string      `json:"turn_id"`
	Reason string      `json:"reason"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	ChatID string      `json:"chat_id"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	ChatID    string      `json:"chat_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates an inbound client payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTextTurn:
		var msg ClientTextTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ChatID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_text_turn")
		}
		return msg, nil
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ChatID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ChatID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStopSpeaking, ActionSetReadAloud:
		case ActionSpeakTurn:
			if msg.TurnID == "" {
				return nil, errors.New("speak_turn requires turn_id")
			}
		case ActionPlaybackEnded:
			if msg.TurnID == "" || msg.SegmentIndex < 0 {
				return nil, errors.New("playback_ended requires turn_id and segment_index")
			}
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
