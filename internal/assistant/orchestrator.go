package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mstanisz/clara/internal/brain"
	"github.com/mstanisz/clara/internal/capture"
	"github.com/mstanisz/clara/internal/history"
	"github.com/mstanisz/clara/internal/observability"
	"github.com/mstanisz/clara/internal/policy"
	"github.com/mstanisz/clara/internal/protocol"
	"github.com/mstanisz/clara/internal/reliability"
	"github.com/mstanisz/clara/internal/session"
	"github.com/mstanisz/clara/internal/speech"
)

const (
	historySaveTimeout  = 2 * time.Second
	historyFetchTimeout = 350 * time.Millisecond
	criticalSendTimeout = 600 * time.Millisecond
)

// Config carries the orchestrator's turn policy knobs.
type Config struct {
	SegmentMinChars    int
	HistoryLimit       int
	RetryMax           int
	RetryBase          time.Duration
	RetryCap           time.Duration
	PlaybackAckTimeout time.Duration
	FirstAudioSLO      time.Duration
}

// Orchestrator drives one assistant conversation per websocket
// connection: user turns in, streamed text and strictly ordered speech
// segments out.
type Orchestrator struct {
	sessions    *session.Manager
	adapter     brain.Adapter
	store       history.Store
	transcriber capture.Provider
	synth       speech.Synthesizer
	greetings   *speech.GreetingLibrary
	metrics     *observability.Metrics
	logger      *log.Logger
	cfg         Config
}

func NewOrchestrator(
	sessions *session.Manager,
	adapter brain.Adapter,
	store history.Store,
	transcriber capture.Provider,
	synth speech.Synthesizer,
	greetings *speech.GreetingLibrary,
	metrics *observability.Metrics,
	logger *log.Logger,
	cfg Config,
) *Orchestrator {
	if cfg.SegmentMinChars <= 0 {
		cfg.SegmentMinChars = 20
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 8
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 2 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		sessions:    sessions,
		adapter:     adapter,
		store:       store,
		transcriber: transcriber,
		synth:       synth,
		greetings:   greetings,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// RunConnection drives the chat lifecycle for one websocket connection.
// It returns when the inbound channel closes or the context is done.
func (o *Orchestrator) RunConnection(ctx context.Context, chat *session.Chat, inbound <-chan any, outbound chan<- any) error {
	send := func(msg any) { o.send(outbound, msg) }

	player := newWSPlayer(chat.ID, send, o.cfg.PlaybackAckTimeout, o.metrics)
	seq := speech.NewSequencer(player, chat.ReadAloud, o.metrics, o.logger)
	player.sequencer = seq
	seq.OnTurnDrained = func(turnID string) {
		send(protocol.SystemEvent{
			Type:   protocol.TypeSystemEvent,
			ChatID: chat.ID,
			Code:   "turn_audio_drained",
			Detail: turnID,
		})
	}
	go seq.Run()
	defer seq.Close()
	defer player.CloseTimers()

	// Deletion must silence the live connection right away, not at the
	// next turn attempt.
	unwatch := o.sessions.WatchDelete(chat.ID, func(*session.Chat) {
		seq.ClearAll()
		send(protocol.SystemEvent{
			Type:   protocol.TypeSystemEvent,
			ChatID: chat.ID,
			Code:   "chat_deleted",
		})
	})
	defer unwatch()

	dispatcher := speech.NewDispatcher(o.synth, o.greetings, seq, o.metrics, o.logger)

	var sttSession capture.Session
	var sttEvents <-chan capture.Event
	if o.transcriber != nil {
		var err error
		sttSession, sttEvents, err = o.transcriber.StartSession(ctx, chat.ID)
		if err != nil {
			// Degrade to text-only; the orchestrator core does not need a
			// microphone path to run a conversation.
			o.logger.Printf("assistant: transcriber unavailable for chat %s: %v", chat.ID, err)
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				ChatID:    chat.ID,
				Code:      "capture_connect_failed",
				Source:    "capture",
				Retryable: true,
				Detail:    err.Error(),
			})
		}
	}
	if sttSession != nil {
		defer sttSession.Close()
	}

	var (
		turnMu     sync.Mutex
		turnCancel context.CancelFunc
	)
	cancelActiveTurn := func() {
		turnMu.Lock()
		if turnCancel != nil {
			turnCancel()
			turnCancel = nil
		}
		turnMu.Unlock()
	}
	defer cancelActiveTurn()

	startTurn := func(userText string) error {
		text := strings.TrimSpace(userText)
		if text == "" {
			return nil
		}
		cancelActiveTurn()

		turnID := uuid.NewString()
		turnSeq, err := o.sessions.StartTurn(chat.ID, turnID)
		if err != nil {
			// The chat was deleted or expired under us. Release every
			// retained handle before the connection winds down.
			seq.ClearAll()
			send(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				ChatID: chat.ID,
				Code:   "chat_unavailable",
				Source: "session",
				Detail: err.Error(),
			})
			return err
		}

		// Barge-in before anything of the new turn is dispatched, so no
		// stale audio can play over the fresh response.
		seq.InterruptAll("new_turn")
		seq.StartTurn(turnID)
		if o.metrics != nil {
			o.metrics.ChatEvents.WithLabelValues("turn_started").Inc()
		}

		o.saveTurnBestEffort(chat, "user", text)

		turnMu.Lock()
		turnCtx, cancel := context.WithCancel(ctx)
		turnCancel = cancel
		turnMu.Unlock()

		go o.runAssistantTurn(turnCtx, ctx, chat, turnID, turnSeq, text, dispatcher, seq, send)
		return nil
	}

	o.playGreeting(ctx, chat, dispatcher, seq, send)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case m, ok := <-inbound:
			if !ok {
				return nil
			}
			_ = o.sessions.Touch(chat.ID)

			switch msg := m.(type) {
			case protocol.ClientTextTurn:
				if err := startTurn(msg.Text); err != nil {
					return err
				}

			case protocol.ClientAudioChunk:
				if sttSession == nil {
					send(protocol.ErrorEvent{
						Type:   protocol.TypeErrorEvent,
						ChatID: chat.ID,
						Code:   "capture_unavailable",
						Source: "capture",
						Detail: "no transcription session",
					})
					continue
				}
				if err := sttSession.SendAudioChunk(ctx, msg.PCM16Base64, msg.SampleRate, msg.Commit); err != nil {
					if o.metrics != nil {
						o.metrics.ProviderErrors.WithLabelValues("capture", "send_audio_failed").Inc()
					}
					send(protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						ChatID:    chat.ID,
						Code:      "capture_send_failed",
						Source:    "capture",
						Retryable: true,
						Detail:    err.Error(),
					})
				}

			case protocol.ClientControl:
				switch msg.Action {
				case protocol.ActionStopSpeaking:
					cancelActiveTurn()
					seq.InterruptAll("stop_speaking")
					_ = o.sessions.Interrupt(chat.ID)
					send(protocol.SystemEvent{
						Type:   protocol.TypeSystemEvent,
						ChatID: chat.ID,
						Code:   "speech_stopped",
					})

				case protocol.ActionSpeakTurn:
					seq.SpeakTurn(msg.TurnID)

				case protocol.ActionSetReadAloud:
					_ = o.sessions.SetReadAloud(chat.ID, msg.Enabled)
					seq.SetReadAloud(msg.Enabled)
					send(protocol.SystemEvent{
						Type:   protocol.TypeSystemEvent,
						ChatID: chat.ID,
						Code:   "read_aloud_set",
						Detail: fmt.Sprintf("enabled=%t", msg.Enabled),
					})

				case protocol.ActionPlaybackEnded:
					player.Ack(msg.TurnID, msg.SegmentIndex)
				}

			default:
				send(protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					ChatID: chat.ID,
					Code:   "unsupported_message",
					Source: "protocol",
					Detail: fmt.Sprintf("%T", m),
				})
			}

		case evt, ok := <-sttEvents:
			if !ok {
				sttEvents = nil
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					ChatID:    chat.ID,
					Code:      "capture_closed",
					Source:    "capture",
					Retryable: true,
					Detail:    "transcription session ended",
				})
				continue
			}
			switch evt.Type {
			case capture.EventPartial:
				send(protocol.STTPartial{
					Type:   protocol.TypeSTTPartial,
					ChatID: chat.ID,
					Text:   evt.Text,
					TSMs:   evt.Timestamp,
				})
			case capture.EventCommitted:
				send(protocol.STTCommitted{
					Type:   protocol.TypeSTTCommitted,
					ChatID: chat.ID,
					Text:   evt.Text,
					TSMs:   evt.Timestamp,
				})
				if err := startTurn(evt.Text); err != nil {
					return err
				}
			case capture.EventError:
				if o.metrics != nil {
					o.metrics.ProviderErrors.WithLabelValues("capture", evt.Code).Inc()
				}
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					ChatID:    chat.ID,
					Code:      evt.Code,
					Source:    "capture",
					Retryable: evt.Retryable,
					Detail:    evt.Detail,
				})
			}
		}
	}
}

// playGreeting opens the conversation with the canned locale greeting.
// The clip resolves from the static library when present, so the first
// audible response needs no synthesis round trip.
func (o *Orchestrator) playGreeting(ctx context.Context, chat *session.Chat, d *speech.Dispatcher, seq *speech.Sequencer, send func(any)) {
	if o.greetings == nil {
		return
	}
	turnID := uuid.NewString()
	if _, err := o.sessions.StartTurn(chat.ID, turnID); err != nil {
		return
	}
	text := o.greetings.GreetingText(chat.Locale)
	seq.StartTurn(turnID)

	send(protocol.AssistantTextDelta{
		Type:      protocol.TypeAssistantTextDelta,
		ChatID:    chat.ID,
		TurnID:    turnID,
		TextDelta: text,
	})
	d.Submit(ctx, turnID, chat.Locale, chat.VoiceID, text, speech.RuleStaticGreeting)
	seq.FinalizeTurn(turnID, d.FinishTurn(turnID))

	send(protocol.AssistantTurnEnd{
		Type:   protocol.TypeAssistantTurnEnd,
		ChatID: chat.ID,
		TurnID: turnID,
		Reason: "greeting",
	})
	o.saveTurnBestEffort(chat, "assistant", text)
}

func (o *Orchestrator) runAssistantTurn(
	turnCtx context.Context,
	synthCtx context.Context,
	chat *session.Chat,
	turnID string,
	turnSeq int,
	userText string,
	d *speech.Dispatcher,
	seq *speech.Sequencer,
	send func(any),
) {
	startedAt := time.Now()
	segmenter := speech.NewSegmenter(o.cfg.SegmentMinChars)

	var (
		firstDelta   bool
		firstSegment bool
		assembled    strings.Builder
	)

	submit := func(text string, rule speech.BoundaryRule) {
		if !firstSegment {
			firstSegment = true
			elapsed := time.Since(startedAt)
			if o.metrics != nil {
				o.metrics.ObserveTurnStage("commit_to_first_segment", elapsed)
			}
			if o.cfg.FirstAudioSLO > 0 && elapsed > o.cfg.FirstAudioSLO {
				if o.metrics != nil {
					o.metrics.ObserveTurnIndicator("first_audio_slo_miss")
				}
				o.logger.Printf("assistant: turn %s first segment after %s exceeds SLO %s", turnID, elapsed, o.cfg.FirstAudioSLO)
			}
		}
		// Synthesis rides the connection context, not the turn context:
		// an interrupt stops playback but lets in-flight synthesis land
		// for later replay.
		d.Submit(synthCtx, turnID, chat.Locale, chat.VoiceID, text, rule)
	}

	onDelta := func(delta string) error {
		if err := turnCtx.Err(); err != nil {
			return err
		}
		if delta == "" {
			return nil
		}
		if !firstDelta {
			firstDelta = true
			if o.metrics != nil {
				o.metrics.ObserveTurnStage("commit_to_first_text", time.Since(startedAt))
			}
		}
		assembled.WriteString(delta)
		send(protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			ChatID:    chat.ID,
			TurnID:    turnID,
			TextDelta: delta,
		})
		if text, rule, ok := segmenter.Feed(delta); ok {
			submit(text, rule)
		}
		return nil
	}

	req := brain.TurnRequest{
		UserID:    chat.UserID,
		ChatID:    chat.ID,
		TurnID:    fmt.Sprintf("%s#%d", turnID, turnSeq),
		InputText: userText,
		History:   o.recentHistoryLines(chat.ID),
		Locale:    chat.Locale,
	}

	resp, err := o.streamTurnWithRetry(turnCtx, req, onDelta)
	if err != nil {
		d.FinishTurn(turnID)
		if turnCtx.Err() != nil || errors.Is(err, context.Canceled) {
			send(protocol.AssistantTurnEnd{
				Type:   protocol.TypeAssistantTurnEnd,
				ChatID: chat.ID,
				TurnID: turnID,
				Reason: "interrupted",
			})
			return
		}
		kind := reliability.KindOf(err)
		if o.metrics != nil {
			o.metrics.ProviderErrors.WithLabelValues("brain", string(kind)).Inc()
		}
		o.logger.Printf("assistant: turn %s stream failed: %v", turnID, err)
		send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			ChatID:    chat.ID,
			Code:      "brain_stream_failed",
			Source:    "brain",
			Retryable: kind == reliability.KindRetriable,
			Detail:    err.Error(),
		})
		send(protocol.AssistantTurnEnd{
			Type:   protocol.TypeAssistantTurnEnd,
			ChatID: chat.ID,
			TurnID: turnID,
			Reason: "error",
		})
		return
	}

	if text, rule, ok := segmenter.Flush(); ok {
		submit(text, rule)
	}
	seq.FinalizeTurn(turnID, d.FinishTurn(turnID))

	finalText := strings.TrimSpace(resp.Text)
	if finalText == "" {
		finalText = strings.TrimSpace(assembled.String())
	}
	if finalText != "" {
		o.saveTurnBestEffort(chat, "assistant", finalText)
	}

	if o.metrics != nil {
		o.metrics.ObserveTurnStage("turn_total", time.Since(startedAt))
	}
	send(protocol.AssistantTurnEnd{
		Type:   protocol.TypeAssistantTurnEnd,
		ChatID: chat.ID,
		TurnID: turnID,
		Reason: "complete",
	})
}

// streamTurnWithRetry resurrects the stream on transient failures, but
// only while nothing has reached the client yet; a turn with visible
// deltas cannot be restarted without duplicating text.
func (o *Orchestrator) streamTurnWithRetry(ctx context.Context, req brain.TurnRequest, onDelta brain.DeltaHandler) (brain.TurnResponse, error) {
	var deltaSeen atomic.Bool
	wrapped := func(delta string) error {
		if strings.TrimSpace(delta) != "" {
			deltaSeen.Store(true)
		}
		return onDelta(delta)
	}

	var lastErr error
	for attempt := 0; attempt <= o.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, o.cfg.RetryBase, o.cfg.RetryCap)
			select {
			case <-ctx.Done():
				return brain.TurnResponse{}, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err := o.adapter.StreamTurn(ctx, req, wrapped)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return brain.TurnResponse{}, err
		}
		if deltaSeen.Load() || reliability.KindOf(err) != reliability.KindRetriable {
			return brain.TurnResponse{}, err
		}
		lastErr = err
	}
	return brain.TurnResponse{}, lastErr
}

func (o *Orchestrator) recentHistoryLines(chatID string) []string {
	if o.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyFetchTimeout)
	defer cancel()
	records, err := o.store.RecentTurns(ctx, chatID, o.cfg.HistoryLimit)
	if err != nil {
		return nil
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, r.Role+": "+r.Content)
	}
	return lines
}

func (o *Orchestrator) saveTurnBestEffort(chat *session.Chat, role, content string) {
	if o.store == nil {
		return
	}
	redacted, changed := policy.RedactPII(content)
	record := history.TurnRecord{
		ID:          uuid.NewString(),
		ChatID:      chat.ID,
		UserID:      chat.UserID,
		Role:        role,
		Content:     redacted,
		PIIRedacted: changed,
		CreatedAt:   time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
		defer cancel()
		if err := o.store.SaveTurn(ctx, record); err != nil {
			if o.metrics != nil {
				o.metrics.ChatEvents.WithLabelValues("history_save_failed").Inc()
			}
			o.logger.Printf("assistant: history save failed for chat %s: %v", chat.ID, err)
		}
	}()
}

// send delivers outbound messages without letting one slow client stall
// the orchestrator. Critical messages get a bounded wait; the rest are
// dropped when the write pump is backed up.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	if isCriticalOutbound(msg) {
		timer := time.NewTimer(criticalSendTimeout)
		defer timer.Stop()
		select {
		case outbound <- msg:
		case <-timer.C:
			if o.metrics != nil {
				o.metrics.WSWriteErrors.WithLabelValues("outbound_timeout").Inc()
			}
		}
		return
	}

	select {
	case outbound <- msg:
	default:
		if o.metrics != nil {
			o.metrics.WSWriteErrors.WithLabelValues("outbound_drop").Inc()
		}
	}
}

func isCriticalOutbound(msg any) bool {
	switch msg.(type) {
	case protocol.ErrorEvent, protocol.AssistantTurnEnd, protocol.AssistantAudioSegment, protocol.PlaybackStarted:
		return true
	default:
		return false
	}
}
