package speech

import (
	"log"
	"time"

	"github.com/mstanisz/clara/internal/observability"
)

// SlotState tracks one segment slot through its playback lifecycle.
type SlotState string

const (
	SlotReady   SlotState = "ready"
	SlotPlaying SlotState = "playing"
	SlotEnded   SlotState = "ended"
	SlotFailed  SlotState = "failed"
)

type slot struct {
	state  SlotState
	handle *AudioHandle
}

type turnState struct {
	slots      map[int]*slot
	total      int // -1 until the final flush fixes the slot count
	suppressed bool
	forced     bool
	drained    bool
	firstAudio bool
	startedAt  time.Time
}

type seqMsgKind int

const (
	msgStartTurn seqMsgKind = iota
	msgResolved
	msgFailed
	msgPlaybackEnded
	msgFinalize
	msgInterrupt
	msgClear
	msgSetReadAloud
	msgSpeakTurn
	msgSnapshot
)

type seqMsg struct {
	kind    seqMsgKind
	turnID  string
	index   int
	handle  *AudioHandle
	err     error
	enabled bool
	cause   string
	total   int
	reply   chan TurnSnapshot
}

// TurnSnapshot is a point-in-time view of one turn's slots, answered on
// the sequencer's own goroutine so it is always internally consistent.
type TurnSnapshot struct {
	Known      bool
	Total      int
	Suppressed bool
	Drained    bool
	Slots      map[int]SlotState
}

// Sequencer enforces strict in-order playback per turn. Every external
// event becomes a message consumed by a single goroutine; the advance
// rule re-runs after each mutation, so no lock guards the slot maps.
type Sequencer struct {
	player  Player
	metrics *observability.Metrics
	logger  *log.Logger

	// OnTurnDrained, when set, fires once per turn after every issued
	// slot has ended or failed. Set before Run.
	OnTurnDrained func(turnID string)

	msgs chan seqMsg
	done chan struct{}

	turns    map[string]*turnState
	purged   map[string]struct{}
	autoPlay bool
}

func NewSequencer(player Player, readAloud bool, metrics *observability.Metrics, logger *log.Logger) *Sequencer {
	if player == nil {
		player = NopPlayer{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sequencer{
		player:   player,
		metrics:  metrics,
		logger:   logger,
		msgs:     make(chan seqMsg, 256),
		done:     make(chan struct{}),
		turns:    make(map[string]*turnState),
		purged:   make(map[string]struct{}),
		autoPlay: readAloud,
	}
}

// Run processes messages until Close. Call exactly once, usually as a
// dedicated goroutine per connection.
func (s *Sequencer) Run() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.msgs:
			s.handle(msg)
		}
	}
}

func (s *Sequencer) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// StartTurn registers a fresh turn awaiting its first slot.
func (s *Sequencer) StartTurn(turnID string) {
	s.enqueue(seqMsg{kind: msgStartTurn, turnID: turnID})
}

// OnResolved stores a resolved audio handle in its slot. Handles for
// purged turns are dropped.
func (s *Sequencer) OnResolved(turnID string, index int, handle *AudioHandle) {
	s.enqueue(seqMsg{kind: msgResolved, turnID: turnID, index: index, handle: handle})
}

// OnFailed marks a slot failed. A failed slot still satisfies the
// started precondition for its successor, so one bad segment never
// stalls the rest of the turn.
func (s *Sequencer) OnFailed(turnID string, index int, err error) {
	s.enqueue(seqMsg{kind: msgFailed, turnID: turnID, index: index, err: err})
}

// OnPlaybackEnded is called by the player when a slot finishes.
func (s *Sequencer) OnPlaybackEnded(turnID string, index int) {
	s.enqueue(seqMsg{kind: msgPlaybackEnded, turnID: turnID, index: index})
}

// FinalizeTurn fixes the turn's total slot count once the final flush
// segment has been submitted.
func (s *Sequencer) FinalizeTurn(turnID string, total int) {
	s.enqueue(seqMsg{kind: msgFinalize, turnID: turnID, total: total})
}

// InterruptAll stops and rewinds everything playing across all turns.
// Handles stay in place for later replay. Idempotent.
func (s *Sequencer) InterruptAll(cause string) {
	s.enqueue(seqMsg{kind: msgInterrupt, cause: cause})
}

// ClearAll releases every handle and forgets all turns. Late synthesis
// results for cleared turns are ignored from then on.
func (s *Sequencer) ClearAll() {
	s.enqueue(seqMsg{kind: msgClear})
}

// SetReadAloud flips automatic playback. Disabling does not stop audio
// already playing; pair with InterruptAll for that.
func (s *Sequencer) SetReadAloud(enabled bool) {
	s.enqueue(seqMsg{kind: msgSetReadAloud, enabled: enabled})
}

// SpeakTurn toggles manual playback for one turn: if the turn has a slot
// playing it stops and rewinds that slot; otherwise it restarts the turn
// from slot zero regardless of the read-aloud setting.
func (s *Sequencer) SpeakTurn(turnID string) {
	s.enqueue(seqMsg{kind: msgSpeakTurn, turnID: turnID})
}

// SnapshotTurn returns a consistent view of one turn's state.
func (s *Sequencer) SnapshotTurn(turnID string) TurnSnapshot {
	reply := make(chan TurnSnapshot, 1)
	s.enqueue(seqMsg{kind: msgSnapshot, turnID: turnID, reply: reply})
	select {
	case snap := <-reply:
		return snap
	case <-s.done:
		return TurnSnapshot{}
	}
}

func (s *Sequencer) enqueue(msg seqMsg) {
	select {
	case s.msgs <- msg:
	case <-s.done:
	}
}

func (s *Sequencer) handle(msg seqMsg) {
	switch msg.kind {
	case msgStartTurn:
		delete(s.purged, msg.turnID)
		s.turns[msg.turnID] = &turnState{
			slots:     make(map[int]*slot),
			total:     -1,
			startedAt: time.Now(),
		}

	case msgResolved:
		turn, ok := s.liveTurn(msg.turnID)
		if !ok {
			return
		}
		if _, exists := turn.slots[msg.index]; exists {
			return
		}
		turn.slots[msg.index] = &slot{state: SlotReady, handle: msg.handle}
		s.advance(msg.turnID, turn, "auto")

	case msgFailed:
		turn, ok := s.liveTurn(msg.turnID)
		if !ok {
			return
		}
		if _, exists := turn.slots[msg.index]; exists {
			return
		}
		turn.slots[msg.index] = &slot{state: SlotFailed}
		s.checkDrained(msg.turnID, turn)
		s.advance(msg.turnID, turn, "auto")

	case msgPlaybackEnded:
		turn, ok := s.liveTurn(msg.turnID)
		if !ok {
			return
		}
		sl, exists := turn.slots[msg.index]
		if !exists || sl.state != SlotPlaying {
			return
		}
		sl.state = SlotEnded
		s.checkDrained(msg.turnID, turn)
		s.advance(msg.turnID, turn, "auto")

	case msgFinalize:
		turn, ok := s.liveTurn(msg.turnID)
		if !ok {
			return
		}
		turn.total = msg.total
		s.checkDrained(msg.turnID, turn)
		s.advance(msg.turnID, turn, "auto")

	case msgInterrupt:
		s.interruptAll(msg.cause)

	case msgClear:
		s.interruptAll("clear")
		for turnID := range s.turns {
			s.purged[turnID] = struct{}{}
		}
		s.turns = make(map[string]*turnState)

	case msgSetReadAloud:
		s.autoPlay = msg.enabled
		if msg.enabled {
			for turnID, turn := range s.turns {
				s.advance(turnID, turn, "auto")
			}
		}

	case msgSpeakTurn:
		s.speakTurn(msg.turnID)

	case msgSnapshot:
		msg.reply <- s.snapshot(msg.turnID)
	}
}

func (s *Sequencer) liveTurn(turnID string) (*turnState, bool) {
	if _, purged := s.purged[turnID]; purged {
		return nil, false
	}
	turn, ok := s.turns[turnID]
	return turn, ok
}

// advance finds the smallest ready slot whose predecessor has at least
// started and begins playback, unless another slot of the same turn is
// already playing. Failed predecessors count as started.
func (s *Sequencer) advance(turnID string, turn *turnState, trigger string) {
	if !turn.forced && !(s.autoPlay && !turn.suppressed) {
		return
	}

	for {
		candidate := -1
		for index, sl := range turn.slots {
			if sl.state == SlotPlaying {
				return
			}
			if sl.state != SlotReady {
				continue
			}
			if index > 0 {
				prev, ok := turn.slots[index-1]
				if !ok || prev.state == SlotReady {
					continue
				}
			}
			if candidate == -1 || index < candidate {
				candidate = index
			}
		}
		if candidate == -1 {
			return
		}

		sl := turn.slots[candidate]
		if sl.handle == nil || len(sl.handle.Audio) == 0 {
			// Silent slot; end it immediately and look again.
			sl.state = SlotEnded
			s.checkDrained(turnID, turn)
			continue
		}

		sl.state = SlotPlaying
		if err := s.player.Start(sl.handle); err != nil {
			s.logger.Printf("speech: playback start failed for turn %s slot %d: %v", turnID, candidate, err)
			sl.state = SlotFailed
			s.checkDrained(turnID, turn)
			continue
		}
		if s.metrics != nil {
			s.metrics.PlaybackStarts.WithLabelValues(trigger).Inc()
			if !turn.firstAudio {
				s.metrics.ObserveFirstAudioLatency(time.Since(turn.startedAt))
			}
		}
		turn.firstAudio = true
		return
	}
}

func (s *Sequencer) interruptAll(cause string) {
	stopped := false
	for turnID, turn := range s.turns {
		for index, sl := range turn.slots {
			if sl.state == SlotPlaying {
				s.player.Stop(turnID, index)
				sl.state = SlotReady
				stopped = true
			}
		}
		turn.suppressed = true
		turn.forced = false
	}
	if s.metrics != nil && stopped {
		s.metrics.Interruptions.WithLabelValues(cause).Inc()
	}
}

func (s *Sequencer) speakTurn(turnID string) {
	turn, ok := s.liveTurn(turnID)
	if !ok {
		return
	}

	for index, sl := range turn.slots {
		if sl.state == SlotPlaying {
			// Toggle off: stop and rewind, never pause-resume.
			s.player.Stop(turnID, index)
			sl.state = SlotReady
			turn.forced = false
			turn.suppressed = true
			if s.metrics != nil {
				s.metrics.Interruptions.WithLabelValues("speak_toggle").Inc()
			}
			return
		}
	}

	// Only the replayed turn may hold the output. Silence everything else
	// before rewinding, or a manual replay overlaps a turn that is still
	// auto-playing.
	for otherID, other := range s.turns {
		if otherID == turnID {
			continue
		}
		for index, sl := range other.slots {
			if sl.state == SlotPlaying {
				s.player.Stop(otherID, index)
				sl.state = SlotReady
			}
		}
		other.suppressed = true
		other.forced = false
	}

	// Toggle on: replay from slot zero.
	for _, sl := range turn.slots {
		if sl.state == SlotEnded {
			sl.state = SlotReady
		}
	}
	turn.forced = true
	turn.suppressed = false
	turn.drained = false
	s.advance(turnID, turn, "manual")
}

func (s *Sequencer) checkDrained(turnID string, turn *turnState) {
	if turn.drained || turn.total < 0 {
		return
	}
	for i := 0; i < turn.total; i++ {
		sl, ok := turn.slots[i]
		if !ok || (sl.state != SlotEnded && sl.state != SlotFailed) {
			return
		}
	}
	turn.drained = true
	turn.forced = false
	if s.OnTurnDrained != nil {
		s.OnTurnDrained(turnID)
	}
}

func (s *Sequencer) snapshot(turnID string) TurnSnapshot {
	turn, ok := s.turns[turnID]
	if !ok {
		return TurnSnapshot{}
	}
	slots := make(map[int]SlotState, len(turn.slots))
	for index, sl := range turn.slots {
		slots[index] = sl.state
	}
	return TurnSnapshot{
		Known:      true,
		Total:      turn.total,
		Suppressed: turn.suppressed,
		Drained:    turn.drained,
		Slots:      slots,
	}
}
