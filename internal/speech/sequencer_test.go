package speech

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type startRec struct {
	turnID string
	index  int
}

type fakePlayer struct {
	mu      sync.Mutex
	started chan startRec
	stops   []startRec
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{started: make(chan startRec, 64)}
}

func (p *fakePlayer) Start(h *AudioHandle) error {
	p.started <- startRec{turnID: h.TurnID, index: h.Index}
	return nil
}

func (p *fakePlayer) Stop(turnID string, index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops = append(p.stops, startRec{turnID: turnID, index: index})
}

func (p *fakePlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stops)
}

func (p *fakePlayer) stopped(turnID string, index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range p.stops {
		if rec.turnID == turnID && rec.index == index {
			return true
		}
	}
	return false
}

func startSequencer(t *testing.T, readAloud bool) (*Sequencer, *fakePlayer) {
	t.Helper()
	player := newFakePlayer()
	seq := NewSequencer(player, readAloud, nil, nil)
	go seq.Run()
	t.Cleanup(seq.Close)
	return seq, player
}

func mkHandle(turnID string, index int) *AudioHandle {
	return &AudioHandle{
		TurnID: turnID,
		Index:  index,
		Source: SourceSynthesized,
		Audio:  []byte{0x01, 0x02},
		Format: "audio/wav",
	}
}

func waitStart(t *testing.T, p *fakePlayer) startRec {
	t.Helper()
	select {
	case rec := <-p.started:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for playback start")
		return startRec{}
	}
}

func expectNoStart(t *testing.T, p *fakePlayer) {
	t.Helper()
	select {
	case rec := <-p.started:
		t.Fatalf("unexpected playback start: %+v", rec)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSequencerAnyResolutionOrderPlaysInSlotOrder(t *testing.T) {
	const slots = 5
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 10; trial++ {
		seq, player := startSequencer(t, true)
		turnID := fmt.Sprintf("turn-%d", trial)
		seq.StartTurn(turnID)
		seq.FinalizeTurn(turnID, slots)

		order := rng.Perm(slots)
		for _, i := range order {
			seq.OnResolved(turnID, i, mkHandle(turnID, i))
		}

		for want := 0; want < slots; want++ {
			rec := waitStart(t, player)
			if rec.index != want {
				t.Fatalf("trial %d (resolution order %v): start %d, want %d", trial, order, rec.index, want)
			}
			seq.OnPlaybackEnded(turnID, rec.index)
		}
		seq.Close()
	}
}

func TestSequencerLaterSlotWaitsForPredecessor(t *testing.T) {
	seq, player := startSequencer(t, true)
	seq.StartTurn("t1")

	seq.OnResolved("t1", 1, mkHandle("t1", 1))
	expectNoStart(t, player)

	seq.OnResolved("t1", 0, mkHandle("t1", 0))
	if rec := waitStart(t, player); rec.index != 0 {
		t.Fatalf("first start = %d, want 0", rec.index)
	}
	seq.OnPlaybackEnded("t1", 0)
	if rec := waitStart(t, player); rec.index != 1 {
		t.Fatalf("second start = %d, want 1", rec.index)
	}
}

func TestSequencerFailedSlotDoesNotStallSuccessor(t *testing.T) {
	seq, player := startSequencer(t, true)
	seq.StartTurn("t1")

	seq.OnResolved("t1", 0, mkHandle("t1", 0))
	rec := waitStart(t, player)
	seq.OnPlaybackEnded("t1", rec.index)

	seq.OnFailed("t1", 1, fmt.Errorf("backend busy"))
	seq.OnResolved("t1", 2, mkHandle("t1", 2))

	if rec := waitStart(t, player); rec.index != 2 {
		t.Fatalf("start after failed slot = %d, want 2", rec.index)
	}
}

func TestSequencerInterruptStopsAndRewinds(t *testing.T) {
	seq, player := startSequencer(t, true)
	seq.StartTurn("t1")
	seq.OnResolved("t1", 0, mkHandle("t1", 0))
	seq.OnResolved("t1", 1, mkHandle("t1", 1))
	waitStart(t, player)

	seq.InterruptAll("stop_speaking")
	snap := seq.SnapshotTurn("t1")
	if snap.Slots[0] != SlotReady {
		t.Fatalf("slot 0 state = %q, want %q", snap.Slots[0], SlotReady)
	}
	if !snap.Suppressed {
		t.Fatalf("turn not suppressed after interrupt")
	}
	if player.stopCount() != 1 {
		t.Fatalf("player stops = %d, want 1", player.stopCount())
	}

	// Late resolutions for a suppressed turn stay silent.
	seq.OnResolved("t1", 2, mkHandle("t1", 2))
	expectNoStart(t, player)

	// Repeat interrupt is a no-op.
	seq.InterruptAll("stop_speaking")
	if player.stopCount() != 1 {
		t.Fatalf("player stops after repeat = %d, want 1", player.stopCount())
	}
}

func TestSequencerNewTurnAfterInterruptPlaysOnlyNewTurn(t *testing.T) {
	seq, player := startSequencer(t, true)
	seq.StartTurn("old")
	seq.OnResolved("old", 0, mkHandle("old", 0))
	waitStart(t, player)

	seq.InterruptAll("new_turn")
	seq.StartTurn("new")
	seq.OnResolved("old", 1, mkHandle("old", 1))
	seq.OnResolved("new", 0, mkHandle("new", 0))

	rec := waitStart(t, player)
	if rec.turnID != "new" || rec.index != 0 {
		t.Fatalf("start = %+v, want new turn slot 0", rec)
	}
	expectNoStart(t, player)
}

func TestSequencerSpeakTurnTogglesStopAndReplay(t *testing.T) {
	seq, player := startSequencer(t, true)
	seq.StartTurn("t1")
	seq.FinalizeTurn("t1", 2)
	seq.OnResolved("t1", 0, mkHandle("t1", 0))
	seq.OnResolved("t1", 1, mkHandle("t1", 1))

	rec := waitStart(t, player)
	seq.OnPlaybackEnded("t1", rec.index)
	waitStart(t, player)

	// Toggle while slot 1 plays: stop and rewind that slot.
	seq.SpeakTurn("t1")
	snap := seq.SnapshotTurn("t1")
	if snap.Slots[1] != SlotReady {
		t.Fatalf("slot 1 state = %q, want %q", snap.Slots[1], SlotReady)
	}
	if player.stopCount() != 1 {
		t.Fatalf("player stops = %d, want 1", player.stopCount())
	}
	expectNoStart(t, player)

	// Toggle again: replay from slot zero.
	seq.SpeakTurn("t1")
	if rec := waitStart(t, player); rec.index != 0 {
		t.Fatalf("replay start = %d, want 0", rec.index)
	}
}

func TestSequencerSpeakTurnSilencesOtherTurns(t *testing.T) {
	seq, player := startSequencer(t, true)

	seq.StartTurn("earlier")
	seq.FinalizeTurn("earlier", 1)
	seq.OnResolved("earlier", 0, mkHandle("earlier", 0))
	rec := waitStart(t, player)
	seq.OnPlaybackEnded("earlier", rec.index)

	seq.StartTurn("current")
	seq.OnResolved("current", 0, mkHandle("current", 0))
	if rec := waitStart(t, player); rec.turnID != "current" {
		t.Fatalf("start = %+v, want current turn", rec)
	}

	// Replaying the earlier turn must take the output away from the turn
	// that is still playing.
	seq.SpeakTurn("earlier")
	seq.SnapshotTurn("earlier")
	if !player.stopped("current", 0) {
		t.Fatalf("current turn slot 0 not stopped before replay")
	}
	rec = waitStart(t, player)
	if rec.turnID != "earlier" || rec.index != 0 {
		t.Fatalf("replay start = %+v, want earlier turn slot 0", rec)
	}
	expectNoStart(t, player)
}

func TestSequencerReadAloudDisabledNeedsManualSpeak(t *testing.T) {
	seq, player := startSequencer(t, false)
	seq.StartTurn("t1")
	seq.OnResolved("t1", 0, mkHandle("t1", 0))
	seq.OnResolved("t1", 1, mkHandle("t1", 1))
	expectNoStart(t, player)

	seq.SpeakTurn("t1")
	rec := waitStart(t, player)
	if rec.index != 0 {
		t.Fatalf("manual start = %d, want 0", rec.index)
	}
	seq.OnPlaybackEnded("t1", 0)
	if rec := waitStart(t, player); rec.index != 1 {
		t.Fatalf("chained start = %d, want 1", rec.index)
	}
}

func TestSequencerClearAllDiscardsLateResolutions(t *testing.T) {
	seq, player := startSequencer(t, true)
	seq.StartTurn("t1")
	seq.OnResolved("t1", 0, mkHandle("t1", 0))
	waitStart(t, player)

	seq.ClearAll()
	if snap := seq.SnapshotTurn("t1"); snap.Known {
		t.Fatalf("turn still known after clear")
	}
	seq.OnResolved("t1", 1, mkHandle("t1", 1))
	expectNoStart(t, player)
	if snap := seq.SnapshotTurn("t1"); snap.Known {
		t.Fatalf("purged turn repopulated by late resolution")
	}
}

func TestSequencerSilentSlotEndsImmediately(t *testing.T) {
	seq, player := startSequencer(t, true)
	seq.StartTurn("t1")
	seq.OnResolved("t1", 0, &AudioHandle{TurnID: "t1", Index: 0, Source: SourceSynthesized})
	seq.OnResolved("t1", 1, mkHandle("t1", 1))

	rec := waitStart(t, player)
	if rec.index != 1 {
		t.Fatalf("start = %d, want 1 after silent slot 0", rec.index)
	}
	snap := seq.SnapshotTurn("t1")
	if snap.Slots[0] != SlotEnded {
		t.Fatalf("silent slot state = %q, want %q", snap.Slots[0], SlotEnded)
	}
}

func TestSequencerDrainCallbackFiresOnce(t *testing.T) {
	player := newFakePlayer()
	seq := NewSequencer(player, true, nil, nil)
	drained := make(chan string, 4)
	seq.OnTurnDrained = func(turnID string) { drained <- turnID }
	go seq.Run()
	defer seq.Close()

	seq.StartTurn("t1")
	seq.FinalizeTurn("t1", 2)
	seq.OnResolved("t1", 0, mkHandle("t1", 0))
	seq.OnResolved("t1", 1, mkHandle("t1", 1))

	for i := 0; i < 2; i++ {
		rec := waitStart(t, player)
		seq.OnPlaybackEnded("t1", rec.index)
	}

	select {
	case turnID := <-drained:
		if turnID != "t1" {
			t.Fatalf("drained turn = %q, want t1", turnID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for drain callback")
	}
	select {
	case <-drained:
		t.Fatalf("drain callback fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}
