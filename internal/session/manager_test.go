package session

import (
	"context"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("u1", "en", "clara_default", true)
	if c.ID == "" {
		t.Fatalf("chat ID should not be empty")
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Locale != "en" || got.Status != StatusActive {
		t.Fatalf("unexpected chat state: %+v", got)
	}
	if !got.ReadAloud {
		t.Fatalf("ReadAloud = false, want true")
	}

	ended, err := m.End(c.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
}

func TestManagerStartTurnIncrementsSeq(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("u1", "en", "", true)

	seq, err := m.StartTurn(c.ID, "turn-1")
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if seq != 1 {
		t.Fatalf("first turn seq = %d, want 1", seq)
	}
	seq, err = m.StartTurn(c.ID, "turn-2")
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if seq != 2 {
		t.Fatalf("second turn seq = %d, want 2", seq)
	}
}

func TestManagerInterruptClearsTurn(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("u1", "en", "", true)
	if _, err := m.StartTurn(c.ID, "turn-1"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.Interrupt(c.ID); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ActiveTurnID != "" {
		t.Fatalf("ActiveTurnID = %q, want empty", got.ActiveTurnID)
	}
	if got.InterruptionCount != 1 {
		t.Fatalf("InterruptionCount = %d, want 1", got.InterruptionCount)
	}
}

func TestManagerDeleteRemovesChat(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("u1", "en", "", false)
	if _, err := m.Delete(c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(c.ID); err != ErrNotFound {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestManagerDeleteNotifiesWatchers(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("u1", "en", "", true)

	fired := make(chan *Chat, 1)
	m.WatchDelete(c.ID, func(chat *Chat) { fired <- chat })

	if _, err := m.Delete(c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	select {
	case chat := <-fired:
		if chat.ID != c.ID || chat.UserID != "u1" {
			t.Fatalf("watcher chat = %+v, want id %s", chat, c.ID)
		}
	default:
		t.Fatalf("delete watcher did not fire")
	}
}

func TestManagerUnwatchStopsDeleteNotification(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("u1", "en", "", true)

	fired := make(chan *Chat, 1)
	unwatch := m.WatchDelete(c.ID, func(chat *Chat) { fired <- chat })
	unwatch()

	if _, err := m.Delete(c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	select {
	case <-fired:
		t.Fatalf("watcher fired after unwatch")
	default:
	}
}

func TestManagerEndDoesNotNotifyDeleteWatchers(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("u1", "en", "", true)

	fired := make(chan *Chat, 1)
	m.WatchDelete(c.ID, func(chat *Chat) { fired <- chat })

	if _, err := m.End(c.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	select {
	case <-fired:
		t.Fatalf("watcher fired on End")
	default:
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	c := m.Create("u1", "en", "", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}
