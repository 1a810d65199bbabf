package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("chat not found")

// Chat is one conversation with its playback preferences. TurnSeq provides
// the per-chat turn numbering used as turn context for synthesis diagnostics.
type Chat struct {
	ID                string    `json:"chat_id"`
	UserID            string    `json:"user_id"`
	Status            Status    `json:"status"`
	Locale            string    `json:"locale"`
	VoiceID           string    `json:"voice_id"`
	ReadAloud         bool      `json:"read_aloud"`
	ActiveTurnID      string    `json:"active_turn_id"`
	TurnSeq           int       `json:"turn_seq"`
	InterruptionCount int       `json:"interruption_count"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	chats             map[string]*Chat
	inactivityTimeout time.Duration
	onExpire          func(*Chat)
	deleteWatchers    map[string]map[int]func(*Chat)
	watchSeq          int
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	return &Manager{
		chats:             make(map[string]*Chat),
		inactivityTimeout: inactivityTimeout,
		deleteWatchers:    make(map[string]map[int]func(*Chat)),
	}
}

// SetExpireHook registers a callback invoked for chats ended by the janitor.
func (m *Manager) SetExpireHook(hook func(*Chat)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, locale, voiceID string, readAloud bool) *Chat {
	now := time.Now().UTC()
	c := &Chat{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusActive,
		Locale:         locale,
		VoiceID:        voiceID,
		ReadAloud:      readAloud,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ID] = c
	return clone(c)
}

func (m *Manager) Get(chatID string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *Manager) Touch(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// StartTurn records the active turn and returns its per-chat sequence number.
func (m *Manager) StartTurn(chatID, turnID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return 0, ErrNotFound
	}
	c.ActiveTurnID = turnID
	c.TurnSeq++
	c.LastActivityAt = time.Now().UTC()
	return c.TurnSeq, nil
}

func (m *Manager) Interrupt(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	c.InterruptionCount++
	c.ActiveTurnID = ""
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) SetReadAloud(chatID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	c.ReadAloud = enabled
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(chatID string) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	c.Status = StatusEnded
	c.ActiveTurnID = ""
	c.LastActivityAt = time.Now().UTC()
	return clone(c), nil
}

// WatchDelete registers a callback fired when the chat is deleted. The
// returned func unregisters it. Connections use this to stop playback the
// moment a chat disappears out from under them.
func (m *Manager) WatchDelete(chatID string, fn func(*Chat)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	watchers, ok := m.deleteWatchers[chatID]
	if !ok {
		watchers = make(map[int]func(*Chat))
		m.deleteWatchers[chatID] = watchers
	}
	m.watchSeq++
	id := m.watchSeq
	watchers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		ws, ok := m.deleteWatchers[chatID]
		if !ok {
			return
		}
		delete(ws, id)
		if len(ws) == 0 {
			delete(m.deleteWatchers, chatID)
		}
	}
}

// Delete removes a chat entirely and notifies its delete watchers. The caller
// is still responsible for tearing down the chat's history.
func (m *Manager) Delete(chatID string) (*Chat, error) {
	m.mu.Lock()
	c, ok := m.chats[chatID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(m.chats, chatID)
	out := clone(c)
	var watchers []func(*Chat)
	for _, fn := range m.deleteWatchers[chatID] {
		watchers = append(watchers, fn)
	}
	delete(m.deleteWatchers, chatID)
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(clone(out))
	}
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.chats {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Chat

	m.mu.Lock()
	for _, c := range m.chats {
		if c.Status != StatusActive {
			continue
		}
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c.Status = StatusEnded
		c.ActiveTurnID = ""
		c.LastActivityAt = now
		expired = append(expired, clone(c))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Chat) *Chat {
	out := *c
	return &out
}
