package session

import "time"

// CreateRequest defines the payload for opening a new chat.
type CreateRequest struct {
	UserID  string `json:"user_id"`
	Locale  string `json:"locale"`
	VoiceID string `json:"voice_id"`
}

// CreateResponse returns created chat metadata.
type CreateResponse struct {
	ChatID          string    `json:"chat_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	Locale          string    `json:"locale"`
	VoiceID         string    `json:"voice_id"`
	ReadAloud       bool      `json:"read_aloud"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
