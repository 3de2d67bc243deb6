package types

import (
	"time"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	StatusCreated    SessionStatus = "created"
	StatusRunning    SessionStatus = "running"
	StatusSleeping   SessionStatus = "sleeping"
	StatusTerminated SessionStatus = "terminated"
)

// Session is the authoritative record for one per-user environment.
// It is persisted as a Redis hash under session:{uuid}; all fields are
// stored as strings, timestamps in RFC 3339 UTC.
type Session struct {
	UUID         string        `json:"uuid"`
	UserID       string        `json:"user_id"`
	Status       SessionStatus `json:"status"`
	CreatedAt    string        `json:"created_at"`
	LastActivity string        `json:"last_activity"`
}

// Fields returns the session as a flat hash for storage.
func (s *Session) Fields() map[string]string {
	return map[string]string{
		"user_id":       s.UserID,
		"status":        string(s.Status),
		"created_at":    s.CreatedAt,
		"last_activity": s.LastActivity,
	}
}

// SessionFromFields rebuilds a session from its stored hash.
func SessionFromFields(uuid string, fields map[string]string) *Session {
	return &Session{
		UUID:         uuid,
		UserID:       fields["user_id"],
		Status:       SessionStatus(fields["status"]),
		CreatedAt:    fields["created_at"],
		LastActivity: fields["last_activity"],
	}
}

// EventType identifies an entry in a session's audit log
type EventType string

const (
	EventSessionCreated    EventType = "session_created"
	EventSessionWoken      EventType = "session_woken"
	EventSessionSleeping   EventType = "session_sleeping"
	EventChatReceived      EventType = "chat_received"
	EventScaledUp          EventType = "scaled_up"
	EventScaledDown        EventType = "scaled_down"
	EventSessionTerminated EventType = "session_terminated"
)

// Event is one audit record in events:{uuid}. The list keeps the 100
// most recent entries, newest first.
type Event struct {
	Timestamp string         `json:"timestamp"`
	Type      EventType      `json:"type"`
	Details   map[string]any `json:"details"`
}

// ChatRecord is one entry in chat:{uuid}. The list keeps the 1000 most
// recent messages, newest first.
type ChatRecord struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Content   string `json:"content"`
}

// ChatRecordTypeUserMessage is the only record type the control plane writes.
const ChatRecordTypeUserMessage = "user_message"

// NowUTC returns the current time formatted the way all session
// timestamps are stored.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
