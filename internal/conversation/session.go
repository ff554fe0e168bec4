package conversation

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of a conversation. Immutable once appended.
type Message struct {
	Role       Role                   `json:"role"`
	Content    string                 `json:"content"`
	Timestamp  time.Time              `json:"timestamp"`
	Confidence float64                `json:"confidence,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// SessionState is the session's processing phase.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionListening
	SessionProcessing
	SessionResponding
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionListening:
		return "listening"
	case SessionProcessing:
		return "processing"
	case SessionResponding:
		return "responding"
	default:
		return "unknown"
	}
}

// Session is a bounded-lifetime conversational context tied to one
// satellite. Owned by the Manager; external readers only ever see copies.
type Session struct {
	ID           string       `json:"session_id"`
	SatelliteID  string       `json:"satellite_id"`
	StartedAt    time.Time    `json:"started_at"`
	LastActivity time.Time    `json:"last_activity"`
	Messages     []Message    `json:"messages"`
	State        SessionState `json:"-"`
}

// copy returns a deep snapshot safe to hand outside the manager's lock.
func (s *Session) copy() Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}
