package models

import "time"

// EventType classifies a broadcast delta.
type EventType string

const (
	EventJoin         EventType = "JOIN"
	EventLeave        EventType = "LEAVE"
	EventUpdate       EventType = "UPDATE"
	EventSessionStart EventType = "SESSION_START"
	EventSessionEnd   EventType = "SESSION_END"
)

// PresenceEvent is the ephemeral envelope published on hive topics. It is
// never persisted; it exists only long enough to be fanned out.
type PresenceEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceBroadcast is the payload for JOIN/LEAVE/UPDATE events on
// hive/{id}/presence.
type PresenceBroadcast struct {
	HiveID          string         `json:"hive_id"`
	UserID          string         `json:"user_id"`
	Status          PresenceStatus `json:"status,omitempty"`
	ActiveUserCount int            `json:"active_user_count"`
	Users           []UserPresence `json:"users,omitempty"`
}

// SessionBroadcast is the payload for SESSION_START/SESSION_END events on
// hive/{id}/sessions.
type SessionBroadcast struct {
	Session *FocusSession `json:"session"`
}

// PresenceTopic returns the presence channel for a hive.
func PresenceTopic(hiveID string) string {
	return "hive/" + hiveID + "/presence"
}

// SessionTopic returns the focus-session channel for a hive.
func SessionTopic(hiveID string) string {
	return "hive/" + hiveID + "/sessions"
}
