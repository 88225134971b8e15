package models

import "time"

// PresenceStatus is a user's current activity state. There is no OFFLINE
// value: an offline user simply has no presence record.
type PresenceStatus string

const (
	StatusOnline         PresenceStatus = "ONLINE"
	StatusAway           PresenceStatus = "AWAY"
	StatusBusy           PresenceStatus = "BUSY"
	StatusInFocusSession PresenceStatus = "IN_FOCUS_SESSION"
)

// ValidStatus reports whether s is one of the known presence statuses.
func ValidStatus(s PresenceStatus) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusInFocusSession:
		return true
	}
	return false
}

// UserPresence is the ephemeral record of an online user. It lives in the
// presence store under a heartbeat-bound TTL and is deleted (not flagged)
// when the user goes offline.
type UserPresence struct {
	UserID             string         `json:"user_id"`
	Status             PresenceStatus `json:"status"`
	CurrentHiveID      string         `json:"current_hive_id,omitempty"`
	Activity           string         `json:"activity,omitempty"`
	LastSeen           time.Time      `json:"last_seen"`
	ActiveSessionCount int            `json:"active_session_count"`
}

// PresenceUpdate is a partial update: nil fields leave the existing record
// untouched.
type PresenceUpdate struct {
	Status   *PresenceStatus `json:"status,omitempty"`
	HiveID   *string         `json:"hive_id,omitempty"`
	Activity *string         `json:"activity,omitempty"`
}

// HivePresenceInfo is the snapshot clients pull to resync after reconnecting,
// since broadcast delivery is best-effort.
type HivePresenceInfo struct {
	HiveID          string         `json:"hive_id"`
	ActiveUserCount int            `json:"active_user_count"`
	FocusingCount   int            `json:"focusing_count"`
	Users           []UserPresence `json:"users"`
	LastActivity    time.Time      `json:"last_activity"`
}
