package models

import "time"

// SessionStatus is a focus session's lifecycle state. COMPLETED, CANCELLED
// and EXPIRED are terminal and never mutate again.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
	SessionExpired   SessionStatus = "EXPIRED"
)

// Terminal reports whether s is a final state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionExpired:
		return true
	}
	return false
}

// FocusSession is a timed, pausable work interval tied to a user and
// optionally a hive. It references its user by id only; the presence record
// likewise points back at the session by id, resolved through the store.
type FocusSession struct {
	SessionID              string        `json:"session_id"`
	UserID                 string        `json:"user_id"`
	HiveID                 string        `json:"hive_id,omitempty"`
	PlannedDurationMinutes int           `json:"planned_duration_minutes"`
	StartTime              time.Time     `json:"start_time"`
	PausedAt               time.Time     `json:"paused_at,omitempty"`
	ResumedAt              time.Time     `json:"resumed_at,omitempty"`
	TotalPausedDuration    time.Duration `json:"total_paused_duration"`
	ActualDurationMinutes  int           `json:"actual_duration_minutes,omitempty"`
	ProductivityScore      int           `json:"productivity_score,omitempty"`
	Status                 SessionStatus `json:"status"`
	// Deadline is the wall-clock instant past which an unfinished session is
	// expired by the sweeper: start + planned duration + grace.
	Deadline time.Time `json:"deadline"`
}

// Elapsed returns the worked time at now, excluding accumulated pauses. For a
// session currently paused the pause in progress is excluded as well.
func (s *FocusSession) Elapsed(now time.Time) time.Duration {
	elapsed := now.Sub(s.StartTime) - s.TotalPausedDuration
	if s.Status == SessionPaused && !s.PausedAt.IsZero() {
		elapsed -= now.Sub(s.PausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// ProductivityInputs are the caller-supplied signals handed to the scoring
// policy when a session completes.
type ProductivityInputs struct {
	DistractionCount int `json:"distraction_count"`
	FocusRating      int `json:"focus_rating"` // 1..10, 0 means unrated
}
