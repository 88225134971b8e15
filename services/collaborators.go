package services

import (
	"context"

	"focushive/presence-service/models"
)

// HiveMembershipAuthority answers whether a user is currently a member of a
// hive. The real implementation lives in the hive service; joining presence
// requires an affirmative answer.
type HiveMembershipAuthority interface {
	IsMember(ctx context.Context, hiveID, userID string) (bool, error)
}

// StaticMembershipAuthority is a local authority backed by a fixed membership
// table, used when the service runs without the hive backend (development,
// tests). With AllowAll set it admits everyone.
type StaticMembershipAuthority struct {
	AllowAll bool
	members  map[string]map[string]struct{}
}

// NewStaticMembershipAuthority builds an authority from hiveID → userIDs.
func NewStaticMembershipAuthority(memberships map[string][]string) *StaticMembershipAuthority {
	a := &StaticMembershipAuthority{members: make(map[string]map[string]struct{})}
	for hiveID, users := range memberships {
		set := make(map[string]struct{}, len(users))
		for _, u := range users {
			set[u] = struct{}{}
		}
		a.members[hiveID] = set
	}
	return a
}

func (a *StaticMembershipAuthority) IsMember(_ context.Context, hiveID, userID string) (bool, error) {
	if a.AllowAll {
		return true, nil
	}
	_, ok := a.members[hiveID][userID]
	return ok, nil
}

// SessionFinisher ends a user's running focus session when their presence is
// torn down without a clean completion. Implemented by FocusSessionTracker;
// the indirection breaks the construction cycle between the presence service
// and the tracker.
type SessionFinisher interface {
	ExpireActive(ctx context.Context, userID string) error
}

// ScoringPolicy computes a productivity score when a session completes.
// Scoring belongs to the analytics domain; this interface keeps it pluggable.
type ScoringPolicy interface {
	Score(session *models.FocusSession, inputs models.ProductivityInputs) int
}

// ElapsedRatioScoringPolicy scores by how much of the planned duration was
// actually worked, adjusted by the caller's focus rating and distraction
// count. Result is clamped to [0, 100].
type ElapsedRatioScoringPolicy struct{}

func (ElapsedRatioScoringPolicy) Score(session *models.FocusSession, inputs models.ProductivityInputs) int {
	if session.PlannedDurationMinutes <= 0 {
		return 0
	}
	ratio := float64(session.ActualDurationMinutes) / float64(session.PlannedDurationMinutes)
	if ratio > 1 {
		ratio = 1
	}
	score := int(ratio * 70)
	if inputs.FocusRating > 0 {
		score += inputs.FocusRating * 3
	}
	score -= inputs.DistractionCount * 2
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
