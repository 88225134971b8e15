package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"focushive/presence-service/errs"
	"focushive/presence-service/models"
	"focushive/presence-service/store"
)

// FocusSessionTracker owns the focus session lifecycle:
//
//	ACTIVE ⇄ PAUSED → COMPLETED | CANCELLED | EXPIRED
//
// At most one non-terminal session exists per user. Sessions and presence
// reference each other by id only, resolved through the store. A session
// that is neither completed nor cancelled ends as EXPIRED: at its deadline
// via the liveness sweeper, or immediately when its user is forced offline.
type FocusSessionTracker struct {
	st       store.PresenceStore
	presence *PresenceService
	scoring  ScoringPolicy
	logger   *log.Logger

	grace     time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewFocusSessionTracker builds a tracker. grace is added to the planned
// duration to form the expiry deadline; retention is how long terminal
// sessions stay readable.
func NewFocusSessionTracker(st store.PresenceStore, presence *PresenceService, scoring ScoringPolicy, grace, retention time.Duration, logger *log.Logger) *FocusSessionTracker {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &FocusSessionTracker{
		st:        st,
		presence:  presence,
		scoring:   scoring,
		logger:    logger,
		grace:     grace,
		retention: retention,
		now:       time.Now,
	}
}

// SetClock replaces the tracker's time source. Tests only.
func (t *FocusSessionTracker) SetClock(now func() time.Time) { t.now = now }

// entryTTL keeps the stored entry alive past the logical deadline so the
// sweeper can observe the session, mark it EXPIRED and revert the linked
// presence before the backend drops the key.
func (t *FocusSessionTracker) entryTTL(s *models.FocusSession) time.Duration {
	ttl := s.Deadline.Sub(t.now()) + t.retention
	if ttl < t.retention {
		ttl = t.retention
	}
	return ttl
}

// Start begins a session. It fails with a conflict if the user already has a
// non-terminal session; the existing session is unaffected.
func (t *FocusSessionTracker) Start(ctx context.Context, userID, hiveID string, durationMinutes int) (*models.FocusSession, error) {
	if userID == "" {
		return nil, errs.Validationf("user id is required")
	}
	if durationMinutes <= 0 {
		return nil, errs.Validationf("duration must be positive, got %d", durationMinutes)
	}

	if existing, err := t.activeSession(ctx, userID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errs.Conflictf("user %s already has an active session %s", userID, existing.SessionID)
	}

	now := t.now()
	planned := time.Duration(durationMinutes) * time.Minute
	session := &models.FocusSession{
		SessionID:              uuid.NewString(),
		UserID:                 userID,
		HiveID:                 hiveID,
		PlannedDurationMinutes: durationMinutes,
		StartTime:              now,
		Status:                 models.SessionActive,
		Deadline:               now.Add(planned + t.grace),
	}

	if err := t.st.SetSession(ctx, session, t.entryTTL(session)); err != nil {
		return nil, err
	}
	if err := t.st.MapUserToSession(ctx, userID, session.SessionID, t.entryTTL(session)); err != nil {
		return nil, err
	}

	status := models.StatusInFocusSession
	activity := "Focus Session"
	if _, err := t.presence.UpdatePresence(ctx, userID, models.PresenceUpdate{Status: &status, Activity: &activity}); err != nil {
		t.logger.Printf("failed to flip presence to focus for user %s: %v", userID, err)
	}
	sessionsStartedTotal.Inc()

	if hiveID != "" {
		t.presence.publish(ctx, models.SessionTopic(hiveID), models.EventSessionStart, models.SessionBroadcast{Session: session})
	}
	return session, nil
}

// Pause suspends an ACTIVE session. Paused time does not count toward
// elapsed.
func (t *FocusSessionTracker) Pause(ctx context.Context, userID, sessionID string) (*models.FocusSession, error) {
	session, err := t.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, errs.Conflictf("session %s is %s, only active sessions pause", sessionID, session.Status)
	}

	session.Status = models.SessionPaused
	session.PausedAt = t.now()
	if err := t.st.SetSession(ctx, session, t.entryTTL(session)); err != nil {
		return nil, err
	}
	return session, nil
}

// Resume reactivates a PAUSED session, folding the pause into
// TotalPausedDuration.
func (t *FocusSessionTracker) Resume(ctx context.Context, userID, sessionID string) (*models.FocusSession, error) {
	session, err := t.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionPaused {
		return nil, errs.Conflictf("session %s is %s, only paused sessions resume", sessionID, session.Status)
	}

	now := t.now()
	session.TotalPausedDuration += now.Sub(session.PausedAt)
	session.ResumedAt = now
	session.PausedAt = time.Time{}
	session.Status = models.SessionActive
	if err := t.st.SetSession(ctx, session, t.entryTTL(session)); err != nil {
		return nil, err
	}
	return session, nil
}

// Complete finishes a session. The actual duration is the elapsed time at
// the call, pauses excluded; the score comes from the configured policy. The
// linked presence reverts to ONLINE.
func (t *FocusSessionTracker) Complete(ctx context.Context, userID, sessionID string, inputs models.ProductivityInputs) (*models.FocusSession, error) {
	session, err := t.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, errs.Conflictf("session %s already ended as %s", sessionID, session.Status)
	}

	now := t.now()
	session.ActualDurationMinutes = int(session.Elapsed(now).Minutes())
	session.Status = models.SessionCompleted
	session.ProductivityScore = t.scoring.Score(session, inputs)

	if err := t.finalize(ctx, session); err != nil {
		return nil, err
	}
	sessionsEndedTotal.WithLabelValues("completed").Inc()
	return session, nil
}

// Cancel abandons a session without scoring it.
func (t *FocusSessionTracker) Cancel(ctx context.Context, userID, sessionID string) (*models.FocusSession, error) {
	session, err := t.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, errs.Conflictf("session %s already ended as %s", sessionID, session.Status)
	}

	session.ActualDurationMinutes = int(session.Elapsed(t.now()).Minutes())
	session.Status = models.SessionCancelled

	if err := t.finalize(ctx, session); err != nil {
		return nil, err
	}
	sessionsEndedTotal.WithLabelValues("cancelled").Inc()
	return session, nil
}

// Expire transitions an unfinished session to EXPIRED and reverts the linked
// presence. Worked time is credited up to the deadline at most, and never
// beyond the planned duration; grace time does not count.
func (t *FocusSessionTracker) Expire(ctx context.Context, session *models.FocusSession) error {
	if session.Status.Terminal() {
		return nil
	}
	cutoff := t.now()
	if cutoff.After(session.Deadline) {
		cutoff = session.Deadline
	}
	elapsed := session.Elapsed(cutoff)
	if planned := time.Duration(session.PlannedDurationMinutes) * time.Minute; elapsed > planned {
		elapsed = planned
	}
	session.ActualDurationMinutes = int(elapsed.Minutes())
	session.Status = models.SessionExpired

	if err := t.finalize(ctx, session); err != nil {
		return err
	}
	sessionsEndedTotal.WithLabelValues("expired").Inc()
	return nil
}

// ExpireActive ends the user's running session, if any, as EXPIRED. Called
// when the user's presence is torn down without a clean completion.
func (t *FocusSessionTracker) ExpireActive(ctx context.Context, userID string) error {
	session, err := t.activeSession(ctx, userID)
	if err != nil || session == nil {
		return err
	}
	return t.Expire(ctx, session)
}

// GetActiveSession returns the user's current non-terminal session.
func (t *FocusSessionTracker) GetActiveSession(ctx context.Context, userID string) (*models.FocusSession, error) {
	session, err := t.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errs.NotFoundf("user %s has no active session", userID)
	}
	return session, nil
}

// GetSession returns any session, terminal or not, while it is retained.
func (t *FocusSessionTracker) GetSession(ctx context.Context, sessionID string) (*models.FocusSession, error) {
	session, ok, err := t.st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFoundf("session %s not found", sessionID)
	}
	return session, nil
}

func (t *FocusSessionTracker) activeSession(ctx context.Context, userID string) (*models.FocusSession, error) {
	sessionID, ok, err := t.st.GetUserSessionID(ctx, userID)
	if err != nil || !ok {
		return nil, err
	}
	session, ok, err := t.st.GetSession(ctx, sessionID)
	if err != nil || !ok {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, nil
	}
	return session, nil
}

func (t *FocusSessionTracker) owned(ctx context.Context, userID, sessionID string) (*models.FocusSession, error) {
	session, ok, err := t.st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFoundf("session %s not found", sessionID)
	}
	if session.UserID != userID {
		return nil, errs.Authorizationf("session %s does not belong to user %s", sessionID, userID)
	}
	return session, nil
}

// finalize persists a terminal session for the retention window, clears the
// user→session mapping, reverts the linked presence status and broadcasts
// the end of the session.
func (t *FocusSessionTracker) finalize(ctx context.Context, session *models.FocusSession) error {
	if err := t.st.SetSession(ctx, session, t.retention); err != nil {
		return err
	}
	if err := t.st.ClearUserSessionMapping(ctx, session.UserID); err != nil {
		return err
	}

	t.revertPresence(ctx, session.UserID)

	if session.HiveID != "" {
		t.presence.publish(ctx, models.SessionTopic(session.HiveID), models.EventSessionEnd, models.SessionBroadcast{Session: session})
	}
	return nil
}

// revertPresence flips a user out of IN_FOCUS_SESSION, if their record still
// exists and still says so. Best effort: the record may already be gone.
func (t *FocusSessionTracker) revertPresence(ctx context.Context, userID string) {
	p, ok, err := t.st.GetPresence(ctx, userID)
	if err != nil || !ok || p.Status != models.StatusInFocusSession {
		if err != nil {
			t.logger.Printf("could not read presence for user %s while ending session: %v", userID, err)
		}
		return
	}
	status := models.StatusOnline
	activity := ""
	if _, err := t.presence.UpdatePresence(ctx, userID, models.PresenceUpdate{Status: &status, Activity: &activity}); err != nil {
		t.logger.Printf("failed to revert presence for user %s: %v", userID, err)
	}
}
