package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"focushive/presence-service/errs"
	"focushive/presence-service/models"
	"focushive/presence-service/store"
)

// PresenceService owns UserPresence records and hive membership sets. All
// state lives in the store; this layer adds the liveness rules (heartbeat
// TTLs, connection counting, staleness) and publishes deltas.
//
// Reads degrade: when the backend is unavailable a read reports "unknown"
// (absent) instead of failing, so a storage blip never cascades into the
// real-time layer. Writes surface backend failures to the caller for retry.
type PresenceService struct {
	st           store.PresenceStore
	authority    HiveMembershipAuthority
	sessions     SessionFinisher
	logger       *log.Logger
	heartbeatTTL time.Duration
	now          func() time.Time

	// userMu serializes read-modify-write cycles per user so concurrent
	// joins or leaves for the same user never lose a connection count.
	userMu sync.Map // userID → *sync.Mutex
}

// NewPresenceService wires a presence service over the given store.
// heartbeatTTL is the staleness threshold; stored entries carry twice that so
// the sweeper always observes a record before the backend expires it.
func NewPresenceService(st store.PresenceStore, authority HiveMembershipAuthority, heartbeatTTL time.Duration, logger *log.Logger) *PresenceService {
	if heartbeatTTL <= 0 {
		heartbeatTTL = 60 * time.Second
	}
	return &PresenceService{
		st:           st,
		authority:    authority,
		logger:       logger,
		heartbeatTTL: heartbeatTTL,
		now:          time.Now,
	}
}

// SetClock replaces the service's time source. Tests only.
func (ps *PresenceService) SetClock(now func() time.Time) { ps.now = now }

// BindSessionFinisher attaches the focus session tracker after construction;
// the tracker itself is built on top of this service. When bound, forcing a
// user offline also ends their running session.
func (ps *PresenceService) BindSessionFinisher(f SessionFinisher) { ps.sessions = f }

// lockUser acquires the user's mutation lock and returns the release func.
func (ps *PresenceService) lockUser(userID string) func() {
	v, _ := ps.userMu.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// HeartbeatTTL exposes the staleness threshold to the sweeper.
func (ps *PresenceService) HeartbeatTTL() time.Duration { return ps.heartbeatTTL }

func (ps *PresenceService) entryTTL() time.Duration { return ps.heartbeatTTL * 2 }

// persist writes the presence record and its heartbeat in one store call:
// the two must never disagree about liveness.
func (ps *PresenceService) persist(ctx context.Context, p *models.UserPresence) error {
	return ps.st.SetPresenceAndHeartbeat(ctx, p, ps.entryTTL())
}

// publish hands an event to the broadcast pipeline. Failures are swallowed;
// a broadcast problem never fails the state mutation that triggered it.
func (ps *PresenceService) publish(ctx context.Context, topic string, typ models.EventType, payload any) {
	ev := models.PresenceEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		Timestamp: ps.now(),
	}
	if err := ps.st.Publish(ctx, topic, ev); err != nil {
		ps.logger.Printf("failed to publish %s event on %s: %v", typ, topic, err)
		return
	}
	eventsPublishedTotal.WithLabelValues(string(typ)).Inc()
}

// load returns the stored record, applying the staleness rule: a record
// with no live connections whose last heartbeat is older than the TTL is
// logically offline and treated as absent.
func (ps *PresenceService) load(ctx context.Context, userID string) (*models.UserPresence, bool, error) {
	p, ok, err := ps.st.GetPresence(ctx, userID)
	if err != nil || !ok {
		return nil, false, err
	}
	if p.ActiveSessionCount == 0 && ps.now().Sub(p.LastSeen) > ps.heartbeatTTL {
		return nil, false, nil
	}
	return p, true, nil
}

// UpdatePresence merges the non-nil fields of update onto the user's record,
// creating it on first contact, and extends the presence and heartbeat TTLs
// together. If the user currently occupies a hive an UPDATE event goes out on
// that hive's presence topic.
func (ps *PresenceService) UpdatePresence(ctx context.Context, userID string, update models.PresenceUpdate) (*models.UserPresence, error) {
	if userID == "" {
		return nil, errs.Validationf("user id is required")
	}
	if update.Status != nil && !models.ValidStatus(*update.Status) {
		return nil, errs.Validationf("unknown presence status %q", *update.Status)
	}

	defer ps.lockUser(userID)()

	p, ok, err := ps.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		p = &models.UserPresence{UserID: userID, Status: models.StatusOnline}
	}
	if update.Status != nil {
		p.Status = *update.Status
	}
	if update.HiveID != nil {
		p.CurrentHiveID = *update.HiveID
	}
	if update.Activity != nil {
		p.Activity = *update.Activity
	}
	p.LastSeen = ps.now()

	if err := ps.persist(ctx, p); err != nil {
		return nil, err
	}
	presenceUpdatesTotal.Inc()

	if p.CurrentHiveID != "" {
		ps.publish(ctx, models.PresenceTopic(p.CurrentHiveID), models.EventUpdate, models.PresenceBroadcast{
			HiveID: p.CurrentHiveID,
			UserID: userID,
			Status: p.Status,
		})
	}
	return p, nil
}

// RecordHeartbeat refreshes lastSeen and extends both TTLs without requiring
// a full presence payload. A heartbeat from an unknown user creates a minimal
// ONLINE record; a heartbeat from an AWAY user flips them back to ONLINE.
func (ps *PresenceService) RecordHeartbeat(ctx context.Context, userID string) error {
	if userID == "" {
		return errs.Validationf("user id is required")
	}

	defer ps.lockUser(userID)()

	p, ok, err := ps.load(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		p = &models.UserPresence{UserID: userID, Status: models.StatusOnline}
	}

	cameBack := p.Status == models.StatusAway
	if cameBack {
		p.Status = models.StatusOnline
	}
	p.LastSeen = ps.now()

	if err := ps.persist(ctx, p); err != nil {
		return err
	}
	heartbeatsTotal.Inc()

	if cameBack && p.CurrentHiveID != "" {
		ps.publish(ctx, models.PresenceTopic(p.CurrentHiveID), models.EventUpdate, models.PresenceBroadcast{
			HiveID: p.CurrentHiveID,
			UserID: userID,
			Status: p.Status,
		})
	}
	return nil
}

// JoinHive verifies hive membership, adds the user to the hive set and opens
// one more live connection for them. Every connection joins through here; the
// connection count is what keeps multi-device users present until the last
// connection closes.
func (ps *PresenceService) JoinHive(ctx context.Context, hiveID, userID string) (*models.HivePresenceInfo, error) {
	if hiveID == "" || userID == "" {
		return nil, errs.Validationf("hive id and user id are required")
	}

	member, err := ps.authority.IsMember(ctx, hiveID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, errs.Authorizationf("user %s is not a member of hive %s", userID, hiveID)
	}

	if err := ps.st.AddToHiveSet(ctx, hiveID, userID); err != nil {
		return nil, err
	}

	defer ps.lockUser(userID)()

	p, ok, err := ps.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		p = &models.UserPresence{UserID: userID, Status: models.StatusOnline}
	}
	p.ActiveSessionCount++
	p.CurrentHiveID = hiveID
	p.LastSeen = ps.now()
	if err := ps.persist(ctx, p); err != nil {
		return nil, err
	}
	hiveJoinsTotal.Inc()

	info, err := ps.hiveInfo(ctx, hiveID)
	if err != nil {
		return nil, err
	}
	ps.publish(ctx, models.PresenceTopic(hiveID), models.EventJoin, models.PresenceBroadcast{
		HiveID:          hiveID,
		UserID:          userID,
		Status:          p.Status,
		ActiveUserCount: info.ActiveUserCount,
		Users:           info.Users,
	})
	return info, nil
}

// LeaveHive closes one live connection. It is idempotent: leaving a hive the
// user is not in is a no-op. Only when the last connection closes is the user
// removed from the hive set and a LEAVE event published; a single closing
// tab must not mark a multi-device user offline.
func (ps *PresenceService) LeaveHive(ctx context.Context, hiveID, userID string) error {
	if hiveID == "" || userID == "" {
		return errs.Validationf("hive id and user id are required")
	}

	defer ps.lockUser(userID)()

	p, ok, err := ps.load(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		// Record already gone; converge the hive set anyway.
		return ps.st.RemoveFromHiveSet(ctx, hiveID, userID)
	}

	if p.ActiveSessionCount > 0 {
		p.ActiveSessionCount--
	}
	if p.ActiveSessionCount > 0 {
		p.LastSeen = ps.now()
		return ps.persist(ctx, p)
	}

	p.CurrentHiveID = ""
	p.LastSeen = ps.now()
	if err := ps.persist(ctx, p); err != nil {
		return err
	}
	if err := ps.st.RemoveFromHiveSet(ctx, hiveID, userID); err != nil {
		return err
	}
	hiveLeavesTotal.Inc()

	info, err := ps.hiveInfo(ctx, hiveID)
	if err != nil {
		return err
	}
	ps.publish(ctx, models.PresenceTopic(hiveID), models.EventLeave, models.PresenceBroadcast{
		HiveID:          hiveID,
		UserID:          userID,
		ActiveUserCount: info.ActiveUserCount,
		Users:           info.Users,
	})
	return nil
}

// MarkUserOffline force-closes every connection a user holds: the transport
// layer calls this when a socket drops without a clean leave. A running
// focus session does not survive it; the bound SessionFinisher expires the
// session immediately instead of leaving it for the sweeper.
func (ps *PresenceService) MarkUserOffline(ctx context.Context, userID string) error {
	unlock := ps.lockUser(userID)
	p, ok, err := ps.load(ctx, userID)
	if err != nil || !ok {
		unlock()
		return err
	}

	hiveID := p.CurrentHiveID
	err = ps.st.DeletePresence(ctx, userID)
	if err == nil {
		err = ps.st.DeleteHeartbeat(ctx, userID)
	}
	unlock()
	if err != nil {
		return err
	}

	if hiveID != "" {
		if err := ps.st.RemoveFromHiveSet(ctx, hiveID, userID); err != nil {
			return err
		}
		hiveLeavesTotal.Inc()

		info, err := ps.hiveInfo(ctx, hiveID)
		if err != nil {
			return err
		}
		ps.publish(ctx, models.PresenceTopic(hiveID), models.EventLeave, models.PresenceBroadcast{
			HiveID:          hiveID,
			UserID:          userID,
			ActiveUserCount: info.ActiveUserCount,
			Users:           info.Users,
		})
	}

	if ps.sessions != nil {
		if err := ps.sessions.ExpireActive(ctx, userID); err != nil {
			ps.logger.Printf("failed to end session for offline user %s: %v", userID, err)
		}
	}
	return nil
}

// GetPresence returns the user's presence, or nil when the user is offline.
// A backend that cannot answer also reads as nil; callers cannot distinguish.
func (ps *PresenceService) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	p, ok, err := ps.load(ctx, userID)
	if err != nil {
		if errs.IsBackendUnavailable(err) {
			ps.logger.Printf("presence read degraded for user %s: %v", userID, err)
			return nil, nil
		}
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return p, nil
}

// GetHiveUsers returns a snapshot of everyone currently present in the hive.
// Clients call this to resync after reconnecting instead of trusting the
// best-effort event stream.
func (ps *PresenceService) GetHiveUsers(ctx context.Context, hiveID string) ([]models.UserPresence, error) {
	users, err := ps.hiveUsers(ctx, hiveID)
	if err != nil {
		if errs.IsBackendUnavailable(err) {
			ps.logger.Printf("hive users read degraded for hive %s: %v", hiveID, err)
			return nil, nil
		}
		return nil, err
	}
	return users, nil
}

// GetHivesPresenceInfo builds snapshots for several hives at once.
func (ps *PresenceService) GetHivesPresenceInfo(ctx context.Context, hiveIDs []string) (map[string]*models.HivePresenceInfo, error) {
	result := make(map[string]*models.HivePresenceInfo, len(hiveIDs))
	for _, hiveID := range hiveIDs {
		info, err := ps.hiveInfo(ctx, hiveID)
		if err != nil {
			if errs.IsBackendUnavailable(err) {
				ps.logger.Printf("hive info read degraded for hive %s: %v", hiveID, err)
				continue
			}
			return nil, err
		}
		result[hiveID] = info
	}
	return result, nil
}

func (ps *PresenceService) hiveUsers(ctx context.Context, hiveID string) ([]models.UserPresence, error) {
	ids, err := ps.st.GetHiveSet(ctx, hiveID)
	if err != nil {
		return nil, err
	}
	users := make([]models.UserPresence, 0, len(ids))
	for _, id := range ids {
		p, ok, err := ps.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			users = append(users, *p)
		}
	}
	return users, nil
}

func (ps *PresenceService) hiveInfo(ctx context.Context, hiveID string) (*models.HivePresenceInfo, error) {
	users, err := ps.hiveUsers(ctx, hiveID)
	if err != nil {
		return nil, err
	}
	focusing := 0
	for _, u := range users {
		if u.Status == models.StatusInFocusSession {
			focusing++
		}
	}
	return &models.HivePresenceInfo{
		HiveID:          hiveID,
		ActiveUserCount: len(users),
		FocusingCount:   focusing,
		Users:           users,
		LastActivity:    ps.now(),
	}, nil
}
