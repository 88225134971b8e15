package services

import (
	"context"
	"log"
	"sync"
	"time"

	"focushive/presence-service/models"
	"focushive/presence-service/store"
)

// LivenessSweeper is the authoritative cleanup mechanism. On a fixed interval
// it walks every known presence record, evicts users whose heartbeats went
// stale, and expires focus sessions past their deadline. It also walks the
// user→session mappings, since a session can outlive its user's presence
// record. It tolerates backends that never expire keys on their own.
//
// The sweeper is safe to run concurrently with ordinary writes and with
// itself: staleness is re-validated immediately before eviction, and one
// record's failure never aborts the rest of the pass.
type LivenessSweeper struct {
	st       store.PresenceStore
	presence *PresenceService
	sessions *FocusSessionTracker
	logger   *log.Logger

	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewLivenessSweeper builds a sweeper. timeout is the heartbeat staleness
// threshold; it should equal the presence service's heartbeat TTL.
func NewLivenessSweeper(st store.PresenceStore, presence *PresenceService, sessions *FocusSessionTracker, interval, timeout time.Duration, logger *log.Logger) *LivenessSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = presence.HeartbeatTTL()
	}
	return &LivenessSweeper{
		st:       st,
		presence: presence,
		sessions: sessions,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetClock replaces the sweeper's time source. Tests only.
func (s *LivenessSweeper) SetClock(now func() time.Time) { s.now = now }

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *LivenessSweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *LivenessSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// RunOnce performs a single sweep pass.
func (s *LivenessSweeper) RunOnce(ctx context.Context) {
	userIDs, err := s.st.ListPresenceKeys(ctx)
	if err != nil {
		s.logger.Printf("sweep aborted, cannot list presence keys: %v", err)
		return
	}

	evicted := 0
	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ok, err := s.sweepUser(ctx, userID)
		if err != nil {
			sweepErrorsTotal.Inc()
			s.logger.Printf("sweep of user %s failed, skipping: %v", userID, err)
			continue
		}
		if ok {
			evicted++
		}
	}
	// Sessions whose user is already gone (offline, evicted, crashed) are
	// reachable only through the user→session mappings; sweep those too so
	// no overdue session is orphaned.
	mapped, err := s.st.ListUserSessionKeys(ctx)
	if err != nil {
		s.logger.Printf("sweep cannot list session mappings: %v", err)
	} else {
		for _, userID := range mapped {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := s.expireOverdueSession(ctx, userID); err != nil {
				sweepErrorsTotal.Inc()
				s.logger.Printf("session sweep for user %s failed, skipping: %v", userID, err)
			}
		}
	}

	sweepsTotal.Inc()
	if evicted > 0 {
		s.logger.Printf("sweep evicted %d stale presence record(s)", evicted)
	}
}

// sweepUser handles a single record. Returns true when the record was
// evicted.
func (s *LivenessSweeper) sweepUser(ctx context.Context, userID string) (bool, error) {
	stale, err := s.heartbeatStale(ctx, userID)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, s.expireOverdueSession(ctx, userID)
	}

	// Check-then-act: a heartbeat may have landed since the scan read the
	// value above. Only evict if the record is stale right now.
	stale, err = s.heartbeatStale(ctx, userID)
	if err != nil || !stale {
		return false, err
	}
	return true, s.evict(ctx, userID)
}

// heartbeatStale judges liveness from the heartbeat record, falling back to
// the presence record's lastSeen when no heartbeat survives.
func (s *LivenessSweeper) heartbeatStale(ctx context.Context, userID string) (bool, error) {
	hb, ok, err := s.st.GetHeartbeat(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		p, ok, err := s.st.GetPresence(ctx, userID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil // already gone
		}
		hb = p.LastSeen
	}
	return s.now().Sub(hb) > s.timeout, nil
}

// evict removes a dead user: presence and heartbeat records deleted, hive
// set membership dropped, LEAVE published, and any linked session past its
// deadline expired.
func (s *LivenessSweeper) evict(ctx context.Context, userID string) error {
	p, ok, err := s.st.GetPresence(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := s.st.DeletePresence(ctx, userID); err != nil {
		return err
	}
	if err := s.st.DeleteHeartbeat(ctx, userID); err != nil {
		return err
	}
	evictionsTotal.Inc()
	s.logger.Printf("evicting stale presence for user %s", userID)

	if p.CurrentHiveID != "" {
		if err := s.st.RemoveFromHiveSet(ctx, p.CurrentHiveID, userID); err != nil {
			return err
		}
		info, err := s.presence.hiveInfo(ctx, p.CurrentHiveID)
		if err != nil {
			return err
		}
		s.presence.publish(ctx, models.PresenceTopic(p.CurrentHiveID), models.EventLeave, models.PresenceBroadcast{
			HiveID:          p.CurrentHiveID,
			UserID:          userID,
			ActiveUserCount: info.ActiveUserCount,
			Users:           info.Users,
		})
	}

	// The presence record is gone; expire the linked session too if it is
	// overdue. A session still within its deadline keeps running on its own
	// TTL.
	return s.expireOverdueSession(ctx, userID)
}

// expireOverdueSession transitions a linked session past its deadline to
// EXPIRED. When the user's presence record survives the session (heartbeats
// kept coming), Expire also reverts the status from IN_FOCUS_SESSION back to
// ONLINE.
func (s *LivenessSweeper) expireOverdueSession(ctx context.Context, userID string) error {
	sessionID, ok, err := s.st.GetUserSessionID(ctx, userID)
	if err != nil || !ok {
		return err
	}
	session, ok, err := s.st.GetSession(ctx, sessionID)
	if err != nil || !ok {
		return err
	}
	if session.Status.Terminal() || s.now().Before(session.Deadline) {
		return nil
	}
	return s.sessions.Expire(ctx, session)
}
