package services

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"focushive/presence-service/errs"
	"focushive/presence-service/models"
	"focushive/presence-service/store"
)

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[test] ", 0)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fixture wires the full service stack over an in-memory store with an
// injected clock and records every published event.
type fixture struct {
	clock    *fakeClock
	st       store.PresenceStore
	presence *PresenceService
	tracker  *FocusSessionTracker
	sweeper  *LivenessSweeper

	mu     sync.Mutex
	events []store.TopicEvent
}

type fixtureOptions struct {
	st           store.PresenceStore
	authority    HiveMembershipAuthority
	heartbeatTTL time.Duration
	grace        time.Duration
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	logger := testLogger()
	clock := newFakeClock()

	st := opts.st
	if st == nil {
		mem := store.NewMemoryStore(256, logger)
		mem.SetClock(clock.Now)
		st = mem
	}
	authority := opts.authority
	if authority == nil {
		a := NewStaticMembershipAuthority(nil)
		a.AllowAll = true
		authority = a
	}
	ttl := opts.heartbeatTTL
	if ttl == 0 {
		ttl = time.Minute
	}
	grace := opts.grace
	if grace == 0 {
		grace = 5 * time.Minute
	}

	presence := NewPresenceService(st, authority, ttl, logger)
	presence.SetClock(clock.Now)
	tracker := NewFocusSessionTracker(st, presence, ElapsedRatioScoringPolicy{}, grace, time.Hour, logger)
	tracker.SetClock(clock.Now)
	presence.BindSessionFinisher(tracker)
	sweeper := NewLivenessSweeper(st, presence, tracker, 30*time.Second, ttl, logger)
	sweeper.SetClock(clock.Now)

	f := &fixture{
		clock:    clock,
		st:       st,
		presence: presence,
		tracker:  tracker,
		sweeper:  sweeper,
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := st.Events(ctx)
	if err != nil {
		t.Fatalf("events stream: %v", err)
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		st.Close()
		cancel()
		<-drained
	})
	return f
}

// eventsOfType filters recorded events. Delivery is asynchronous, so it polls
// until the stream goes quiet.
func (f *fixture) eventsOfType(typ models.EventType) []store.TopicEvent {
	stableSince := time.Now()
	lastCount := -1
	for time.Since(stableSince) < 100*time.Millisecond {
		f.mu.Lock()
		n := len(f.events)
		f.mu.Unlock()
		if n != lastCount {
			lastCount = n
			stableSince = time.Now()
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.TopicEvent
	for _, ev := range f.events {
		if ev.Event.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// flakyStore wraps a real store and fails selected operations with a backend
// error, for testing read degradation.
type flakyStore struct {
	store.PresenceStore
	failPresenceReads bool
	failHiveReads     bool
}

func (f *flakyStore) GetPresence(ctx context.Context, userID string) (*models.UserPresence, bool, error) {
	if f.failPresenceReads {
		return nil, false, errs.BackendUnavailable("get presence", context.DeadlineExceeded)
	}
	return f.PresenceStore.GetPresence(ctx, userID)
}

func (f *flakyStore) GetHiveSet(ctx context.Context, hiveID string) ([]string, error) {
	if f.failHiveReads {
		return nil, errs.BackendUnavailable("get hive set", context.DeadlineExceeded)
	}
	return f.PresenceStore.GetHiveSet(ctx, hiveID)
}

// brokenHeartbeatStore fails every heartbeat read for one user, for testing
// that a sweep pass skips bad records instead of aborting.
type brokenHeartbeatStore struct {
	store.PresenceStore
	userID string
}

func (b *brokenHeartbeatStore) GetHeartbeat(ctx context.Context, userID string) (time.Time, bool, error) {
	if userID == b.userID {
		return time.Time{}, false, errs.BackendUnavailable("get heartbeat", context.DeadlineExceeded)
	}
	return b.PresenceStore.GetHeartbeat(ctx, userID)
}

// refreshingStore wraps a real store and answers the second heartbeat read of
// a user with a fresh timestamp, simulating a heartbeat landing between the
// sweeper's scan read and its pre-eviction re-check.
type refreshingStore struct {
	store.PresenceStore
	userID string
	fresh  time.Time

	mu    sync.Mutex
	reads int
}

func (r *refreshingStore) GetHeartbeat(ctx context.Context, userID string) (time.Time, bool, error) {
	if userID == r.userID {
		r.mu.Lock()
		r.reads++
		n := r.reads
		r.mu.Unlock()
		if n >= 2 {
			return r.fresh, true, nil
		}
	}
	return r.PresenceStore.GetHeartbeat(ctx, userID)
}
