package store

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focushive/presence-service/models"
)

func newTestStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	st := NewMemoryStore(64, log.New(os.Stdout, "[test] ", 0))
	st.SetClock(clock.Now)
	return st, clock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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

func TestPresenceRoundTrip(t *testing.T) {
	st, clock := newTestStore()
	ctx := context.Background()

	p := &models.UserPresence{
		UserID:   "u1",
		Status:   models.StatusOnline,
		LastSeen: clock.Now(),
	}
	require.NoError(t, st.SetPresence(ctx, "u1", p, time.Minute))

	got, ok, err := st.GetPresence(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, models.StatusOnline, got.Status)

	// The returned record is a copy; mutating it must not touch the store.
	got.Status = models.StatusBusy
	again, ok, err := st.GetPresence(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusOnline, again.Status)

	require.NoError(t, st.DeletePresence(ctx, "u1"))
	_, ok, err = st.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPresenceExpiresOnRead(t *testing.T) {
	st, clock := newTestStore()
	ctx := context.Background()

	p := &models.UserPresence{UserID: "u1", Status: models.StatusOnline, LastSeen: clock.Now()}
	require.NoError(t, st.SetPresence(ctx, "u1", p, time.Minute))

	clock.Advance(59 * time.Second)
	_, ok, err := st.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok, "one second before the TTL the record is alive")

	clock.Advance(2 * time.Second)
	_, ok, err = st.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "past the TTL the record reads as absent")
}

func TestHeartbeatTTL(t *testing.T) {
	st, clock := newTestStore()
	ctx := context.Background()

	ts := clock.Now()
	require.NoError(t, st.RecordHeartbeat(ctx, "u1", ts, 30*time.Second))

	got, ok, err := st.GetHeartbeat(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(ts))

	clock.Advance(31 * time.Second)
	_, ok, err = st.GetHeartbeat(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetPresenceAndHeartbeatTogether(t *testing.T) {
	st, clock := newTestStore()
	ctx := context.Background()

	p := &models.UserPresence{UserID: "u1", Status: models.StatusOnline, LastSeen: clock.Now()}
	require.NoError(t, st.SetPresenceAndHeartbeat(ctx, p, time.Minute))

	got, ok, err := st.GetPresence(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusOnline, got.Status)

	hb, ok, err := st.GetHeartbeat(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, hb.Equal(p.LastSeen), "heartbeat carries the presence timestamp")

	// Both records share the TTL.
	clock.Advance(61 * time.Second)
	_, ok, err = st.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = st.GetHeartbeat(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteHeartbeat(t *testing.T) {
	st, clock := newTestStore()
	ctx := context.Background()

	require.NoError(t, st.RecordHeartbeat(ctx, "u1", clock.Now(), time.Minute))
	require.NoError(t, st.DeleteHeartbeat(ctx, "u1"))

	_, ok, err := st.GetHeartbeat(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent heartbeat is a no-op.
	require.NoError(t, st.DeleteHeartbeat(ctx, "u1"))
}

func TestListUserSessionKeys(t *testing.T) {
	st, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, st.MapUserToSession(ctx, "u1", "s1", time.Hour))
	require.NoError(t, st.MapUserToSession(ctx, "u2", "s2", time.Hour))

	keys, err := st.ListUserSessionKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, keys)

	require.NoError(t, st.ClearUserSessionMapping(ctx, "u1"))
	keys, err = st.ListUserSessionKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, keys)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	st, clock := newTestStore()
	ctx := context.Background()

	p := &models.UserPresence{UserID: "u1", Status: models.StatusOnline}
	require.NoError(t, st.SetPresence(ctx, "u1", p, 0))

	clock.Advance(240 * time.Hour)
	_, ok, err := st.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHiveSet(t *testing.T) {
	st, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, st.AddToHiveSet(ctx, "h1", "u1"))
	require.NoError(t, st.AddToHiveSet(ctx, "h1", "u2"))
	require.NoError(t, st.AddToHiveSet(ctx, "h1", "u2")) // duplicate add is a no-op

	members, err := st.GetHiveSet(ctx, "h1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, members)

	require.NoError(t, st.RemoveFromHiveSet(ctx, "h1", "u1"))
	require.NoError(t, st.RemoveFromHiveSet(ctx, "h1", "u1")) // absent member is a no-op

	members, err = st.GetHiveSet(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, members)

	require.NoError(t, st.RemoveFromHiveSet(ctx, "h1", "u2"))
	members, err = st.GetHiveSet(ctx, "h1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestSessionMapping(t *testing.T) {
	st, clock := newTestStore()
	ctx := context.Background()

	s := &models.FocusSession{
		SessionID:              "s1",
		UserID:                 "u1",
		PlannedDurationMinutes: 25,
		StartTime:              clock.Now(),
		Status:                 models.SessionActive,
	}
	require.NoError(t, st.SetSession(ctx, s, time.Hour))
	require.NoError(t, st.MapUserToSession(ctx, "u1", "s1", time.Hour))

	id, ok, err := st.GetUserSessionID(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", id)

	got, ok, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.SessionActive, got.Status)

	require.NoError(t, st.ClearUserSessionMapping(ctx, "u1"))
	_, ok, err = st.GetUserSessionID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListPresenceKeys(t *testing.T) {
	st, clock := newTestStore()
	ctx := context.Background()

	for _, id := range []string{"u1", "u2", "u3"} {
		p := &models.UserPresence{UserID: id, Status: models.StatusOnline, LastSeen: clock.Now()}
		require.NoError(t, st.SetPresence(ctx, id, p, time.Minute))
	}

	keys, err := st.ListPresenceKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, keys)
}

func TestPublishDeliversInOrder(t *testing.T) {
	st, _ := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := st.Events(ctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ev := models.PresenceEvent{ID: string(rune('a' + i)), Type: models.EventUpdate}
		require.NoError(t, st.Publish(ctx, "hive/h1/presence", ev))
	}

	for i := 0; i < 5; i++ {
		select {
		case got := <-events:
			assert.Equal(t, "hive/h1/presence", got.Topic)
			assert.Equal(t, string(rune('a'+i)), got.Event.ID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	st := NewMemoryStore(2, log.New(os.Stdout, "[test] ", 0))
	ctx := context.Background()

	// No consumer attached; the third publish must drop, not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			st.Publish(ctx, "hive/h1/presence", models.PresenceEvent{Type: models.EventUpdate})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
}

func TestPublishAfterCloseIsSafe(t *testing.T) {
	st, _ := newTestStore()
	require.NoError(t, st.Close())
	require.NoError(t, st.Close()) // double close is fine
	assert.NoError(t, st.Publish(context.Background(), "hive/h1/presence", models.PresenceEvent{}))
}

func TestConcurrentDistinctUsers(t *testing.T) {
	st, clock := newTestStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('A' + n%26))
			p := &models.UserPresence{UserID: id, Status: models.StatusOnline, LastSeen: clock.Now()}
			for j := 0; j < 100; j++ {
				_ = st.SetPresence(ctx, id, p, time.Minute)
				_, _, _ = st.GetPresence(ctx, id)
				_ = st.RecordHeartbeat(ctx, id, clock.Now(), time.Minute)
			}
		}(i)
	}
	wg.Wait()

	keys, err := st.ListPresenceKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 26)
}
