package store

import (
	"context"
	"log"
	"sync"
	"time"

	"focushive/presence-service/models"
)

// MemoryStore is the in-process backend. State lives in sync.Maps so
// unrelated users never contend on a shared lock; each hive set carries its
// own small mutex. Expiry is enforced on read against a stored deadline;
// there is no background timer, the sweeper owns cleanup.
//
// MemoryStore never returns a backend-unavailable error.
type MemoryStore struct {
	presences  sync.Map // userID → *presenceEntry
	heartbeats sync.Map // userID → *heartbeatEntry
	hives      sync.Map // hiveID → *hiveSet
	sessions   sync.Map // sessionID → *sessionEntry
	userSess   sync.Map // userID → *mappingEntry

	events  chan TopicEvent
	closeMu sync.RWMutex
	closed  bool
	logger  *log.Logger

	// now is swappable in tests so TTL behavior can be exercised without
	// sleeping.
	now func() time.Time
}

type presenceEntry struct {
	mu        sync.Mutex
	presence  models.UserPresence
	expiresAt time.Time
}

type heartbeatEntry struct {
	mu        sync.Mutex
	ts        time.Time
	expiresAt time.Time
}

type hiveSet struct {
	mu      sync.Mutex
	members map[string]struct{}
}

type sessionEntry struct {
	mu        sync.Mutex
	session   models.FocusSession
	expiresAt time.Time
}

type mappingEntry struct {
	mu        sync.Mutex
	sessionID string
	expiresAt time.Time
}

// NewMemoryStore builds an in-process store. eventBuffer bounds the publish
// channel; when it is full further events are dropped (at-most-once,
// best-effort delivery).
func NewMemoryStore(eventBuffer int, logger *log.Logger) *MemoryStore {
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	return &MemoryStore{
		events: make(chan TopicEvent, eventBuffer),
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the store's time source. Tests only.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) expired(deadline time.Time) bool {
	return !deadline.IsZero() && m.now().After(deadline)
}

func (m *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) SetPresence(_ context.Context, userID string, p *models.UserPresence, ttl time.Duration) error {
	v, _ := m.presences.LoadOrStore(userID, &presenceEntry{})
	e := v.(*presenceEntry)
	e.mu.Lock()
	e.presence = *p
	e.expiresAt = m.deadline(ttl)
	e.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetPresence(_ context.Context, userID string) (*models.UserPresence, bool, error) {
	v, ok := m.presences.Load(userID)
	if !ok {
		return nil, false, nil
	}
	e := v.(*presenceEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.expired(e.expiresAt) {
		m.presences.Delete(userID)
		return nil, false, nil
	}
	p := e.presence
	return &p, true, nil
}

func (m *MemoryStore) DeletePresence(_ context.Context, userID string) error {
	m.presences.Delete(userID)
	return nil
}

func (m *MemoryStore) SetPresenceAndHeartbeat(ctx context.Context, p *models.UserPresence, ttl time.Duration) error {
	if err := m.SetPresence(ctx, p.UserID, p, ttl); err != nil {
		return err
	}
	return m.RecordHeartbeat(ctx, p.UserID, p.LastSeen, ttl)
}

func (m *MemoryStore) RecordHeartbeat(_ context.Context, userID string, ts time.Time, ttl time.Duration) error {
	v, _ := m.heartbeats.LoadOrStore(userID, &heartbeatEntry{})
	e := v.(*heartbeatEntry)
	e.mu.Lock()
	e.ts = ts
	e.expiresAt = m.deadline(ttl)
	e.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetHeartbeat(_ context.Context, userID string) (time.Time, bool, error) {
	v, ok := m.heartbeats.Load(userID)
	if !ok {
		return time.Time{}, false, nil
	}
	e := v.(*heartbeatEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.expired(e.expiresAt) {
		m.heartbeats.Delete(userID)
		return time.Time{}, false, nil
	}
	return e.ts, true, nil
}

func (m *MemoryStore) DeleteHeartbeat(_ context.Context, userID string) error {
	m.heartbeats.Delete(userID)
	return nil
}

func (m *MemoryStore) AddToHiveSet(_ context.Context, hiveID, userID string) error {
	v, _ := m.hives.LoadOrStore(hiveID, &hiveSet{members: make(map[string]struct{})})
	h := v.(*hiveSet)
	h.mu.Lock()
	h.members[userID] = struct{}{}
	h.mu.Unlock()
	return nil
}

func (m *MemoryStore) RemoveFromHiveSet(_ context.Context, hiveID, userID string) error {
	v, ok := m.hives.Load(hiveID)
	if !ok {
		return nil
	}
	h := v.(*hiveSet)
	h.mu.Lock()
	delete(h.members, userID)
	empty := len(h.members) == 0
	h.mu.Unlock()
	if empty {
		m.hives.Delete(hiveID)
	}
	return nil
}

func (m *MemoryStore) GetHiveSet(_ context.Context, hiveID string) ([]string, error) {
	v, ok := m.hives.Load(hiveID)
	if !ok {
		return nil, nil
	}
	h := v.(*hiveSet)
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.members))
	for id := range h.members {
		out = append(out, id)
	}
	return out, nil
}

func (m *MemoryStore) SetSession(_ context.Context, s *models.FocusSession, ttl time.Duration) error {
	v, _ := m.sessions.LoadOrStore(s.SessionID, &sessionEntry{})
	e := v.(*sessionEntry)
	e.mu.Lock()
	e.session = *s
	e.expiresAt = m.deadline(ttl)
	e.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*models.FocusSession, bool, error) {
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, false, nil
	}
	e := v.(*sessionEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.expired(e.expiresAt) {
		m.sessions.Delete(sessionID)
		return nil, false, nil
	}
	s := e.session
	return &s, true, nil
}

func (m *MemoryStore) MapUserToSession(_ context.Context, userID, sessionID string, ttl time.Duration) error {
	v, _ := m.userSess.LoadOrStore(userID, &mappingEntry{})
	e := v.(*mappingEntry)
	e.mu.Lock()
	e.sessionID = sessionID
	e.expiresAt = m.deadline(ttl)
	e.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetUserSessionID(_ context.Context, userID string) (string, bool, error) {
	v, ok := m.userSess.Load(userID)
	if !ok {
		return "", false, nil
	}
	e := v.(*mappingEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.expired(e.expiresAt) {
		m.userSess.Delete(userID)
		return "", false, nil
	}
	return e.sessionID, true, nil
}

func (m *MemoryStore) ClearUserSessionMapping(_ context.Context, userID string) error {
	m.userSess.Delete(userID)
	return nil
}

func (m *MemoryStore) Publish(_ context.Context, topic string, event models.PresenceEvent) error {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return nil
	}
	select {
	case m.events <- TopicEvent{Topic: topic, Event: event}:
	default:
		if m.logger != nil {
			m.logger.Printf("event buffer full, dropping %s event on %s", event.Type, topic)
		}
	}
	return nil
}

func (m *MemoryStore) Events(ctx context.Context) (<-chan TopicEvent, error) {
	out := make(chan TopicEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-m.events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *MemoryStore) ListPresenceKeys(_ context.Context) ([]string, error) {
	var keys []string
	m.presences.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	return keys, nil
}

func (m *MemoryStore) ListUserSessionKeys(_ context.Context) ([]string, error) {
	var keys []string
	m.userSess.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	return keys, nil
}

func (m *MemoryStore) Close() error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}
