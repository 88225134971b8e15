// Package store provides the key/set storage abstraction the presence engine
// runs on. Two interchangeable backends exist: an in-process concurrent-map
// store and a Redis store shared by multiple instances. Callers must not be
// able to tell them apart.
package store

import (
	"context"
	"time"

	"focushive/presence-service/models"
)

// TopicEvent couples a published PresenceEvent with the topic it was
// published on.
type TopicEvent struct {
	Topic string
	Event models.PresenceEvent
}

// PresenceStore is the backend-agnostic storage contract.
//
// TTLs are advisory: a backend may physically expire a key at its TTL, but
// the liveness sweeper is the authoritative cleanup mechanism and tolerates
// backends that never expire on their own. Absent entries are reported as
// (zero value, false, nil); an error always means the backend itself failed.
//
// Publish is fire-and-forget: failures are returned for logging but must
// never fail the state mutation that triggered them.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID string, p *models.UserPresence, ttl time.Duration) error
	GetPresence(ctx context.Context, userID string) (*models.UserPresence, bool, error)
	DeletePresence(ctx context.Context, userID string) error

	// SetPresenceAndHeartbeat writes the presence record and its heartbeat
	// (taken from p.LastSeen) together under one TTL. The two must never
	// disagree about liveness; on the Redis backend both writes ride a
	// single pipeline.
	SetPresenceAndHeartbeat(ctx context.Context, p *models.UserPresence, ttl time.Duration) error

	RecordHeartbeat(ctx context.Context, userID string, ts time.Time, ttl time.Duration) error
	GetHeartbeat(ctx context.Context, userID string) (time.Time, bool, error)
	DeleteHeartbeat(ctx context.Context, userID string) error

	AddToHiveSet(ctx context.Context, hiveID, userID string) error
	RemoveFromHiveSet(ctx context.Context, hiveID, userID string) error
	GetHiveSet(ctx context.Context, hiveID string) ([]string, error)

	SetSession(ctx context.Context, s *models.FocusSession, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) (*models.FocusSession, bool, error)

	MapUserToSession(ctx context.Context, userID, sessionID string, ttl time.Duration) error
	GetUserSessionID(ctx context.Context, userID string) (string, bool, error)
	ClearUserSessionMapping(ctx context.Context, userID string) error

	Publish(ctx context.Context, topic string, event models.PresenceEvent) error
	// Events delivers everything published through this store, including,
	// on the Redis backend, events published by other process instances.
	// The channel closes when ctx is cancelled or the store shuts down.
	Events(ctx context.Context) (<-chan TopicEvent, error)

	// ListPresenceKeys returns the user ids of every presence record
	// currently stored. The sweeper iterates this.
	ListPresenceKeys(ctx context.Context) ([]string, error)

	// ListUserSessionKeys returns the user ids of every user→session
	// mapping currently stored. Sessions can outlive their user's presence
	// record, so the sweeper iterates this as well.
	ListUserSessionKeys(ctx context.Context) ([]string, error)

	Close() error
}
