package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"focushive/presence-service/errs"
	"focushive/presence-service/models"
)

const (
	userPresenceKeyPrefix = "presence:user:"
	heartbeatKeyPrefix    = "presence:heartbeat:"
	hiveKeyPrefix         = "presence:hive:"
	sessionKeyPrefix      = "presence:session:"
	userSessionKeySuffix  = ":session"

	eventChannelPattern = "hive/*"

	scanBatchSize = 100
)

// RedisStore is the shared backend for multi-instance deployments. Every
// operation runs under a bounded timeout; any Redis failure is surfaced as a
// backend-unavailable error so callers can distinguish it from absent data.
type RedisStore struct {
	client  *redis.Client
	logger  *log.Logger
	timeout time.Duration
}

// NewRedisClient connects to Redis and verifies the connection, following the
// service's startup contract: refuse to start without a reachable backend.
func NewRedisClient(redisURL string, db int) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opt.DB = db

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps an established client. opTimeout bounds each call;
// zero selects a 3s default.
func NewRedisStore(client *redis.Client, opTimeout time.Duration, logger *log.Logger) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	return &RedisStore{client: client, logger: logger, timeout: opTimeout}
}

func (r *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func unavailable(op string, err error) error {
	return errs.BackendUnavailable("redis "+op+" failed", err)
}

func (r *RedisStore) SetPresence(ctx context.Context, userID string, p *models.UserPresence, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal presence data: %w", err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Set(ctx, userPresenceKeyPrefix+userID, data, ttl).Err(); err != nil {
		return unavailable("set presence", err)
	}
	return nil
}

func (r *RedisStore) GetPresence(ctx context.Context, userID string) (*models.UserPresence, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	data, err := r.client.Get(ctx, userPresenceKeyPrefix+userID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get presence", err)
	}
	var p models.UserPresence
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal presence data: %w", err)
	}
	return &p, true, nil
}

func (r *RedisStore) DeletePresence(ctx context.Context, userID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Del(ctx, userPresenceKeyPrefix+userID).Err(); err != nil {
		return unavailable("delete presence", err)
	}
	return nil
}

// SetPresenceAndHeartbeat writes both keys in one pipeline so a network
// failure between round trips cannot leave presence and heartbeat
// disagreeing about liveness.
func (r *RedisStore) SetPresenceAndHeartbeat(ctx context.Context, p *models.UserPresence, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal presence data: %w", err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userPresenceKeyPrefix+p.UserID, data, ttl)
		pipe.Set(ctx, heartbeatKeyPrefix+p.UserID, p.LastSeen.UnixMilli(), ttl)
		return nil
	})
	if err != nil {
		return unavailable("set presence and heartbeat", err)
	}
	return nil
}

func (r *RedisStore) RecordHeartbeat(ctx context.Context, userID string, ts time.Time, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Set(ctx, heartbeatKeyPrefix+userID, ts.UnixMilli(), ttl).Err(); err != nil {
		return unavailable("record heartbeat", err)
	}
	return nil
}

func (r *RedisStore) GetHeartbeat(ctx context.Context, userID string) (time.Time, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	ms, err := r.client.Get(ctx, heartbeatKeyPrefix+userID).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("get heartbeat", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (r *RedisStore) DeleteHeartbeat(ctx context.Context, userID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Del(ctx, heartbeatKeyPrefix+userID).Err(); err != nil {
		return unavailable("delete heartbeat", err)
	}
	return nil
}

func (r *RedisStore) AddToHiveSet(ctx context.Context, hiveID, userID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.SAdd(ctx, hiveKeyPrefix+hiveID, userID).Err(); err != nil {
		return unavailable("add to hive set", err)
	}
	return nil
}

func (r *RedisStore) RemoveFromHiveSet(ctx context.Context, hiveID, userID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.SRem(ctx, hiveKeyPrefix+hiveID, userID).Err(); err != nil {
		return unavailable("remove from hive set", err)
	}
	return nil
}

func (r *RedisStore) GetHiveSet(ctx context.Context, hiveID string) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	members, err := r.client.SMembers(ctx, hiveKeyPrefix+hiveID).Result()
	if err != nil {
		return nil, unavailable("get hive set", err)
	}
	return members, nil
}

func (r *RedisStore) SetSession(ctx context.Context, s *models.FocusSession, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Set(ctx, sessionKeyPrefix+s.SessionID, data, ttl).Err(); err != nil {
		return unavailable("set session", err)
	}
	return nil
}

func (r *RedisStore) GetSession(ctx context.Context, sessionID string) (*models.FocusSession, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	data, err := r.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get session", err)
	}
	var s models.FocusSession
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	return &s, true, nil
}

func (r *RedisStore) MapUserToSession(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Set(ctx, userPresenceKeyPrefix+userID+userSessionKeySuffix, sessionID, ttl).Err(); err != nil {
		return unavailable("map user session", err)
	}
	return nil
}

func (r *RedisStore) GetUserSessionID(ctx context.Context, userID string) (string, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	id, err := r.client.Get(ctx, userPresenceKeyPrefix+userID+userSessionKeySuffix).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get user session", err)
	}
	return id, true, nil
}

func (r *RedisStore) ClearUserSessionMapping(ctx context.Context, userID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Del(ctx, userPresenceKeyPrefix+userID+userSessionKeySuffix).Err(); err != nil {
		return unavailable("clear user session", err)
	}
	return nil
}

func (r *RedisStore) Publish(ctx context.Context, topic string, event models.PresenceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Publish(ctx, topic, data).Err(); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

// Events subscribes to every hive channel and forwards deliveries until ctx
// is cancelled. Events published by other instances arrive here as well;
// ordering across instances is not guaranteed.
func (r *RedisStore) Events(ctx context.Context) (<-chan TopicEvent, error) {
	pubsub := r.client.PSubscribe(ctx, eventChannelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, unavailable("subscribe", err)
	}

	out := make(chan TopicEvent)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.PresenceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Printf("dropping malformed event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- TopicEvent{Topic: msg.Channel, Event: ev}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisStore) ListPresenceKeys(ctx context.Context) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var userIDs []string
	iter := r.client.Scan(ctx, 0, userPresenceKeyPrefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), userPresenceKeyPrefix)
		// Skip the user→session mapping keys sharing the prefix.
		if strings.HasSuffix(id, userSessionKeySuffix) {
			continue
		}
		userIDs = append(userIDs, id)
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan presence keys", err)
	}
	return userIDs, nil
}

func (r *RedisStore) ListUserSessionKeys(ctx context.Context) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var userIDs []string
	iter := r.client.Scan(ctx, 0, userPresenceKeyPrefix+"*"+userSessionKeySuffix, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), userPresenceKeyPrefix)
		userIDs = append(userIDs, strings.TrimSuffix(id, userSessionKeySuffix))
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan session mapping keys", err)
	}
	return userIDs, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
