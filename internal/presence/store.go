// Package presence tracks which users are currently connected. State lives
// in Redis behind short TTLs so that a crashed process never leaves ghosts
// behind.
package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	userKeyPrefix = "presence:user:"
	roomKeyPrefix = "presence:room:"

	// DefaultTTL is the inactivity window after which a user counts as
	// offline. Connected clients heartbeat at half this interval.
	DefaultTTL = 60 * time.Second
)

// Store records heartbeats and answers online queries.
type Store struct {
	client *redis.Client
	clock  func() time.Time
	logger *zap.Logger
	ttl    time.Duration
}

// StoreConfig describes the dependencies of the presence store.
type StoreConfig struct {
	Client *redis.Client
	Clock  func() time.Time
	Logger *zap.Logger
	TTL    time.Duration
}

// NewStore constructs a presence store backed by the given Redis client.
func NewStore(cfg StoreConfig) *Store {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: cfg.Client, clock: clock, logger: logger, ttl: ttl}
}

// Heartbeat refreshes the user's online marker and, when roomIDs are given,
// their membership in each room's presence set.
func (s *Store) Heartbeat(ctx context.Context, userID string, roomIDs ...string) error {
	now := s.clock()
	if err := s.client.Set(ctx, userKeyPrefix+userID, now.Unix(), s.ttl).Err(); err != nil {
		return err
	}
	for _, roomID := range roomIDs {
		key := roomKeyPrefix + roomID
		err := s.client.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.Unix()),
			Member: userID,
		}).Err()
		if err != nil {
			return err
		}
		// Expire the whole set so idle rooms do not leak memory.
		if err := s.client.Expire(ctx, key, s.ttl*2).Err(); err != nil {
			return err
		}
	}
	return nil
}

// IsOnline reports whether the user heartbeat within the TTL window.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	count, err := s.client.Exists(ctx, userKeyPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// OnlineInRoom returns the users whose last heartbeat in the room falls
// within the TTL window. Stale members are trimmed on the way.
func (s *Store) OnlineInRoom(ctx context.Context, roomID string) ([]string, error) {
	key := roomKeyPrefix + roomID
	threshold := s.clock().Add(-s.ttl).Unix()
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(threshold, 10)).Err(); err != nil {
		return nil, err
	}
	return s.client.ZRange(ctx, key, 0, -1).Result()
}

// Clear drops the user's online marker and removes them from the given
// rooms, called on clean disconnect. Failures are logged, not returned;
// the TTL expires the state anyway.
func (s *Store) Clear(ctx context.Context, userID string, roomIDs ...string) {
	if err := s.client.Del(ctx, userKeyPrefix+userID).Err(); err != nil {
		s.logger.Warn("presence clear failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	for _, roomID := range roomIDs {
		if err := s.client.ZRem(ctx, roomKeyPrefix+roomID, userID).Err(); err != nil {
			s.logger.Warn("presence room clear failed",
				zap.String("room_id", roomID),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}
}

// ClearRoom deletes the whole presence set for a room, used when the room
// itself goes away (a call ends, a channel is deactivated).
func (s *Store) ClearRoom(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, roomKeyPrefix+roomID).Err()
}
