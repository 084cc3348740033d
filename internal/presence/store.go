// Package presence mirrors live room membership into Redis so operators and
// sibling services can observe active calls. The in-memory registry stays the
// source of truth; the mirror is advisory and every write is best-effort.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/classlive/classroom-rtc/config"
)

// Keys expire so that a crashed server does not leave ghost rooms behind.
const memberTTL = 24 * time.Hour

// Store wraps the Redis client. A nil *Store is valid and turns every
// operation into a no-op, covering deployments without Redis.
type Store struct {
	client *redis.Client
}

// Connect dials Redis and verifies the connection. It returns (nil, nil) when
// no address is configured.
func Connect(cfg config.RedisConfig) (*Store, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

// Add records a participant in the room's member set.
func (s *Store) Add(ctx context.Context, roomID, participantID string) {
	if s == nil {
		return
	}
	key := roomKey(roomID)
	if err := s.client.SAdd(ctx, key, participantID).Err(); err != nil {
		slog.Warn("presence add failed", "room", roomID, "participant", participantID, "error", err)
		return
	}
	s.client.Expire(ctx, key, memberTTL)
}

// Remove drops a participant from the room's member set.
func (s *Store) Remove(ctx context.Context, roomID, participantID string) {
	if s == nil {
		return
	}
	if err := s.client.SRem(ctx, roomKey(roomID), participantID).Err(); err != nil {
		slog.Warn("presence remove failed", "room", roomID, "participant", participantID, "error", err)
	}
}

// Members returns the mirrored member set for a room.
func (s *Store) Members(ctx context.Context, roomID string) ([]string, error) {
	if s == nil {
		return nil, nil
	}
	return s.client.SMembers(ctx, roomKey(roomID)).Result()
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}

func roomKey(roomID string) string {
	return "room:" + roomID + ":participants"
}
