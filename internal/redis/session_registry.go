package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatline/internal/imtypes"
)

const sessionKeyPrefix = "chatline:session:"

// releaseScript deletes the key only if it still holds the caller's session id.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript resets the key's TTL only if it still holds the caller's session id.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// sessionRegistry stores user -> session in Redis so every chat server
// instance sees the same presence.
type sessionRegistry struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewSessionRegistry returns a Redis-backed registry. ttl bounds how long a
// mapping survives an instance that died without releasing, and live sessions
// must Refresh more often than that. 0 means no expiry.
func NewSessionRegistry(client redis.UniversalClient, ttl time.Duration) imtypes.SessionRegistry {
	return &sessionRegistry{client: client, ttl: ttl}
}

func (r *sessionRegistry) Bind(ctx context.Context, userID, sessionID string) error {
	if err := r.client.Set(ctx, sessionKeyPrefix+userID, sessionID, r.ttl).Err(); err != nil {
		return fmt.Errorf("记录会话失败 (user %s): %w", userID, err)
	}
	return nil
}

func (r *sessionRegistry) Release(ctx context.Context, userID, sessionID string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{sessionKeyPrefix + userID}, sessionID).Int()
	if err != nil {
		return false, fmt.Errorf("释放会话失败 (user %s): %w", userID, err)
	}
	return n == 1, nil
}

func (r *sessionRegistry) Refresh(ctx context.Context, userID, sessionID string) (bool, error) {
	key := sessionKeyPrefix + userID
	if r.ttl <= 0 {
		current, err := r.client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("续期会话失败 (user %s): %w", userID, err)
		}
		return current == sessionID, nil
	}
	n, err := refreshScript.Run(ctx, r.client, []string{key}, sessionID, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("续期会话失败 (user %s): %w", userID, err)
	}
	return n == 1, nil
}

func (r *sessionRegistry) Lookup(ctx context.Context, userID string) (string, bool, error) {
	sessionID, err := r.client.Get(ctx, sessionKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("查询会话失败 (user %s): %w", userID, err)
	}
	return sessionID, true, nil
}
