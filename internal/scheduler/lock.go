package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// LeaderLock elects a single renewal worker across replicas. The token guards
// against releasing a lock that already expired and was taken by another
// worker.
type LeaderLock struct {
	client *redis.Client
	script *redis.Script
}

func NewLeaderLock(client *redis.Client) *LeaderLock {
	if client == nil {
		return nil
	}
	return &LeaderLock{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *LeaderLock) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if strings.TrimSpace(key) == "" {
		return "", false, errors.New("lock key required")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *LeaderLock) Unlock(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return errors.New("lock client not configured")
	}
	if strings.TrimSpace(key) == "" || strings.TrimSpace(token) == "" {
		return errors.New("lock key and token required")
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
