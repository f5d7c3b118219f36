package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const jobLockKeyPrefix = "broadcast:joblock"

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobLock keeps overlapping scheduler replicas from running the same periodic job at once.
// The database claims stay authoritative; the lock only trims redundant scans.
type JobLock struct {
	client *goredis.Client
}

func NewJobLock(client *goredis.Client) (*JobLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &JobLock{client: client}, nil
}

// TryAcquire returns a release func when the lock was taken, or nil when another holder owns it.
func (l *JobLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return nil, fmt.Errorf("job lock name is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("job lock ttl must be positive")
	}

	key := fmt.Sprintf("%s:%s", jobLockKeyPrefix, normalized)
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire job lock: %w", err)
	}
	if !acquired {
		return nil, nil
	}

	return func(releaseCtx context.Context) error {
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release job lock: %w", err)
		}
		return nil
	}, nil
}
