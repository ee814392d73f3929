package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invoice-importer/internal/lease"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL = 2 * time.Minute
	keyPrefix       = "import:lock:"
)

var errLeaseLost = errors.New("batch lease lost")

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var _ lease.Locker = (*BatchLocker)(nil)

// BatchLocker implements lease.Locker with SET NX PX and token-checked
// release, so a worker can only drop or extend a lease it still owns.
type BatchLocker struct {
	client   *goredis.Client
	newToken func() string
}

func NewBatchLocker(client *goredis.Client) (*BatchLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &BatchLocker{client: client, newToken: uuid.NewString}, nil
}

func (l *BatchLocker) Acquire(ctx context.Context, batchID string, ttl time.Duration) (lease.Lease, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("batch locker is not initialized")
	}

	id := strings.TrimSpace(batchID)
	if id == "" {
		return nil, fmt.Errorf("batch id is required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}

	key := keyPrefix + id
	token := l.newToken()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire batch lease: %w", err)
	}
	if !ok {
		return nil, lease.ErrBatchBusy
	}

	return &redisLease{client: l.client, key: key, token: token}, nil
}

type redisLease struct {
	client *goredis.Client
	key    string
	token  string
}

func (l *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend batch lease: %w", err)
	}
	if result == 0 {
		return errLeaseLost
	}
	return nil
}

// Release drops the lease if it is still ours. A lease that already expired
// is not an error.
func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release batch lease: %w", err)
	}
	return nil
}
