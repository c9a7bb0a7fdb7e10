package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another holder owns the lease.
var ErrLeaseHeld = errors.New("lease held")

// Lease is an acquired exclusive claim on a key.
type Lease struct {
	Key   string
	Token string
}

const leaseKeyPrefix = "sync:lease:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLeaseRepository grants per-key leases shared across processes.
type RedisLeaseRepository struct {
	client *redis.Client
}

// NewRedisLeaseRepository constructs the repository.
func NewRedisLeaseRepository(client *redis.Client) *RedisLeaseRepository {
	return &RedisLeaseRepository{client: client}
}

// Acquire claims key for ttl or fails with ErrLeaseHeld.
func (r *RedisLeaseRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{Key: leaseKeyPrefix + key, Token: uuid.NewString()}
	ok, err := r.client.SetNX(ctx, lease.Key, lease.Token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return lease, nil
}

// Release drops the lease if it is still owned by the caller.
func (r *RedisLeaseRepository) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{lease.Key}, lease.Token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", lease.Key, err)
	}
	return nil
}

// Held reports whether anyone owns key.
func (r *RedisLeaseRepository) Held(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, leaseKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check lease %s: %w", key, err)
	}
	return n > 0, nil
}

// LocalLeaseRepository grants leases within a single process.
type LocalLeaseRepository struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]localLease
}

type localLease struct {
	token   string
	expires time.Time
}

// NewLocalLeaseRepository constructs an in-process lease table.
func NewLocalLeaseRepository() *LocalLeaseRepository {
	return &LocalLeaseRepository{now: time.Now, leases: make(map[string]localLease)}
}

// Acquire claims key for ttl or fails with ErrLeaseHeld.
func (r *LocalLeaseRepository) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if existing, ok := r.leases[key]; ok && now.Before(existing.expires) {
		return nil, ErrLeaseHeld
	}
	lease := &Lease{Key: key, Token: uuid.NewString()}
	r.leases[key] = localLease{token: lease.Token, expires: now.Add(ttl)}
	return lease, nil
}

// Release drops the lease if it is still owned by the caller.
func (r *LocalLeaseRepository) Release(_ context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.leases[lease.Key]; ok && existing.token == lease.Token {
		delete(r.leases, lease.Key)
	}
	return nil
}

// Held reports whether anyone owns key.
func (r *LocalLeaseRepository) Held(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.leases[key]
	return ok && r.now().Before(existing.expires), nil
}
