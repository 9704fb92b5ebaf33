package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRunLockPrefix = "clm:sync:lock:"

func newLeaseToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate lease token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// ---------------------------------------------------------------------------
// In-memory run-lock
// ---------------------------------------------------------------------------

type lease struct {
	token     string
	expiresAt time.Time
}

// InMemoryRunLock implements integration.RunLock within one process.
// Suitable for single-instance deployments and tests.
type InMemoryRunLock struct {
	mu     sync.Mutex
	leases map[uuid.UUID]lease
	now    func() time.Time
}

// NewInMemoryRunLock creates an InMemoryRunLock
func NewInMemoryRunLock() *InMemoryRunLock {
	return &InMemoryRunLock{
		leases: make(map[uuid.UUID]lease),
		now:    time.Now,
	}
}

// TryAcquire takes the lock unless an unexpired lease exists
func (l *InMemoryRunLock) TryAcquire(_ context.Context, integrationID uuid.UUID, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[integrationID]; ok && l.now().Before(cur.expiresAt) {
		return "", nil
	}
	token, err := newLeaseToken()
	if err != nil {
		return "", err
	}
	l.leases[integrationID] = lease{token: token, expiresAt: l.now().Add(ttl)}
	return token, nil
}

// Release frees the lock if token still owns it
func (l *InMemoryRunLock) Release(_ context.Context, integrationID uuid.UUID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[integrationID]; ok && cur.token == token {
		delete(l.leases, integrationID)
	}
	return nil
}

// Extend pushes the expiry of an unexpired lease owned by token to now+ttl.
// An expired lease is lost even if nobody took it, matching Redis.
func (l *InMemoryRunLock) Extend(_ context.Context, integrationID uuid.UUID, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.leases[integrationID]
	if !ok || cur.token != token || !l.now().Before(cur.expiresAt) {
		return false, nil
	}
	l.leases[integrationID] = lease{token: token, expiresAt: l.now().Add(ttl)}
	return true, nil
}

// Held reports whether an unexpired lease exists (for tests and health output)
func (l *InMemoryRunLock) Held(integrationID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[integrationID]
	return ok && l.now().Before(cur.expiresAt)
}

var _ integration.RunLock = (*InMemoryRunLock)(nil)

// ---------------------------------------------------------------------------
// Redis run-lock
// ---------------------------------------------------------------------------

// releaseScript deletes the key only if it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only if the key still holds the caller's token
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisRunLock implements integration.RunLock with SET NX PX leases so
// that several server instances share one lock per integration.
type RedisRunLock struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisRunLock creates a RedisRunLock over an existing client
func NewRedisRunLock(client redis.UniversalClient, keyPrefix string) *RedisRunLock {
	if keyPrefix == "" {
		keyPrefix = defaultRunLockPrefix
	}
	return &RedisRunLock{client: client, keyPrefix: keyPrefix}
}

func (l *RedisRunLock) key(integrationID uuid.UUID) string {
	return l.keyPrefix + integrationID.String()
}

// TryAcquire sets the lease key if absent
func (l *RedisRunLock) TryAcquire(ctx context.Context, integrationID uuid.UUID, ttl time.Duration) (string, error) {
	token, err := newLeaseToken()
	if err != nil {
		return "", err
	}
	ok, err := l.client.SetNX(ctx, l.key(integrationID), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// Release deletes the lease key if token still owns it
func (l *RedisRunLock) Release(ctx context.Context, integrationID uuid.UUID, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(integrationID)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Extend resets the lease TTL if token still owns the key
func (l *RedisRunLock) Extend(ctx context.Context, integrationID uuid.UUID, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.key(integrationID)}, token, ttl.Milliseconds()).Int64()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to extend run lock: %w", err)
	}
	return n == 1, nil
}

var _ integration.RunLock = (*RedisRunLock)(nil)
