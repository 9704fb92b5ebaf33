package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/domain/shared"
	"github.com/contractiq/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run-lock backends accepted by the factory
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Factory builds the coordination stores of the sync engine: the run-lock
// and the webhook delivery store. Both share one Redis client when Redis is used.
type Factory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	pingTimeout           time.Duration

	client  redis.UniversalClient
	dialErr error
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// WithInMemoryFallback controls whether to fall back to in-memory stores when
// Redis is unreachable. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) { f.allowInMemoryFallback = allow }
}

// WithRedisClient injects an existing client instead of dialing one
func WithRedisClient(client redis.UniversalClient) FactoryOption {
	return func(f *Factory) { f.client = client }
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		pingTimeout:           5 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// redisClient dials Redis once and verifies the connection
func (f *Factory) redisClient() (redis.UniversalClient, error) {
	if f.client != nil {
		return f.client, nil
	}
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	client := redis.NewClient(&redis.Options{
		Addr:     f.redisConfig.Addr(),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), f.pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		f.dialErr = fmt.Errorf("failed to connect to Redis: %w", err)
		return nil, f.dialErr
	}
	f.client = client
	return client, nil
}

// CreateRunLock returns the run-lock for backend. The redis backend falls
// back to memory when Redis is unreachable and fallback is allowed.
func (f *Factory) CreateRunLock(backend string) (integration.RunLock, error) {
	if backend != BackendRedis {
		f.logger.Info("using in-memory run lock")
		return NewInMemoryRunLock(), nil
	}

	client, err := f.redisClient()
	if err == nil {
		f.logger.Info("using Redis run lock", zap.String("addr", f.redisConfig.Addr()))
		return NewRedisRunLock(client, ""), nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for run lock but unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory run lock. "+
		"Concurrent runs of one integration are only prevented within this process.",
		zap.Error(err),
	)
	return NewInMemoryRunLock(), nil
}

// CreateIdempotencyStore returns the webhook delivery store, on Redis when a
// client has already been established or the redis backend is selected.
func (f *Factory) CreateIdempotencyStore(backend string) shared.IdempotencyStore {
	if backend == BackendRedis {
		if client, err := f.redisClient(); err == nil {
			return NewRedisIdempotencyStore(client, "")
		}
	}
	return NewInMemoryIdempotencyStore()
}

// Close closes the shared Redis client, if one was dialed
func (f *Factory) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
