package ratelimit

import (
	"context"
	"time"

	"github.com/eval-dashboard/backend/pkg/circuitbreaker"
)

// WindowCounter is implemented by the redis cache client.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisStore is a fixed-window counter shared by every process using the
// same redis. Calls go through a circuit breaker so a down redis costs one
// rejected call instead of a timeout per request.
type RedisStore struct {
	counter     WindowCounter
	breaker     *circuitbreaker.CircuitBreaker
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

type RedisConfig struct {
	MaxRequests int
	Window      time.Duration
	Breaker     *circuitbreaker.CircuitBreaker
	Now         func() time.Time
}

func NewRedisStore(counter WindowCounter, cfg RedisConfig) *RedisStore {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New("redis-ratelimit", circuitbreaker.Config{})
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &RedisStore{
		counter:     counter,
		breaker:     cfg.Breaker,
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		now:         cfg.Now,
	}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Take(ctx context.Context, key string) (Result, error) {
	var (
		count int64
		ttl   time.Duration
	)
	err := s.breaker.Execute(func() error {
		var err error
		count, ttl, err = s.counter.IncrWindow(ctx, key, s.window)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Allowed:   count <= int64(s.maxRequests),
		Remaining: max(0, s.maxRequests-int(count)),
		ResetAt:   s.now().Add(ttl),
	}, nil
}
