package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// MemoryStore is a per-key token bucket holding MaxRequests tokens that
// refill evenly over Window. It only limits a single process.
type MemoryStore struct {
	buckets    map[string]*bucket
	mu         sync.RWMutex
	maxTokens  int
	refillRate time.Duration
	now        func() time.Time

	cleanupTicker *time.Ticker
	done          chan struct{}
	stopOnce      sync.Once
}

type MemoryConfig struct {
	MaxRequests int
	Window      time.Duration
	Now         func() time.Time
}

func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &MemoryStore{
		buckets:       make(map[string]*bucket),
		maxTokens:     cfg.MaxRequests,
		refillRate:    cfg.Window / time.Duration(cfg.MaxRequests),
		now:           cfg.Now,
		cleanupTicker: time.NewTicker(5 * time.Minute),
		done:          make(chan struct{}),
	}

	go s.cleanup()

	return s
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Take(_ context.Context, key string) (Result, error) {
	s.mu.RLock()
	b, exists := s.buckets[key]
	s.mu.RUnlock()

	if !exists {
		s.mu.Lock()
		if b, exists = s.buckets[key]; !exists {
			b = &bucket{
				tokens:     s.maxTokens,
				lastRefill: s.now(),
			}
			s.buckets[key] = b
		}
		s.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := s.now()
	if refill := int(now.Sub(b.lastRefill) / s.refillRate); refill > 0 {
		b.tokens = min(s.maxTokens, b.tokens+refill)
		b.lastRefill = b.lastRefill.Add(time.Duration(refill) * s.refillRate)
		if b.tokens == s.maxTokens {
			b.lastRefill = now
		}
	}

	allowed := b.tokens > 0
	if allowed {
		b.tokens--
	}

	return Result{
		Allowed:   allowed,
		Remaining: b.tokens,
		ResetAt:   b.lastRefill.Add(time.Duration(s.maxTokens-b.tokens) * s.refillRate),
	}, nil
}

func (s *MemoryStore) cleanup() {
	for {
		select {
		case <-s.done:
			return
		case <-s.cleanupTicker.C:
			s.evictIdle(10 * time.Minute)
		}
	}
}

func (s *MemoryStore) evictIdle(idle time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, b := range s.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > idle {
			delete(s.buckets, key)
		}
		b.mu.Unlock()
	}
}

func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		s.cleanupTicker.Stop()
		close(s.done)
	})
}
