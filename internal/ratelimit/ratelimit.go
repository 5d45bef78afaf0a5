package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket: rate tokens per second, up to burst banked.
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}

	if l.tokens >= 1 {
		l.tokens--
		return true
	}

	return false
}

// KeyedLimiters hands out one limiter per key. The /run endpoint keys by
// caller address so one noisy client cannot starve the execution budget.
type KeyedLimiters struct {
	limiters map[string]*Limiter
	rate     float64
	burst    int
	mu       sync.RWMutex
}

func NewKeyedLimiters(rate float64, burst int) *KeyedLimiters {
	return &KeyedLimiters{
		limiters: make(map[string]*Limiter),
		rate:     rate,
		burst:    burst,
	}
}

func (kl *KeyedLimiters) Get(key string) *Limiter {
	kl.mu.RLock()
	limiter, ok := kl.limiters[key]
	kl.mu.RUnlock()

	if ok {
		return limiter
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()

	if limiter, ok := kl.limiters[key]; ok {
		return limiter
	}

	limiter = NewLimiter(kl.rate, kl.burst)
	kl.limiters[key] = limiter

	// Unbounded growth guard: keys are remote addresses and churn freely.
	if len(kl.limiters) > 10000 {
		kl.limiters = map[string]*Limiter{key: limiter}
	}
	return limiter
}

func (kl *KeyedLimiters) Remove(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	delete(kl.limiters, key)
}
