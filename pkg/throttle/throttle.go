// Package throttle enforces a minimum interval between events.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter allows at most one event per interval. A zero interval allows
// everything.
type Limiter struct {
	limiter *rate.Limiter
}

func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (l *Limiter) Allow() bool {
	return l.AllowAt(time.Now())
}

// AllowAt reports whether an event at t may proceed and records it if so.
func (l *Limiter) AllowAt(t time.Time) bool {
	if l == nil || l.limiter == nil {
		return true
	}
	return l.limiter.AllowN(t, 1)
}

// Keyed keeps one Limiter per key, for example per stream.
type Keyed struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*Limiter
}

func NewKeyed(interval time.Duration) *Keyed {
	return &Keyed{
		interval: interval,
		limiters: make(map[string]*Limiter),
	}
}

func (k *Keyed) AllowAt(key string, t time.Time) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = New(k.interval)
		k.limiters[key] = l
	}
	k.mu.Unlock()

	return l.AllowAt(t)
}

// Forget discards the limiter for key.
func (k *Keyed) Forget(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	delete(k.limiters, key)
}

func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.limiters)
}
