// Package ratelimit applies a global request budget plus per-caller
// token buckets in front of the HTTP API.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	limiters     map[string]*rate.Limiter
	global       *rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

type Config struct {
	GlobalRPS   float64
	GlobalBurst int
	CallerRPS   float64
	CallerBurst int
}

func DefaultConfig() Config {
	return Config{
		GlobalRPS:   1000,
		GlobalBurst: 2000,
		CallerRPS:   50,
		CallerBurst: 100,
	}
}

func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		global:       rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
		defaultRate:  rate.Limit(cfg.CallerRPS),
		defaultBurst: cfg.CallerBurst,
	}
}

// Allow reports whether one request from the caller fits both the
// global and the per-caller budget.
func (l *Limiter) Allow(caller string) bool {
	if !l.global.Allow() {
		return false
	}
	return l.getOrCreateCallerLimiter(caller).Allow()
}

func (l *Limiter) AllowN(caller string, n int) bool {
	now := time.Now()
	if !l.global.AllowN(now, n) {
		return false
	}
	return l.getOrCreateCallerLimiter(caller).AllowN(now, n)
}

func (l *Limiter) getOrCreateCallerLimiter(caller string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[caller]
	l.mu.RUnlock()

	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok = l.limiters[caller]; ok {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[caller] = limiter
	return limiter
}

// SetCallerLimit overrides the bucket for one caller.
func (l *Limiter) SetCallerLimit(caller string, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limiters[caller] = rate.NewLimiter(rate.Limit(rps), burst)
}

func (l *Limiter) RemoveCaller(caller string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.limiters, caller)
}
