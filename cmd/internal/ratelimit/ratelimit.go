// Package ratelimit keeps one token bucket per key (user id, client IP, login identifier).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdle = 30 * time.Minute

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Pool hands out per-key limiters sharing one rate and burst.
type Pool struct {
	mu     sync.Mutex
	m      map[string]*entry
	limit  rate.Limit
	burst  int
	idle   time.Duration
	pruned time.Time
}

// New returns a pool allowing burst events at once, refilled at n events per window.
// n <= 0 disables limiting.
func New(n int, window time.Duration) *Pool {
	p := &Pool{m: make(map[string]*entry), idle: defaultIdle}
	if n <= 0 || window <= 0 {
		p.limit = rate.Inf
		return p
	}
	p.limit = rate.Every(window / time.Duration(n))
	p.burst = n
	if window > p.idle {
		p.idle = window
	}
	return p
}

func (p *Pool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.pruned) > p.idle {
		for k, e := range p.m {
			if now.Sub(e.lastSeen) > p.idle {
				delete(p.m, k)
			}
		}
		p.pruned = now
	}
	e, ok := p.m[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(p.limit, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	return e.lim
}

// Allow spends one token for key. When none is available it reports how long until one is.
func (p *Pool) Allow(key string, now time.Time) (bool, time.Duration) {
	if p == nil || p.limit == rate.Inf || key == "" {
		return true, 0
	}
	r := p.get(key, now).ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Blocked reports, without spending, whether key has run out of tokens.
func (p *Pool) Blocked(key string, now time.Time) (bool, time.Duration) {
	if p == nil || p.limit == rate.Inf || key == "" {
		return false, 0
	}
	lim := p.get(key, now)
	tokens := lim.TokensAt(now)
	if tokens >= 1 {
		return false, 0
	}
	wait := time.Duration((1 - tokens) / float64(p.limit) * float64(time.Second))
	return true, wait
}

// Len is the number of tracked keys.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
