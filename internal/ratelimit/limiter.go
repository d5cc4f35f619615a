// Package ratelimit implements a sliding-log limiter: each (action, client)
// pair keeps the timestamps of its recent attempts in an expiring cache.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Limiter allows at most limit attempts per rolling period for each key.
type Limiter struct {
	store  fiber.Storage
	limit  int
	period time.Duration
	now    func() time.Time

	// Get/Set on fiber.Storage is not atomic, so each key's read-modify-write
	// runs under its own lock. mu only guards the locks map.
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(store fiber.Storage, limit int, period time.Duration, opts ...Option) *Limiter {
	l := &Limiter{store: store, limit: limit, period: period, now: time.Now, locks: map[string]*keyLock{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func Key(action, identity string) string {
	return "rl_" + action + "_" + identity
}

// Allow records an attempt for (action, identity) and reports whether it is
// within the limit. Rejected attempts are not recorded.
func (l *Limiter) Allow(action, identity string) (bool, error) {
	key := Key(action, identity)
	now := l.now()
	cutoff := now.Add(-l.period).UnixNano()

	unlock := l.lock(key)
	defer unlock()

	attempts, err := l.load(key)
	if err != nil {
		return false, err
	}
	kept := attempts[:0]
	for _, ts := range attempts {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		return false, nil
	}
	kept = append(kept, now.UnixNano())

	raw, err := json.Marshal(kept)
	if err != nil {
		return false, err
	}
	if err := l.store.Set(key, raw, l.period); err != nil {
		return false, fmt.Errorf("ratelimit store set: %w", err)
	}
	return true, nil
}

// lock takes the per-key lock and returns its release. Entries are dropped
// once no caller holds or waits on them.
func (l *Limiter) lock(key string) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		if kl.refs--; kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) load(key string) ([]int64, error) {
	raw, err := l.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("ratelimit store get: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var attempts []int64
	if err := json.Unmarshal(raw, &attempts); err != nil {
		// A corrupt entry is treated as empty rather than locking the client out.
		return nil, nil
	}
	return attempts, nil
}

const maxIdentityLen = 64

// ClientIdentity derives the limiter identity from the first X-Forwarded-For
// hop, falling back to the peer address. The header is trusted as-is; deploy
// behind a proxy that overwrites it.
func ClientIdentity(c *fiber.Ctx) string {
	raw := c.Get(fiber.HeaderXForwardedFor)
	if raw == "" {
		if ip := c.Context().RemoteIP(); ip != nil {
			raw = ip.String()
		}
	}
	first, _, _ := strings.Cut(raw, ",")
	return sanitizeIdentity(first)
}

func sanitizeIdentity(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	if len(s) > maxIdentityLen {
		s = s[:maxIdentityLen]
	}
	return strings.NewReplacer(" ", "_", ":", "_").Replace(s)
}

// Middleware gates a route on Allow. limitReached renders the rejection; nil
// answers 429 {"detail":"Too many requests"}.
func (l *Limiter) Middleware(action string, limitReached fiber.Handler) fiber.Handler {
	if limitReached == nil {
		limitReached = func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"detail": "Too many requests"})
		}
	}
	return func(c *fiber.Ctx) error {
		ok, err := l.Allow(action, ClientIdentity(c))
		if err != nil {
			return err
		}
		if !ok {
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", int(l.period.Seconds())))
			return limitReached(c)
		}
		return c.Next()
	}
}
