// Package keypool manages a pool of Gemini API keys with round-robin
// rotation, per-key cooldown after rate limits, and permanent quarantine
// after authorization failures. The pool is the only owner of key state;
// callers report outcomes through the Report* methods or, preferably,
// through WithCredential.
package keypool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultCooldown is how long a rate-limited key is withheld from rotation.
const DefaultCooldown = 60 * time.Second

// ErrNoCredentials is returned when every key is on cooldown or quarantined.
// This is recoverable: keys come back when their cooldown expires.
var ErrNoCredentials = errors.New("keypool: no credentials available")

type entry struct {
	secret      string
	availableAt time.Time // zero value means immediately available
	failed      bool      // permanent, never cleared
}

// Pool hands out API keys in rotation order and tracks their health.
// All methods are safe for concurrent use; every operation runs under one
// pool-wide lock so scan-and-advance is atomic with respect to reporting.
type Pool struct {
	mu       sync.Mutex
	keys     []*entry
	cursor   int
	byKey    map[string]*entry
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithCooldown overrides the default rate-limit cooldown duration.
func WithCooldown(d time.Duration) Option {
	return func(p *Pool) {
		p.cooldown = d
	}
}

// WithLogger sets the structured logger for the pool.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// New creates a pool from a fixed list of API keys. Keys are never added
// or removed afterwards; failed keys are quarantined in place.
func New(secrets []string, opts ...Option) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, errors.New("keypool: no API keys provided")
	}

	p := &Pool{
		keys:     make([]*entry, 0, len(secrets)),
		byKey:    make(map[string]*entry, len(secrets)),
		cooldown: DefaultCooldown,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, s := range secrets {
		if s == "" {
			return nil, errors.New("keypool: empty API key in list")
		}
		if _, dup := p.byKey[s]; dup {
			return nil, fmt.Errorf("keypool: duplicate API key %s", redact(s))
		}
		e := &entry{secret: s}
		p.keys = append(p.keys, e)
		p.byKey[s] = e
	}

	p.logger.Info("key pool initialized", "keys", len(p.keys), "cooldown", p.cooldown)
	return p, nil
}

// Size returns the number of keys in the pool, healthy or not.
// Callers use it to bound retry loops.
func (p *Pool) Size() int {
	return len(p.keys)
}

// Acquire returns the next healthy key in rotation order and advances the
// shared cursor so repeated acquisitions distribute across keys. The caller
// must report the outcome via ReportSuccess, ReportRateLimited, or
// ReportPermanentFailure (or use WithCredential, which does it for them).
func (p *Pool) Acquire() (string, error) {
	return p.acquire(false)
}

// Peek returns a healthy key without advancing the cursor and without the
// reporting obligation. Used for read-only lookups, such as resolving which
// key owns a previously uploaded file.
func (p *Pool) Peek() (string, error) {
	return p.acquire(true)
}

func (p *Pool) acquire(peek bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	idx := p.cursor
	for range p.keys {
		e := p.keys[idx]
		if !e.failed && !e.availableAt.After(now) {
			if !peek {
				p.cursor = (idx + 1) % len(p.keys)
				p.logger.Debug("key acquired", "key", redact(e.secret))
			}
			return e.secret, nil
		}
		idx = (idx + 1) % len(p.keys)
	}

	p.logger.Warn("all keys on cooldown or quarantined")
	return "", ErrNoCredentials
}

// ReportRateLimited puts the key on cooldown. It stays in rotation and
// becomes available again once the cooldown expires.
func (p *Pool) ReportRateLimited(secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byKey[secret]
	if !ok {
		return
	}
	e.availableAt = p.now().Add(p.cooldown)
	p.logger.Warn("key rate-limited", "key", redact(secret), "cooldown", p.cooldown)
}

// ReportPermanentFailure quarantines the key for the process lifetime.
// Rotation never returns it again.
func (p *Pool) ReportPermanentFailure(secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byKey[secret]
	if !ok {
		return
	}
	e.failed = true
	p.logger.Error("key permanently failed", "key", redact(secret))
}

// ReportSuccess clears any cooldown so a healthy key is immediately
// reusable.
func (p *Pool) ReportSuccess(secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byKey[secret]
	if !ok {
		return
	}
	e.availableAt = time.Time{}
	p.logger.Debug("key released", "key", redact(secret))
}

// redact returns the last four characters of a key for logging.
// Full keys never reach the logs.
func redact(secret string) string {
	if len(secret) <= 4 {
		return "...."
	}
	return "..." + secret[len(secret)-4:]
}
