package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 300 * time.Second

	lockoutGCThreshold = 1000
)

// Guard tracks failed authentication attempts per source (usually the client
// IP) and locks the source out once a threshold is reached.
//
// Begin reserves an attempt before the credentials are checked. Failures plus
// reserved attempts never exceed the threshold, so concurrent guesses cannot
// all slip past the lock check. Every granted reservation must be settled by
// exactly one of RecordFailure, RecordSuccess or Release.
type Guard interface {
	IsLocked(ctx context.Context, source string) (bool, error)
	Begin(ctx context.Context, source string) (bool, error)
	RecordFailure(ctx context.Context, source string) error
	RecordSuccess(ctx context.Context, source string) error
	Release(ctx context.Context, source string) error
	LockoutDuration() time.Duration
}

type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

func (c LockoutConfig) withDefaults() LockoutConfig {
	if c.Threshold <= 0 {
		c.Threshold = DefaultLockoutThreshold
	}
	if c.Duration <= 0 {
		c.Duration = DefaultLockoutDuration
	}
	return c
}

type lockoutRecord struct {
	failures    int
	inFlight    int
	lastFailure time.Time
	lockedUntil time.Time
}

// MemoryGuard is the single-process Guard. Failures below the threshold age
// out one lockout window after the last failure.
type MemoryGuard struct {
	config  LockoutConfig
	mu      sync.Mutex
	records map[string]*lockoutRecord
	now     func() time.Time
}

func NewMemoryGuard(cfg LockoutConfig) *MemoryGuard {
	return &MemoryGuard{
		config:  cfg.withDefaults(),
		records: map[string]*lockoutRecord{},
		now:     time.Now,
	}
}

// WithClock replaces the guard's time source. Used by tests.
func (g *MemoryGuard) WithClock(now func() time.Time) *MemoryGuard {
	g.now = now
	return g
}

func (g *MemoryGuard) LockoutDuration() time.Duration {
	return g.config.Duration
}

// IsLocked reports whether a lock is in force.
func (g *MemoryGuard) IsLocked(_ context.Context, source string) (bool, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	record := g.currentLocked(source, now)
	return record != nil && !record.lockedUntil.IsZero(), nil
}

// Begin reserves an attempt for source. It refuses while the source is locked
// or while failures plus reserved attempts have reached the threshold.
func (g *MemoryGuard) Begin(_ context.Context, source string) (bool, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	record := g.currentLocked(source, now)
	if record == nil {
		record = &lockoutRecord{}
		g.records[source] = record
	}
	if !record.lockedUntil.IsZero() || record.failures+record.inFlight >= g.config.Threshold {
		return false, nil
	}

	record.inFlight++
	return true, nil
}

// RecordFailure settles a reservation as a failure and locks the source when
// the counter reaches the threshold.
func (g *MemoryGuard) RecordFailure(_ context.Context, source string) error {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	record := g.currentLocked(source, now)
	if record == nil {
		record = &lockoutRecord{}
		g.records[source] = record
	}

	if record.inFlight > 0 {
		record.inFlight--
	}
	record.failures++
	record.lastFailure = now
	if record.failures >= g.config.Threshold && record.lockedUntil.IsZero() {
		record.lockedUntil = now.Add(g.config.Duration)
		slog.Warn("source locked after repeated authentication failures",
			"source", source, "failures", record.failures, "locked_until", record.lockedUntil)
	}

	g.gcLocked(now)
	return nil
}

// RecordSuccess settles a reservation and clears the counter and any lock.
func (g *MemoryGuard) RecordSuccess(_ context.Context, source string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.records[source]
	if !ok {
		return nil
	}
	if record.inFlight > 0 {
		record.inFlight--
	}
	record.failures = 0
	record.lockedUntil = time.Time{}
	if record.inFlight == 0 {
		delete(g.records, source)
	}
	return nil
}

// Release gives a reservation back without counting it, for attempts that
// ended on a store error rather than a verdict.
func (g *MemoryGuard) Release(_ context.Context, source string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.records[source]
	if !ok {
		return nil
	}
	if record.inFlight > 0 {
		record.inFlight--
	}
	if record.inFlight == 0 && record.failures == 0 && record.lockedUntil.IsZero() {
		delete(g.records, source)
	}
	return nil
}

// currentLocked returns the record for source after dropping an expired lock
// or failures older than the lockout window. Callers hold g.mu.
func (g *MemoryGuard) currentLocked(source string, now time.Time) *lockoutRecord {
	record, ok := g.records[source]
	if !ok {
		return nil
	}

	if g.expired(record, now) {
		record.failures = 0
		record.lockedUntil = time.Time{}
		record.lastFailure = time.Time{}
		if record.inFlight == 0 {
			delete(g.records, source)
			return nil
		}
	}
	return record
}

func (g *MemoryGuard) expired(record *lockoutRecord, now time.Time) bool {
	if !record.lockedUntil.IsZero() {
		return !now.Before(record.lockedUntil)
	}
	return record.failures > 0 && !now.Before(record.lastFailure.Add(g.config.Duration))
}

func (g *MemoryGuard) gcLocked(now time.Time) {
	if len(g.records) < lockoutGCThreshold {
		return
	}

	for source, record := range g.records {
		if record.inFlight == 0 && g.expired(record, now) {
			delete(g.records, source)
		}
	}
}
