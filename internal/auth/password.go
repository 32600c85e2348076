package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const DefaultBcryptCost = 12

// PasswordHasher hashes and verifies secrets with bcrypt. Every bcrypt call
// holds a slot of a bounded worker pool so a burst of logins cannot use every
// CPU at once.
type PasswordHasher struct {
	cost    int
	workers *semaphore.Weighted
	// dummy is compared against when an identifier does not exist so the
	// response time matches a wrong-password attempt.
	dummy []byte
}

func NewPasswordHasher(cost int, workers int) (*PasswordHasher, error) {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("saferide-timing-equalizer"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate timing hash: %w", err)
	}

	return &PasswordHasher{cost: cost, workers: semaphore.NewWeighted(int64(workers)), dummy: dummy}, nil
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *PasswordHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password must not be empty")
	}

	if err := h.workers.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.workers.Release(1)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// Verify reports whether plaintext produced hash. A malformed hash or a
// cancelled context yields false.
func (h *PasswordHasher) Verify(ctx context.Context, plaintext string, hash string) bool {
	if hash == "" {
		return false
	}

	if err := h.workers.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.workers.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// EqualizeTiming burns one bcrypt comparison for a login whose identifier
// did not resolve to an account.
func (h *PasswordHasher) EqualizeTiming(ctx context.Context, plaintext string) {
	if err := h.workers.Acquire(ctx, 1); err != nil {
		return
	}
	defer h.workers.Release(1)

	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}
