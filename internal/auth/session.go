package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Session binds a principal to its current token pair.
type Session struct {
	PrincipalID  string    `json:"principal_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
}

// SessionRegistry keeps one session per principal in memory. A session is
// never returned once it is older than the refresh lifetime, whatever its
// active flag says.
type SessionRegistry struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	refreshTTL time.Duration
	now        func() time.Time
}

func NewSessionRegistry(refreshTTL time.Duration) *SessionRegistry {
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}

	return &SessionRegistry{
		sessions:   map[string]*Session{},
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock replaces the registry's time source. Used by tests.
func (r *SessionRegistry) WithClock(now func() time.Time) *SessionRegistry {
	r.now = now
	return r
}

// Create stores a fresh session for principalID, replacing any previous one.
func (r *SessionRegistry) Create(principalID string, accessToken string, refreshToken string) Session {
	now := r.now().UTC()
	session := &Session{
		PrincipalID:  principalID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}

	r.mu.Lock()
	r.sessions[principalID] = session
	r.mu.Unlock()

	return *session
}

// Get returns the live session for principalID and bumps its activity time.
func (r *SessionRegistry) Get(principalID string) (Session, bool) {
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.liveLocked(principalID, now)
	if !ok {
		return Session{}, false
	}

	session.LastActivity = now
	return *session, true
}

// Refresh swaps the stored access token. The refresh token and creation time
// are kept.
func (r *SessionRegistry) Refresh(principalID string, accessToken string) (Session, bool) {
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.liveLocked(principalID, now)
	if !ok {
		return Session{}, false
	}

	session.AccessToken = accessToken
	session.LastActivity = now
	return *session, true
}

// Invalidate marks the principal's session inactive and reports whether one
// existed.
func (r *SessionRegistry) Invalidate(principalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[principalID]
	if !ok {
		return false
	}

	session.Active = false
	return true
}

// SweepExpired drops every session created more than the refresh lifetime
// before now and returns how many were removed.
func (r *SessionRegistry) SweepExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, session := range r.sessions {
		if r.agedOut(session, now) {
			delete(r.sessions, id)
			removed++
		}
	}

	return removed
}

// ActiveCount returns the number of live sessions.
func (r *SessionRegistry) ActiveCount() int {
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, session := range r.sessions {
		if session.Active && !r.agedOut(session, now) {
			count++
		}
	}

	return count
}

// StartSweeper runs SweepExpired on a regular interval until ctx is cancelled.
func (r *SessionRegistry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.SweepExpired(r.now().UTC()); removed > 0 {
				slog.Info("expired sessions swept", "removed", removed)
			}
		}
	}
}

func (r *SessionRegistry) liveLocked(principalID string, now time.Time) (*Session, bool) {
	session, ok := r.sessions[principalID]
	if !ok || !session.Active || r.agedOut(session, now) {
		return nil, false
	}
	return session, true
}

func (r *SessionRegistry) agedOut(session *Session, now time.Time) bool {
	return now.Sub(session.CreatedAt) > r.refreshTTL
}
