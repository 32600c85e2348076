package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"saferide-backend/internal/auth"
	"saferide-backend/internal/model"
)

const tokenTypeBearer = "bearer"

// CredentialStore is the account lookup the auth flows depend on.
type CredentialStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (model.Account, error)
	FindByID(ctx context.Context, id string) (model.Account, error)
	RecordLastLogin(ctx context.Context, id string, at time.Time) error
}

type AuditSink interface {
	Append(ctx context.Context, event model.AuditEvent) error
}

type Credentials struct {
	Identifier string
	Secret     string
}

type AuthDeps struct {
	Credentials CredentialStore
	Hasher      *auth.PasswordHasher
	Tokens      *auth.TokenIssuer
	Sessions    *auth.SessionRegistry
	Guard       auth.Guard
	Resolver    *auth.Resolver
	Audit       AuditSink
}

// AuthService composes the auth components into the operations the route
// layer calls.
type AuthService struct {
	credentials CredentialStore
	hasher      *auth.PasswordHasher
	tokens      *auth.TokenIssuer
	sessions    *auth.SessionRegistry
	guard       auth.Guard
	resolver    *auth.Resolver
	audit       AuditSink
	now         func() time.Time
}

func NewAuthService(deps AuthDeps) (*AuthService, error) {
	switch {
	case deps.Credentials == nil:
		return nil, errors.New("credential store is required")
	case deps.Hasher == nil:
		return nil, errors.New("password hasher is required")
	case deps.Tokens == nil:
		return nil, errors.New("token issuer is required")
	case deps.Sessions == nil:
		return nil, errors.New("session registry is required")
	case deps.Guard == nil:
		return nil, errors.New("brute-force guard is required")
	case deps.Resolver == nil:
		return nil, errors.New("authorization resolver is required")
	case deps.Audit == nil:
		return nil, errors.New("audit sink is required")
	}

	return &AuthService{
		credentials: deps.Credentials,
		hasher:      deps.Hasher,
		tokens:      deps.Tokens,
		sessions:    deps.Sessions,
		guard:       deps.Guard,
		resolver:    deps.Resolver,
		audit:       deps.Audit,
		now:         time.Now,
	}, nil
}

// WithClock replaces the service's time source. Used by tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

func (s *AuthService) AccessTTL() time.Duration  { return s.tokens.AccessTTL() }
func (s *AuthService) RefreshTTL() time.Duration { return s.tokens.RefreshTTL() }

func (s *AuthService) Authenticate(ctx context.Context, creds Credentials, source string) (model.LoginResult, error) {
	identifier := strings.ToLower(strings.TrimSpace(creds.Identifier))

	allowed, err := s.guard.Begin(ctx, source)
	if err != nil {
		s.recordAudit(ctx, model.AuditEvent{Action: model.AuditActionLogin, Detail: "lockout check failed", Source: source, Outcome: model.AuditOutcomeFailure})
		return model.LoginResult{}, asStoreError("check lockout", err)
	}
	if !allowed {
		s.recordAudit(ctx, model.AuditEvent{Action: model.AuditActionLogin, Detail: "source locked", Source: source, Outcome: model.AuditOutcomeFailure})
		return model.LoginResult{}, auth.TooManyAttemptsError(s.guard.LockoutDuration())
	}

	if identifier == "" || creds.Secret == "" {
		return model.LoginResult{}, s.failLogin(ctx, "", source, "missing credentials", invalidCredentials())
	}

	account, err := s.credentials.FindByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, model.ErrUserNotFound) {
			s.releaseAttempt(ctx, source)
			s.recordAudit(ctx, model.AuditEvent{Action: model.AuditActionLogin, Detail: "credential lookup failed", Source: source, Outcome: model.AuditOutcomeFailure})
			return model.LoginResult{}, auth.StoreError("find account", err)
		}
		s.hasher.EqualizeTiming(ctx, creds.Secret)
		return model.LoginResult{}, s.failLogin(ctx, "", source, "unknown identifier", invalidCredentials())
	}

	if !s.hasher.Verify(ctx, creds.Secret, account.PasswordHash) {
		return model.LoginResult{}, s.failLogin(ctx, account.ID, source, "password mismatch", invalidCredentials())
	}

	if !account.IsActive {
		return model.LoginResult{}, s.failLogin(ctx, account.ID, source, "account inactive", auth.AuthenticationError("account inactive", nil))
	}

	if err := s.guard.RecordSuccess(ctx, source); err != nil {
		slog.Warn("clear lockout after successful login failed", "source", source, "error", err)
	}

	roles, err := s.resolver.Roles(ctx, account.ID)
	if err != nil {
		s.recordAudit(ctx, model.AuditEvent{PrincipalID: account.ID, Action: model.AuditActionLogin, Detail: "role lookup failed", Source: source, Outcome: model.AuditOutcomeFailure})
		return model.LoginResult{}, err
	}

	accessToken, err := s.tokens.IssueAccess(account.ID)
	if err != nil {
		return model.LoginResult{}, err
	}
	refreshToken, err := s.tokens.IssueRefresh(account.ID)
	if err != nil {
		return model.LoginResult{}, err
	}

	s.sessions.Create(account.ID, accessToken, refreshToken)

	loginAt := s.now().UTC()
	if err := s.credentials.RecordLastLogin(ctx, account.ID, loginAt); err != nil {
		slog.Warn("record last login failed", "principal_id", account.ID, "error", err)
	} else {
		account.LastLogin = &loginAt
	}

	s.recordAudit(ctx, model.AuditEvent{PrincipalID: account.ID, Action: model.AuditActionLogin, Source: source, Outcome: model.AuditOutcomeSuccess})
	slog.Info("login succeeded", "principal_id", account.ID, "source", source)

	return model.LoginResult{
		AccessToken:       accessToken,
		RefreshToken:      refreshToken,
		TokenType:         tokenTypeBearer,
		AccessTTLSeconds:  int64(s.tokens.AccessTTL().Seconds()),
		RefreshTTLSeconds: int64(s.tokens.RefreshTTL().Seconds()),
		Principal:         model.NewPrincipal(account, roles),
	}, nil
}

// RefreshAccess issues a new access token for a live session. The refresh
// token must be the one stored on the session; a token superseded by a later
// login is rejected.
func (s *AuthService) RefreshAccess(ctx context.Context, refreshToken string, source string) (model.RefreshResult, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return model.RefreshResult{}, s.failRefresh(ctx, "", source, "invalid refresh token", auth.AuthenticationError("invalid or expired token", err))
	}

	account, err := s.credentials.FindByID(ctx, claims.Subject)
	if err != nil {
		if !errors.Is(err, model.ErrUserNotFound) {
			return model.RefreshResult{}, s.failRefresh(ctx, claims.Subject, source, "account lookup failed", auth.StoreError("find account", err))
		}
		return model.RefreshResult{}, s.failRefresh(ctx, claims.Subject, source, "account not found", auth.AuthenticationError("invalid or expired token", nil))
	}
	if !account.IsActive {
		return model.RefreshResult{}, s.failRefresh(ctx, account.ID, source, "account inactive", auth.AuthenticationError("account inactive", nil))
	}

	session, ok := s.sessions.Get(account.ID)
	if !ok || subtle.ConstantTimeCompare([]byte(session.RefreshToken), []byte(refreshToken)) != 1 {
		return model.RefreshResult{}, s.failRefresh(ctx, account.ID, source, "session mismatch", auth.AuthenticationError("invalid session", nil))
	}

	accessToken, err := s.tokens.IssueAccess(account.ID)
	if err != nil {
		return model.RefreshResult{}, err
	}

	if _, ok := s.sessions.Refresh(account.ID, accessToken); !ok {
		return model.RefreshResult{}, s.failRefresh(ctx, account.ID, source, "session ended during refresh", auth.AuthenticationError("invalid session", nil))
	}

	s.recordAudit(ctx, model.AuditEvent{PrincipalID: account.ID, Action: model.AuditActionRefresh, Source: source, Outcome: model.AuditOutcomeSuccess})

	return model.RefreshResult{
		AccessToken:      accessToken,
		TokenType:        tokenTypeBearer,
		AccessTTLSeconds: int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Logout ends the principal's session. Logging out without a session is not
// an error.
func (s *AuthService) Logout(ctx context.Context, principalID string, source string) error {
	existed := s.sessions.Invalidate(principalID)

	detail := ""
	if !existed {
		detail = "no active session"
	}
	s.recordAudit(ctx, model.AuditEvent{PrincipalID: principalID, Action: model.AuditActionLogout, Detail: detail, Source: source, Outcome: model.AuditOutcomeSuccess})

	return nil
}

// ResolvePrincipal validates an access token and loads the account behind it.
// It does not consult the session registry; see RequireSession. Every
// rejection is audited against source.
func (s *AuthService) ResolvePrincipal(ctx context.Context, accessToken string, source string) (model.Principal, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return model.Principal{}, s.failAccess(ctx, "", source, "invalid access token", auth.AuthenticationError("invalid or expired token", err))
	}

	account, err := s.credentials.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.Principal{}, s.failAccess(ctx, claims.Subject, source, "account not found", auth.AuthenticationError("invalid or expired token", nil))
		}
		return model.Principal{}, s.failAccess(ctx, claims.Subject, source, "account lookup failed", auth.StoreError("find account", err))
	}
	if !account.IsActive {
		return model.Principal{}, s.failAccess(ctx, account.ID, source, "account inactive", auth.AuthenticationError("account inactive", nil))
	}

	roles, err := s.resolver.Roles(ctx, account.ID)
	if err != nil {
		return model.Principal{}, s.failAccess(ctx, account.ID, source, "role lookup failed", err)
	}

	return model.NewPrincipal(account, roles), nil
}

// SessionActive reports whether the principal still holds a live session.
func (s *AuthService) SessionActive(principalID string) bool {
	_, ok := s.sessions.Get(principalID)
	return ok
}

// RequireSession rejects a principal whose session was logged out, replaced
// or swept, auditing the rejection against source.
func (s *AuthService) RequireSession(ctx context.Context, principalID string, source string) error {
	if s.SessionActive(principalID) {
		return nil
	}
	return s.failAccess(ctx, principalID, source, "session inactive", auth.AuthenticationError("session is no longer active", nil))
}

func (s *AuthService) RequireRole(ctx context.Context, principal model.Principal, role string, source string) error {
	return s.Authorize(ctx, principal, "", source, auth.RoleRequired(role))
}

func (s *AuthService) RequirePermission(ctx context.Context, principal model.Principal, permission string, source string) error {
	return s.Authorize(ctx, principal, "", source, auth.PermissionRequired(permission))
}

// Authorize checks every policy and audits a denial or a failed lookup
// against resource and source.
func (s *AuthService) Authorize(ctx context.Context, principal model.Principal, resource string, source string, policies ...auth.Policy) error {
	err := s.resolver.Check(ctx, principal, policies...)
	if err == nil {
		return nil
	}

	detail := "authorization lookup failed"
	var authErr *auth.Error
	if errors.Is(err, auth.ErrAuthorization) && errors.As(err, &authErr) {
		detail = "requires " + authErr.Required
	}

	s.recordAudit(ctx, model.AuditEvent{
		PrincipalID: principal.ID,
		Action:      model.AuditActionDenied,
		Resource:    resource,
		Detail:      detail,
		Source:      source,
		Outcome:     model.AuditOutcomeFailure,
	})

	return err
}

// Permissions lists the principal's permission names.
func (s *AuthService) Permissions(ctx context.Context, principal model.Principal) ([]string, error) {
	set, err := s.resolver.PermissionsOf(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	return set.Names(), nil
}

func (s *AuthService) ActiveSessionCount(ctx context.Context, principal model.Principal, source string) (int, error) {
	if err := s.Authorize(ctx, principal, "sessions", source, auth.RoleRequired("admin")); err != nil {
		return 0, err
	}
	return s.sessions.ActiveCount(), nil
}

func (s *AuthService) SweepExpired(ctx context.Context, principal model.Principal, source string) (int, error) {
	if err := s.Authorize(ctx, principal, "sessions", source, auth.RoleRequired("admin")); err != nil {
		return 0, err
	}

	removed := s.sessions.SweepExpired(s.now().UTC())
	s.recordAudit(ctx, model.AuditEvent{
		PrincipalID: principal.ID,
		Action:      model.AuditActionSweep,
		Resource:    "sessions",
		Source:      source,
		Outcome:     model.AuditOutcomeSuccess,
	})

	return removed, nil
}

func (s *AuthService) failLogin(ctx context.Context, principalID string, source string, detail string, cause error) error {
	if err := s.guard.RecordFailure(ctx, source); err != nil {
		slog.Error("record authentication failure", "source", source, "error", err)
	}

	s.recordAudit(ctx, model.AuditEvent{
		PrincipalID: principalID,
		Action:      model.AuditActionLogin,
		Detail:      detail,
		Source:      source,
		Outcome:     model.AuditOutcomeFailure,
	})
	slog.Warn("login failed", "source", source, "reason", detail)

	return cause
}

func (s *AuthService) failAccess(ctx context.Context, principalID string, source string, detail string, cause error) error {
	s.recordAudit(ctx, model.AuditEvent{
		PrincipalID: principalID,
		Action:      model.AuditActionAccess,
		Detail:      detail,
		Source:      source,
		Outcome:     model.AuditOutcomeFailure,
	})
	return cause
}

func (s *AuthService) failRefresh(ctx context.Context, principalID string, source string, detail string, cause error) error {
	s.recordAudit(ctx, model.AuditEvent{
		PrincipalID: principalID,
		Action:      model.AuditActionRefresh,
		Detail:      detail,
		Source:      source,
		Outcome:     model.AuditOutcomeFailure,
	})
	return cause
}

// releaseAttempt returns a lockout reservation for an attempt that ended
// without a verdict on the credentials.
func (s *AuthService) releaseAttempt(ctx context.Context, source string) {
	if err := s.guard.Release(ctx, source); err != nil {
		slog.Error("release authentication attempt", "source", source, "error", err)
	}
}

// recordAudit never fails the calling flow; a broken sink is logged.
func (s *AuthService) recordAudit(ctx context.Context, event model.AuditEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if event.Resource == "" {
		event.Resource = "auth"
	}

	if err := s.audit.Append(ctx, event); err != nil {
		slog.Error("append audit event", "action", event.Action, "outcome", event.Outcome, "error", err)
	}
}

func invalidCredentials() error {
	return auth.AuthenticationError(model.ErrInvalidCredentials.Error(), nil)
}

func asStoreError(op string, err error) error {
	if auth.KindOf(err) != 0 {
		return err
	}
	return auth.StoreError(op, err)
}
