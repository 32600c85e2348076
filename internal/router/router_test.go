package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"saferide-backend/internal/auth"
	"saferide-backend/internal/config"
	"saferide-backend/internal/handler"
	"saferide-backend/internal/middleware"
	"saferide-backend/internal/model"
	"saferide-backend/internal/service"
)

type stubAccounts struct {
	mu       sync.Mutex
	accounts []model.Account
}

func (s *stubAccounts) FindByIdentifier(_ context.Context, identifier string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, identifier) {
			return a, nil
		}
	}
	return model.Account{}, model.ErrUserNotFound
}

func (s *stubAccounts) FindByID(_ context.Context, id string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return model.Account{}, model.ErrUserNotFound
}

func (s *stubAccounts) RecordLastLogin(context.Context, string, time.Time) error { return nil }

type stubRoles map[string][]model.Role

func (s stubRoles) RolesOf(_ context.Context, id string) ([]model.Role, error) { return s[id], nil }

type stubAuditStore struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (s *stubAuditStore) Append(_ context.Context, e model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *stubAuditStore) Query(_ context.Context, q model.AuditQuery) ([]model.AuditEvent, model.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]model.AuditEvent, 0, len(s.events))
	for _, e := range s.events {
		if q.Action == "" || e.Action == q.Action {
			items = append(items, e)
		}
	}
	return items, model.Meta{Page: 1, Limit: 50, Total: len(items), TotalPages: 1}, nil
}

func newTestServer(t *testing.T, configure ...func(*config.Config)) http.Handler {
	t.Helper()

	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)
	hash, err := hasher.Hash(context.Background(), "s3cret-pass")
	require.NoError(t, err)

	accounts := &stubAccounts{accounts: []model.Account{
		{ID: "admin-1", Email: "admin@saferide.test", PasswordHash: hash, IsActive: true},
		{ID: "rider-1", Email: "rider@saferide.test", PasswordHash: hash, IsActive: true},
	}}
	roles := stubRoles{
		"admin-1": {{Name: "admin", Permissions: []model.Permission{{Name: "all", Resource: "*", Action: "*"}}}},
		"rider-1": {{Name: "rider", Permissions: []model.Permission{{Name: "view_rides", Resource: "rides", Action: "view"}}}},
	}

	tokens, err := auth.NewTokenIssuer("router-test-secret-that-is-32-bytes!", 30*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)

	auditService := service.NewAuditService(&stubAuditStore{})
	authService, err := service.NewAuthService(service.AuthDeps{
		Credentials: accounts,
		Hasher:      hasher,
		Tokens:      tokens,
		Sessions:    auth.NewSessionRegistry(7 * 24 * time.Hour),
		Guard:       auth.NewMemoryGuard(auth.LockoutConfig{Threshold: 2, Duration: 5 * time.Minute}),
		Resolver:    auth.NewResolver(roles),
		Audit:       auditService,
	})
	require.NoError(t, err)

	cfg := &config.Config{
		RequestTimeout:   5 * time.Second,
		RateLimitRPM:     -1,
		AuthRateLimitRPM: 1000,
		CORSOrigins:      []string{"*"},
	}
	for _, fn := range configure {
		fn(cfg)
	}

	return New(cfg, nil,
		middleware.NewAuthMiddleware(authService),
		handler.NewAuthHandler(authService, false),
		handler.NewAdminHandler(authService),
		handler.NewAuditHandler(auditService),
	)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

func do(t *testing.T, h http.Handler, method string, path string, body any, token string, remoteIP string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if remoteIP != "" {
		req.RemoteAddr = remoteIP + ":40000"
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func login(t *testing.T, h http.Handler, email string) model.LoginResult {
	t.Helper()
	rec, env := do(t, h, http.MethodPost, "/api/v1/auth/login",
		model.LoginRequest{Identifier: email, Secret: "s3cret-pass"}, "", "192.0.2.10")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.LoginResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	return result
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthReportsStoreOutage(t *testing.T) {
	h := New(&config.Config{RequestTimeout: time.Second, RateLimitRPM: -1},
		func(context.Context) error { return errors.New("pool closed") },
		nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoginFlow(t *testing.T) {
	h := newTestServer(t)

	rec, env := do(t, h, http.MethodPost, "/api/v1/auth/login",
		model.LoginRequest{Identifier: "rider@saferide.test", Secret: "s3cret-pass"}, "", "192.0.2.10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var result model.LoginResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "bearer", result.TokenType)
	assert.Equal(t, []string{"rider"}, result.Principal.Roles)

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, "access_token")
	assert.True(t, cookies["access_token"].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies["access_token"].SameSite)
	assert.Equal(t, 1800, cookies["access_token"].MaxAge)
	require.Contains(t, cookies, "refresh_token")

	rec, env = do(t, h, http.MethodGet, "/api/v1/auth/me", nil, result.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var me model.MeResponse
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "rider-1", me.Principal.ID)
	assert.Equal(t, []string{"view_rides"}, me.Permissions)
}

func TestMeWithCookie(t *testing.T) {
	h := newTestServer(t)
	result := login(t, h, "rider@saferide.test")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: result.AccessToken})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginFailuresAndLockout(t *testing.T) {
	h := newTestServer(t)
	bad := model.LoginRequest{Identifier: "rider@saferide.test", Secret: "wrong"}

	rec, env := do(t, h, http.MethodPost, "/api/v1/auth/login", bad, "", "198.51.100.4")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	do(t, h, http.MethodPost, "/api/v1/auth/login", bad, "", "198.51.100.4")

	good := model.LoginRequest{Identifier: "rider@saferide.test", Secret: "s3cret-pass"}
	rec, env = do(t, h, http.MethodPost, "/api/v1/auth/login", good, "", "198.51.100.4")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
	require.NotNil(t, env.Error)
	assert.Equal(t, "TOO_MANY_ATTEMPTS", env.Error.Code)
	assert.Equal(t, 300, env.Error.RetryAfterSeconds)
}

func TestLoginValidation(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing fields go through the same path as a wrong password.
	rec, env := do(t, h, http.MethodPost, "/api/v1/auth/login", model.LoginRequest{Identifier: "x"}, "", "198.51.100.9")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	do(t, h, http.MethodPost, "/api/v1/auth/login", model.LoginRequest{}, "", "198.51.100.9")
	rec, _ = do(t, h, http.MethodPost, "/api/v1/auth/login",
		model.LoginRequest{Identifier: "rider@saferide.test", Secret: "s3cret-pass"}, "", "198.51.100.9")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func loginFrom(t *testing.T, h http.Handler, remoteAddr string, forwardedFor string, secret string) int {
	t.Helper()

	raw, err := json.Marshal(model.LoginRequest{Identifier: "rider@saferide.test", Secret: secret})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLockoutIgnoresSpoofedForwardedFor(t *testing.T) {
	h := newTestServer(t)

	for i := 0; i < 20; i++ {
		code := loginFrom(t, h, "10.0.0.5:4444", fmt.Sprintf("203.0.113.%d", i+1), "wrong")
		if i < 2 {
			assert.Equal(t, http.StatusUnauthorized, code, "attempt %d", i+1)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, code, "attempt %d", i+1)
		}
	}

	assert.Equal(t, http.StatusTooManyRequests, loginFrom(t, h, "10.0.0.5:4444", "203.0.113.200", "s3cret-pass"))
}

func TestLockoutBehindTrustedProxy(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	})

	assert.Equal(t, http.StatusUnauthorized, loginFrom(t, h, "10.0.0.5:4444", "203.0.113.7", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, loginFrom(t, h, "10.0.0.5:4444", "203.0.113.7", "wrong"))
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(t, h, "10.0.0.5:4444", "203.0.113.7", "s3cret-pass"))

	// Another client behind the same proxy is not affected.
	assert.Equal(t, http.StatusOK, loginFrom(t, h, "10.0.0.5:4444", "203.0.113.8", "s3cret-pass"))
}

func TestRefreshAndLogout(t *testing.T) {
	h := newTestServer(t)
	result := login(t, h, "rider@saferide.test")

	rec, env := do(t, h, http.MethodPost, "/api/v1/auth/refresh", model.RefreshRequest{RefreshToken: result.RefreshToken}, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refreshed model.RefreshResult
	require.NoError(t, json.Unmarshal(env.Data, &refreshed))
	assert.NotEqual(t, result.AccessToken, refreshed.AccessToken)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/auth/logout", nil, refreshed.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
	}

	// The token still verifies but the session is gone.
	rec, _ = do(t, h, http.MethodGet, "/api/v1/auth/me", nil, refreshed.AccessToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/auth/refresh", model.RefreshRequest{RefreshToken: result.RefreshToken}, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshFromCookie(t *testing.T) {
	h := newTestServer(t)
	result := login(t, h, "rider@saferide.test")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: result.RefreshToken})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = do(t, h, http.MethodPost, "/api/v1/auth/refresh", nil, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutes(t *testing.T) {
	h := newTestServer(t)

	rec, _ := do(t, h, http.MethodGet, "/api/v1/auth/me", nil, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/auth/me", nil, "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rider := login(t, h, "rider@saferide.test")
	rec, env := do(t, h, http.MethodGet, "/api/v1/admin/sessions", nil, rider.AccessToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "role:admin", env.Error.Details)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/audit", nil, rider.AccessToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := login(t, h, "admin@saferide.test")
	rec, env = do(t, h, http.MethodGet, "/api/v1/admin/sessions", nil, admin.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	assert.Equal(t, 2, sessions["activeSessions"])

	rec, env = do(t, h, http.MethodPost, "/api/v1/admin/sessions/sweep", nil, admin.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var swept map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &swept))
	assert.Zero(t, swept["removed"])

	rec, env = do(t, h, http.MethodGet, "/api/v1/audit?action=authz.denied", nil, admin.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var audit model.AuditListData
	require.NoError(t, json.Unmarshal(env.Data, &audit))
	assert.Len(t, audit.Items, 2)
}

func TestSecondLoginReplacesSession(t *testing.T) {
	h := newTestServer(t)
	first := login(t, h, "rider@saferide.test")
	second := login(t, h, "rider@saferide.test")

	rec, _ := do(t, h, http.MethodPost, "/api/v1/auth/refresh", model.RefreshRequest{RefreshToken: first.RefreshToken}, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/auth/refresh", model.RefreshRequest{RefreshToken: second.RefreshToken}, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
