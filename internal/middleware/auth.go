package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"saferide-backend/internal/auth"
	"saferide-backend/internal/model"
	"saferide-backend/internal/observability"
)

const AccessTokenCookie = "access_token"

type principalResolver interface {
	ResolvePrincipal(ctx context.Context, accessToken string, source string) (model.Principal, error)
	RequireSession(ctx context.Context, principalID string, source string) error
	Authorize(ctx context.Context, principal model.Principal, resource string, source string, policies ...auth.Policy) error
}

type contextKey string

const principalContextKey contextKey = "principal"

type AuthMiddleware struct {
	resolver principalResolver
}

func NewAuthMiddleware(resolver principalResolver) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver}
}

// RequireAuth resolves the caller from a bearer token or the access_token
// cookie. A valid token whose session was logged out or replaced is rejected.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := accessTokenFromRequest(r)
		if !ok {
			writeUnauthorized(w, "missing or invalid authorization header")
			return
		}

		source := ClientIP(r)
		principal, err := m.resolver.ResolvePrincipal(r.Context(), token, source)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}

		if err := m.resolver.RequireSession(r.Context(), principal.ID, source); err != nil {
			writeAuthError(w, r, err)
			return
		}

		annotatePrincipal(r.Context(), principal.ID)
		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return m.require(auth.RoleRequired(role))
}

func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return m.require(auth.PermissionRequired(permission))
}

// RequireAny admits the caller when at least one policy holds, e.g.
// RequireAny(auth.RoleRequired("manager"), auth.RoleRequired("admin")).
func (m *AuthMiddleware) RequireAny(policies ...auth.Policy) func(http.Handler) http.Handler {
	return m.require(auth.AnyOf(policies...))
}

func (m *AuthMiddleware) require(policies ...auth.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "authentication required")
				return
			}

			if err := m.resolver.Authorize(r.Context(), principal, r.URL.Path, ClientIP(r), policies...); err != nil {
				writeAuthError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(model.Principal)
	return principal, ok
}

// WithPrincipal stores principal in ctx the way RequireAuth does.
func WithPrincipal(ctx context.Context, principal model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

func accessTokenFromRequest(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
			return "", false
		}
		token := strings.TrimSpace(header[7:])
		return token, token != ""
	}

	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	return strings.TrimSpace(cookie.Value), true
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusUnauthorized, &model.APIError{
		Code:    "UNAUTHORIZED",
		Message: message,
	})
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrAuthentication):
		message := "invalid or expired token"
		var authErr *auth.Error
		if errors.As(err, &authErr) && authErr.Message != "" {
			message = authErr.Message
		}
		writeUnauthorized(w, message)
	case errors.Is(err, auth.ErrAuthorization):
		body := &model.APIError{Code: "FORBIDDEN", Message: "insufficient permissions"}
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			body.Details = authErr.Required
		}
		writeJSONError(w, http.StatusForbidden, body)
	default:
		slog.Error("resolve caller failed", "path", r.URL.Path, "error", err)
		observability.CaptureError(err, map[string]string{"path": r.URL.Path})
		writeJSONError(w, http.StatusInternalServerError, &model.APIError{
			Code:    "INTERNAL_ERROR",
			Message: "Unexpected server error",
		})
	}
}
