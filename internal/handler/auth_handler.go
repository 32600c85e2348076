package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"saferide-backend/internal/middleware"
	"saferide-backend/internal/model"
	"saferide-backend/internal/service"
	"saferide-backend/pkg/apierror"
)

const refreshTokenCookie = "refresh_token"

type AuthHandler struct {
	service      *service.AuthService
	cookieSecure bool
}

func NewAuthHandler(service *service.AuthService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{service: service, cookieSecure: cookieSecure}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Authenticate(r.Context(), service.Credentials{
		Identifier: payload.Identifier,
		Secret:     payload.Secret,
	}, middleware.ClientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, middleware.AccessTokenCookie, result.AccessToken, h.service.AccessTTL())
	h.setTokenCookie(w, refreshTokenCookie, result.RefreshToken, h.service.RefreshTTL())
	writeSuccess(w, http.StatusOK, result, nil)
}

// Refresh accepts the refresh token from the JSON body or, failing that,
// the refresh_token cookie.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload model.RefreshRequest
	if err := decodeJSON(r, &payload); err != nil {
		var apiErr *apierror.APIError
		if !errors.As(err, &apiErr) || r.ContentLength > 0 {
			writeError(w, err)
			return
		}
	}

	token := strings.TrimSpace(payload.RefreshToken)
	if token == "" {
		if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
			token = strings.TrimSpace(cookie.Value)
		}
	}
	if token == "" {
		writeError(w, apierror.BadRequest("refreshToken is required", "refreshToken"))
		return
	}

	result, err := h.service.RefreshAccess(r.Context(), token, middleware.ClientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, middleware.AccessTokenCookie, result.AccessToken, h.service.AccessTTL())
	writeSuccess(w, http.StatusOK, result, nil)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	_ = r.Body.Close()

	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apierror.New("UNAUTHORIZED", "authentication required", "", http.StatusUnauthorized))
		return
	}

	if err := h.service.Logout(r.Context(), principal.ID, middleware.ClientIP(r)); err != nil {
		writeError(w, err)
		return
	}

	h.clearTokenCookie(w, middleware.AccessTokenCookie)
	h.clearTokenCookie(w, refreshTokenCookie)
	writeSuccess(w, http.StatusOK, map[string]any{"loggedOut": true}, nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apierror.New("UNAUTHORIZED", "authentication required", "", http.StatusUnauthorized))
		return
	}

	permissions, err := h.service.Permissions(r.Context(), principal)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.MeResponse{Principal: principal, Permissions: permissions}, nil)
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, name string, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearTokenCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
