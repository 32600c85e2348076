package handler

import (
	"net/http"

	"saferide-backend/internal/middleware"
	"saferide-backend/internal/service"
	"saferide-backend/pkg/apierror"
)

type AdminHandler struct {
	service *service.AuthService
}

func NewAdminHandler(service *service.AuthService) *AdminHandler {
	return &AdminHandler{service: service}
}

func (h *AdminHandler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apierror.New("UNAUTHORIZED", "authentication required", "", http.StatusUnauthorized))
		return
	}

	count, err := h.service.ActiveSessionCount(r.Context(), principal, middleware.ClientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"activeSessions": count}, nil)
}

func (h *AdminHandler) SweepSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apierror.New("UNAUTHORIZED", "authentication required", "", http.StatusUnauthorized))
		return
	}

	removed, err := h.service.SweepExpired(r.Context(), principal, middleware.ClientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"removed": removed}, nil)
}
