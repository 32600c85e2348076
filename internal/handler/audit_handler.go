package handler

import (
	"net/http"
	"strings"

	"saferide-backend/internal/model"
	"saferide-backend/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	items, meta, err := h.service.Query(r.Context(), model.AuditQuery{
		Action:      strings.TrimSpace(query.Get("action")),
		PrincipalID: strings.TrimSpace(query.Get("principal_id")),
		Outcome:     strings.TrimSpace(query.Get("outcome")),
		Source:      strings.TrimSpace(query.Get("source")),
		From:        strings.TrimSpace(query.Get("from")),
		To:          strings.TrimSpace(query.Get("to")),
		Page:        parseIntOrDefault(query.Get("page"), 1),
		Limit:       parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.AuditListData{Items: items}, &meta)
}
