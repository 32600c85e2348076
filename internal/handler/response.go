package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"saferide-backend/internal/auth"
	"saferide-backend/internal/model"
	"saferide-backend/internal/observability"
	"saferide-backend/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	var authErr *auth.Error
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	} else if errors.As(err, &authErr) {
		switch authErr.Kind {
		case auth.KindAuthentication:
			status = http.StatusUnauthorized
			body.Code = "UNAUTHORIZED"
			body.Message = authErr.Message
		case auth.KindAuthorization:
			status = http.StatusForbidden
			body.Code = "FORBIDDEN"
			body.Message = "Insufficient permissions"
			body.Details = authErr.Required
		case auth.KindTooManyAttempts:
			seconds := int(math.Ceil(authErr.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			status = http.StatusTooManyRequests
			body.Code = "TOO_MANY_ATTEMPTS"
			body.Message = "Too many failed login attempts. Please try again later."
			body.RetryAfterSeconds = seconds
		case auth.KindNotFound:
			status = http.StatusNotFound
			body.Code = "NOT_FOUND"
			body.Message = authErr.Message
		default:
			reportInternal(err)
		}
	} else if errors.Is(err, model.ErrUserNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "User not found"
	} else if errors.Is(err, model.ErrInvalidInput) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid input"
	} else {
		reportInternal(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

// reportInternal records failures whose detail must not reach the client.
func reportInternal(err error) {
	slog.Error("unhandled error in writeError", "error", err.Error())
	observability.CaptureError(err, nil)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierror.BadRequest("invalid JSON body", "")
	}
	return nil
}

func parseIntOrDefault(raw string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}
