package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"saferide-backend/internal/model"
)

// Timeout bounds every API request so slow store or hashing calls release
// the connection. The body matches the error envelope used everywhere else.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	message, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: "REQUEST_TIMEOUT", Message: "request timed out"},
	})

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(message))
	}
}
