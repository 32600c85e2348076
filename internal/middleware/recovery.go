package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"saferide-backend/internal/model"
	"saferide-backend/internal/observability"
)

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				stack := debug.Stack()
				slog.Error("panic recovered", "error", fmt.Sprintf("%v", recovered), "path", r.URL.Path, "stack", string(stack))
				observability.CapturePanic(recovered, stack, map[string]string{"method": r.Method, "path": r.URL.Path})

				writeJSONError(w, http.StatusInternalServerError, &model.APIError{
					Code:    "INTERNAL_ERROR",
					Message: "Unexpected server error",
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}
