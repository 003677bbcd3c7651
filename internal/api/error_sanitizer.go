package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/pkg/httputil"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
)

var errRouteNotFound = fmt.Errorf("route %w", domain.ErrNotFound)

// statusFor maps the domain error kinds onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrPrecondition):
		return http.StatusPreconditionFailed, "precondition_failed"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrMalformedInput):
		return http.StatusBadRequest, "malformed_input"
	default:
		return http.StatusInternalServerError, ""
	}
}

// writeError sends err as a JSON error envelope. Domain errors keep their
// message; anything else is logged and replaced with a safe public message.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		respondSafeError(w, status, err)
		return
	}
	httputil.ErrorCode(w, status, code, err.Error())
}

// respondSafeError logs the full internal error and sends a sanitized
// message. Database details, hosts and stack traces never reach clients.
func respondSafeError(w http.ResponseWriter, status int, internalErr error) {
	msg := safeErrorMessage(status, internalErr)
	logger.Error("[api] request failed", "status", status, "public", msg, "error", internalErr)
	httputil.Error(w, status, msg)
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
// For 400-level errors, the original message is typically fine (user input issues).
// For 500-level errors, this returns a generic safe message.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}

	if internalErr == nil {
		return "An internal error occurred"
	}

	errStr := strings.ToLower(internalErr.Error())

	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "mongo") ||
		strings.Contains(errStr, "dynamodb") ||
		strings.Contains(errStr, "redis") ||
		strings.Contains(errStr, "transaction") ||
		strings.Contains(errStr, "database"):
		return "A storage error occurred"

	default:
		return "An internal error occurred"
	}
}
