// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package web

import (
	"encoding/json"
	"net/http"

	"github.com/wardenauth/warden/internal/auth"
	"github.com/wardenauth/warden/pkg/errutil"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error       string           `json:"error"`
	Description string           `json:"error_description"`
	Field       string           `json:"field,omitempty"`
	Violations  []auth.Violation `json:"violations,omitempty"`
}

const (
	codeBadRequest = "BAD_REQUEST"
	codeInternal   = "INTERNAL"
	msgInternal    = "internal error"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are sent; an encode failure cannot change the response.
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // see above
}

// statusFor maps an auth error kind to an HTTP status.
func statusFor(err error) int {
	switch auth.ErrorKind(err) {
	case auth.CodeInvalidCredentials, auth.CodeSessionExpired:
		return http.StatusUnauthorized
	case auth.CodeAccountInactive:
		return http.StatusForbidden
	case auth.CodeAccountLocked:
		return http.StatusLocked
	case auth.CodeValidationFailed:
		return http.StatusBadRequest
	case auth.CodeConflict:
		return http.StatusConflict
	case auth.CodeNotFound:
		return http.StatusNotFound
	case auth.CodeRateLimited:
		return http.StatusTooManyRequests
	case auth.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case auth.CodeAccessDenied:
		if reason, _ := auth.ErrorContext(err, "reason"); reason == auth.ReasonForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err using only its public message. Server-side
// failures are logged with full detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{
		Error:       auth.ErrorKind(err),
		Description: auth.PublicMessage(err),
	}
	if status == http.StatusInternalServerError {
		body = errorBody{Error: codeInternal, Description: msgInternal}
	}
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), h.logger, "request failed", err,
			"method", r.Method,
			"path", r.URL.Path)
	}
	if body.Error == auth.CodeValidationFailed {
		if field, ok := auth.ErrorContext(err, "field"); ok {
			body.Field, _ = field.(string)
		}
		body.Violations = auth.Violations(err)
	}
	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: codeBadRequest, Description: msg})
}
