package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// FailureFunc writes the response for a rejected request.
type FailureFunc func(w http.ResponseWriter, r *http.Request, status int, err error)

// Middleware enforces bearer JWT auth on HTTP handlers. A disabled service
// lets every request through. Verified claims are stored in the request
// context.
func Middleware(service *JWTService, logger *slog.Logger, fail FailureFunc) func(http.Handler) http.Handler {
	if fail == nil {
		fail = func(w http.ResponseWriter, _ *http.Request, status int, err error) {
			http.Error(w, err.Error(), status)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			token := extractBearer(r.Header)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="adpilot"`)
				fail(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			claims, err := service.Validate(token)
			if err != nil {
				if logger != nil {
					logger.Warn("jwt validation failed", "error", err, "remote", r.RemoteAddr)
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="adpilot", error="invalid_token"`)
				fail(w, r, http.StatusUnauthorized, ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func extractBearer(h http.Header) string {
	for _, value := range h.Values("Authorization") {
		if len(value) > len("bearer ") && strings.EqualFold(value[:len("bearer ")], "bearer ") {
			return strings.TrimSpace(value[len("bearer "):])
		}
	}
	return ""
}
