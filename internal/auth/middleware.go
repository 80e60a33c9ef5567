package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware rejects requests without valid credentials. A bearer token in
// the Authorization header is checked as a JWT first and falls back to an API
// key; the x-api-key header is checked as an API key. Missing credentials get
// 401 and rejected ones get 403.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := authenticate(r, service)
			if err != nil {
				switch {
				case errors.Is(err, ErrMissingCredentials):
					writeAuthError(w, http.StatusUnauthorized, "Unauthorized", "missing api key")
				case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidToken):
					logger.Warn("rejected credentials", "path", r.URL.Path, "remote", r.RemoteAddr)
					writeAuthError(w, http.StatusForbidden, "Forbidden", "invalid api key")
				default:
					logger.Error("auth lookup failed", "error", err)
					writeAuthError(w, http.StatusInternalServerError, "StorageFailure", "failed to verify credentials")
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func authenticate(r *http.Request, service *Service) (*Principal, error) {
	if token := extractBearer(r.Header.Get("Authorization")); token != "" {
		if principal, err := service.ValidateJWT(token); err == nil {
			return principal, nil
		}
		return service.ValidateAPIKey(r.Context(), token)
	}
	if key := extractAPIKey(r.Header); key != "" {
		return service.ValidateAPIKey(r.Context(), key)
	}
	return nil, ErrMissingCredentials
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func extractAPIKey(header http.Header) string {
	for _, name := range []string{"X-API-Key", "Api-Key"} {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			return value
		}
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, kind, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": kind, "detail": detail})
}
