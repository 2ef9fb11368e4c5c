package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/querylens/querylens/internal/observability"
)

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// Middleware authenticates requests by X-API-Key or a bearer token and stores
// the resolved Identity in the request context.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := credentialFromRequest(r)
			if apiKey == "" {
				challenge(w, r, "missing API key")
				return
			}

			identity, ok := validator.Validate(r.Context(), apiKey)
			if !ok {
				logger.WarnContext(r.Context(), "api key rejected",
					slog.String("key_fingerprint", Fingerprint(apiKey)),
					slog.String("path", r.URL.Path),
				)
				challenge(w, r, "invalid API key")
				return
			}
			logger.DebugContext(r.Context(), "api key accepted", slog.String("subject", identity.Subject))
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRole rejects requests whose identity lacks role. Requests without an
// identity pass, so it only restricts when authentication is enabled.
func RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if ok && !identity.HasRole(role) {
				writeFailure(w, r, http.StatusForbidden, "FORBIDDEN", "the API key lacks the role this route requires",
					map[string]any{"required_role": role.String(), "subject": identity.Subject})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func credentialFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func challenge(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="querylens"`)
	writeFailure(w, r, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func writeFailure(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  false,
		"context":    details,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
