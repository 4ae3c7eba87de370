package identity

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/approvals/approvalsd/internal/platform/httpx"
	"github.com/approvals/approvalsd/internal/shared"
)

// Middleware authenticates requests and stores the identity in context.
type Middleware struct {
	Resolver Resolver
	Logger   *slog.Logger
}

// Authenticate rejects requests without a valid bearer token.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || bearer == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
			return
		}
		id, err := m.Resolver.Resolve(r.Context(), bearer)
		if err != nil {
			m.Logger.Warn("token resolve failed", slog.Any("error", err))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
	})
}

// RequireRole gates a route group behind a capability set.
func (m Middleware) RequireRole(roles ...shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok || !id.Role.AnyOf(roles...) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient capability")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
