package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joseph-ayodele/research-ingest/internal/common"
)

type claimsKey struct{}

// Middleware verifies an "Authorization: Bearer" token and puts the caller's
// user id on the request context. Missing or invalid tokens pass through
// unauthenticated; handlers decide whether that is acceptable.
func Middleware(tokens *Tokens, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := BearerToken(r.Header.Get("Authorization"))
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := tokens.Verify(tokenStr)
			if err != nil {
				logger.Info("auth.invalid_token", "path", r.URL.Path, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = common.WithUserID(ctx, claims.UserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(h string) string {
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// GetClaims returns the verified claims, or nil.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}
