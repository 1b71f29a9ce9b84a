package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type subjectKey struct{}

// Subject returns the "sub" claim of the token that authenticated the
// request, or "" when auth is disabled or the path was excluded.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// JWTAuth returns a middleware that enforces Bearer JWT authentication using
// HMAC-SHA256. Tokens must carry an expiry. Requests for an exact path in
// exclude pass without a token. Everything else gets 401 on a missing or
// invalid token.
func JWTAuth(secret string, exclude []string) func(http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	excludeSet := make(map[string]struct{}, len(exclude))
	for _, p := range exclude {
		excludeSet[p] = struct{}{}
	}

	keyFunc := func(*jwt.Token) (any, error) { return key, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := excludeSet[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				slog.Warn("auth: missing bearer token",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"request_id", RequestID(r.Context()),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			var claims jwt.RegisteredClaims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				slog.Warn("auth: invalid token",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"request_id", RequestID(r.Context()),
					"error", err,
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
