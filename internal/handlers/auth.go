package handlers

import (
	"context"
	"net/http"

	"github.com/booksmart-dev/booksmart/libs/authx"
	"github.com/booksmart-dev/booksmart/libs/httpx"
)

type claimsCtxKey struct{}

// WithAuth verifies the bearer token and stores the claims in the request
// context. Requests without a valid token get 401 and never reach the handler.
func WithAuth(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authx.FromAuthorizationHeader(r.Header.Get("Authorization"), secret)
			if err != nil {
				writeErrorEnvelope(w, http.StatusUnauthorized, codeUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsCtxKey{}, claims)))
		})
	}
}

// ClaimsFromContext returns the verified claims, or nil outside WithAuth.
func ClaimsFromContext(ctx context.Context) *authx.Claims {
	claims, _ := ctx.Value(claimsCtxKey{}).(*authx.Claims)
	return claims
}
