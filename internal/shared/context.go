package shared

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/odyssey-erp/treatment-billing/internal/platform/httpx"
)

type tokenContextKey struct{}

// ContextWithToken stores the caller's bearer token, forwarded to the order
// service.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext extracts the bearer token.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey{}).(string)
	return token
}

// BearerToken reads the Authorization header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// RequireToken rejects requests without a bearer token and stores it in the
// request context.
func RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			httpx.RespondError(w, httpx.WithCode("missing_token", fmt.Errorf("%w: %w", httpx.ErrUnauthorized, ErrMissingToken)))
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithToken(r.Context(), token)))
	})
}
