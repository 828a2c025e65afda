package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"consultdesk/internal/httpjson"
	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

type contextKey struct{}

// WithPrincipal stores the principal on the context
func WithPrincipal(ctx context.Context, p *types.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the principal stored by Authenticate
func PrincipalFrom(ctx context.Context) (*types.Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*types.Principal)
	return p, ok && p != nil
}

// Authenticate rejects requests without a valid bearer token with 401
// and otherwise places the verified principal on the request context
func Authenticate(verifier interfaces.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearer(r.Header.Get("Authorization"))
			principal, err := verifier.Verify(token)
			if err != nil {
				slog.Debug("http authentication failed", "path", r.URL.Path, "error", err)
				httpjson.Error(w, http.StatusUnauthorized, authMessage(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return ErrMissingToken.Error()
	case errors.Is(err, ErrExpiredToken):
		return ErrExpiredToken.Error()
	default:
		return ErrInvalidToken.Error()
	}
}
