package httpx

import (
	"context"

	domainauth "github.com/target/streamauth/internal/domain/auth"
)

// Unexported context key types to avoid collisions across packages.
// Centralized in this file so all handlers/middleware use the same keys.
type (
	authStateKey struct{}
	requestIDKey struct{}
)

// authState is what Authenticate learned about the request's credentials.
type authState struct {
	principal *domainauth.Principal
	token     string
	// rejected is set when a token was presented but did not verify.
	rejected bool
}

func withAuthState(ctx context.Context, st authState) context.Context {
	return context.WithValue(ctx, authStateKey{}, st)
}

func authStateFromContext(ctx context.Context) authState {
	st, _ := ctx.Value(authStateKey{}).(authState)
	return st
}

// PrincipalFromContext returns the verified principal and a boolean indicating presence.
func PrincipalFromContext(ctx context.Context) (*domainauth.Principal, bool) {
	st := authStateFromContext(ctx)
	return st.principal, st.principal != nil
}

// TokenFromContext returns the raw session token presented with the request, if any.
func TokenFromContext(ctx context.Context) string {
	return authStateFromContext(ctx).token
}

// TokenRejected reports whether the request carried a token that failed verification.
func TokenRejected(ctx context.Context) bool {
	return authStateFromContext(ctx).rejected
}

// RequestIDFromContext returns the request id assigned by the RequestID middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
