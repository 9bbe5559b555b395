// Package auth identifies API callers and gates administrative operations.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/config"
	"github.com/propstrack/maintenance-server/pkg/crypto"
)

// APIKeyHeader carries service keys.
const APIKeyHeader = "X-API-Key"

// Caller is an authenticated identity. Service callers are scheduler or
// operator clients holding a service key and act with system privilege.
type Caller struct {
	ID      string
	Service bool
}

type callerKey struct{}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Authenticator resolves the caller of an HTTP request from a bearer token
// or a service key.
type Authenticator struct {
	jwt  *JWTManager
	keys []config.ServiceKey
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(jwt *JWTManager, keys []config.ServiceKey) *Authenticator {
	return &Authenticator{jwt: jwt, keys: keys}
}

// Authenticate returns an Unauthenticated error when r carries no valid
// credentials.
func (a *Authenticator) Authenticate(r *http.Request) (Caller, error) {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		for _, sk := range a.keys {
			if crypto.VerifyKey(key, sk.Hash) {
				return Caller{ID: "service:" + sk.Name, Service: true}, nil
			}
		}
		return Caller{}, apperr.Unauthenticated("invalid API key")
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return Caller{}, apperr.Unauthenticated("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Caller{}, apperr.Unauthenticated("invalid authorization header")
	}

	claims, err := a.jwt.ValidateToken(parts[1])
	if err != nil {
		return Caller{}, apperr.Unauthenticated("invalid token")
	}
	return Caller{ID: claims.UserID}, nil
}
