// Package identity attaches the caller's identity to request contexts and
// resolves the author recorded on write transactions.
package identity

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/packrat/pinserver/pkg/errcode"
)

// HeaderUser is set by an authenticating proxy in front of the service.
const HeaderUser = "X-Remote-User"

// Auth modes.
const (
	ModeNone   = "none"
	ModeHeader = "header"
	ModeJWT    = "jwt"
)

type identityCtxKey struct{}

// Identity is the authenticated caller of a request.
type Identity struct {
	User string
	// Source is the auth mode that produced the identity.
	Source string
}

// WithIdentity returns a new context with id attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// FromContext retrieves the Identity from ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok && id.User != ""
}

// Author picks the author for a write: the one named in the request if any,
// otherwise the authenticated caller.
func Author(ctx context.Context, requested string) (string, error) {
	if a := strings.TrimSpace(requested); a != "" {
		return a, nil
	}
	if id, ok := FromContext(ctx); ok {
		return id.User, nil
	}
	return "", errcode.New(errcode.InvalidArgument, "author is required")
}

// Config selects how identities are established.
type Config struct {
	Mode string
	// UserClaim is the JWT claim holding the user name. Dot-notation reaches
	// nested claims.
	UserClaim string
	// PublicKeyPath is a PEM RSA public key. Without one, tokens are parsed
	// but not verified.
	PublicKeyPath string
	Issuer        string
	Audience      string
}

// DefaultConfig trusts the X-Remote-User header.
func DefaultConfig() Config {
	return Config{Mode: ModeHeader, UserClaim: "preferred_username"}
}

// ConfigFromEnv overlays PINS_AUTH_MODE and PINS_JWT_* onto the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("PINS_AUTH_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("PINS_JWT_USER_CLAIM"); v != "" {
		cfg.UserClaim = v
	}
	cfg.PublicKeyPath = os.Getenv("PINS_JWT_PUBLIC_KEY_PATH")
	cfg.Issuer = os.Getenv("PINS_JWT_ISSUER")
	cfg.Audience = os.Getenv("PINS_JWT_AUDIENCE")
	return cfg
}

// HeaderMiddleware reads the caller from X-Remote-User. Requests without the
// header carry no identity.
func HeaderMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := strings.TrimSpace(r.Header.Get(HeaderUser))
			if user != "" {
				r = r.WithContext(WithIdentity(r.Context(), Identity{User: user, Source: ModeHeader}))
			}
			next.ServeHTTP(w, r)
		})
	}
}
