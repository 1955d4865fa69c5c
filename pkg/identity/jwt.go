package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Middleware builds the identity middleware for cfg.Mode.
func Middleware(cfg Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Mode {
	case ModeHeader, "":
		return HeaderMiddleware(), nil
	case ModeJWT:
		return JWTMiddleware(cfg, logger)
	case ModeNone:
		return func(next http.Handler) http.Handler { return next }, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q (expected header, jwt or none)", cfg.Mode)
	}
}

// JWTMiddleware reads the caller from a bearer token's user claim. Missing or
// invalid tokens leave the request without an identity; the write then needs
// an explicit author.
func JWTMiddleware(cfg Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.UserClaim == "" {
		cfg.UserClaim = DefaultConfig().UserClaim
	}
	if logger == nil {
		logger = slog.Default()
	}

	var key *rsa.PublicKey
	if cfg.PublicKeyPath != "" {
		var err error
		key, err = loadPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		logger.Info("jwt identity: verifying RS256 signatures", "keyPath", cfg.PublicKeyPath)
	} else {
		logger.Warn("jwt identity: no public key configured, tokens are not verified")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := parseClaims(token, key, cfg)
			if err != nil {
				logger.Debug("jwt parse failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if user := claimString(claims, cfg.UserClaim); user != "" {
				r = r.WithContext(WithIdentity(r.Context(), Identity{User: user, Source: ModeJWT}))
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("decode PEM block from %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA (got %T)", parsed)
	}
	return key, nil
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func parseClaims(raw string, key *rsa.PublicKey, cfg Config) (jwt.MapClaims, error) {
	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var (
		token *jwt.Token
		err   error
	)
	if key != nil {
		token, err = jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		}, opts...)
	} else {
		token, _, err = jwt.NewParser(opts...).ParseUnverified(raw, jwt.MapClaims{})
	}
	if err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	return claims, nil
}

// claimString follows a dotted path through nested claims.
func claimString(claims jwt.MapClaims, path string) string {
	var cur any = map[string]any(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		if cur, ok = m[part]; !ok {
			return ""
		}
	}
	s, _ := cur.(string)
	return strings.TrimSpace(s)
}
