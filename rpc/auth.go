package rpc

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"reflexstake/crypto"
	"reflexstake/observability/logging"
)

// AuthConfig configures bearer token validation. Tokens are HS256 JWTs whose
// subject is the caller's account address.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

// Identity is the authenticated caller of a request.
type Identity struct {
	Address crypto.Address
	Scopes  []string
}

type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, logger: logger, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Authenticate validates the request's bearer token and checks it carries the
// required scope.
func (a *Authenticator) Authenticate(r *http.Request, requiredScope string) (Identity, *RPCError) {
	if len(a.secret) == 0 {
		return Identity{}, &RPCError{Code: codeUnauthorized, Message: "API authentication not configured"}
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return Identity{}, &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		a.logger.Warn("token validation failed",
			logging.MaskField("authorization", tokenString),
			logging.MaskField("client", clientSource(r)),
			slog.String("error", err.Error()))
		return Identity{}, &RPCError{Code: codeUnauthorized, Message: "invalid token"}
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return Identity{}, &RPCError{Code: codeUnauthorized, Message: "token subject required"}
	}
	addr, err := crypto.ParseAddress(subject)
	if err != nil {
		return Identity{}, &RPCError{Code: codeUnauthorized, Message: "token subject is not an address"}
	}
	scopes := extractScopes(claims, a.cfg.ScopeClaim)
	if requiredScope != "" && !hasScope(scopes, requiredScope) {
		return Identity{}, &RPCError{Code: codeForbidden, Message: "insufficient scope", Data: requiredScope}
	}
	return Identity{Address: addr, Scopes: scopes}, nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// hasScope reports whether scopes grants required. The admin scope implies
// every other scope.
func hasScope(scopes []string, required string) bool {
	for _, scope := range scopes {
		if scope == required || scope == ScopeAdmin {
			return true
		}
	}
	return false
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
