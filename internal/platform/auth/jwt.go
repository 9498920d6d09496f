package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenExpired signals that the provided bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the provided bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Token is the decoded bearer token handed to the middleware.
type Token struct {
	UID    string
	Claims map[string]interface{}
}

// TokenVerifier verifies raw bearer tokens and returns the decoded claims.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, raw string) (*Token, error)
}

// JWTVerifier validates HS256-signed JWTs issued by the identity service.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	parser   *jwt.Parser
}

// JWTOption customises the verifier.
type JWTOption func(*JWTVerifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) JWTOption {
	return func(v *JWTVerifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

// WithAudience requires the aud claim to include the given audience.
func WithAudience(audience string) JWTOption {
	return func(v *JWTVerifier) {
		v.audience = strings.TrimSpace(audience)
	}
}

// WithLeeway tolerates clock skew when validating time claims.
func WithLeeway(d time.Duration) JWTOption {
	return func(v *JWTVerifier) {
		if d > 0 {
			v.leeway = d
		}
	}
}

// NewJWTVerifier constructs a verifier for the shared signing secret.
func NewJWTVerifier(secret string, opts ...JWTOption) (*JWTVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: jwt signing secret is required")
	}
	v := &JWTVerifier{secret: []byte(secret)}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.leeway > 0 {
		// Time claims are checked by hand below so the leeway can apply.
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}
	v.parser = jwt.NewParser(parserOpts...)
	return v, nil
}

// validateClaims applies the issuer, audience, and time checks the parser
// does not cover on its own.
func (v *JWTVerifier) validateClaims(claims jwt.MapClaims) error {
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}
	if v.leeway > 0 {
		now := time.Now()
		if !claims.VerifyExpiresAt(now.Add(-v.leeway).Unix(), false) {
			return fmt.Errorf("%w: exp elapsed", ErrTokenExpired)
		}
		if !claims.VerifyNotBefore(now.Add(v.leeway).Unix(), false) {
			return fmt.Errorf("%w: nbf in the future", ErrTokenInvalid)
		}
	}
	return nil
}

// VerifyToken parses and validates the raw JWT, returning the decoded claims.
func (v *JWTVerifier) VerifyToken(_ context.Context, raw string) (*Token, error) {
	if v == nil || v.parser == nil {
		return nil, ErrTokenInvalid
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return &Token{UID: subject, Claims: map[string]interface{}(claims)}, nil
}
