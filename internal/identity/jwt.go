package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// MinSigningKeyLength is the shortest HS256 key accepted.
const MinSigningKeyLength = 32

// Claims are the token claims the service reads. The subject is the actor.
type Claims struct {
	jwt.RegisteredClaims
	ClinicID string   `json:"clinic_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// JWTVerifier validates HS256 bearer tokens.
type JWTVerifier struct {
	key      []byte
	issuer   string
	audience string
	now      func() time.Time
}

// JWTOption configures a JWTVerifier.
type JWTOption func(*JWTVerifier)

func WithIssuer(issuer string) JWTOption {
	return func(v *JWTVerifier) { v.issuer = issuer }
}

func WithAudience(audience string) JWTOption {
	return func(v *JWTVerifier) { v.audience = audience }
}

func withClock(now func() time.Time) JWTOption {
	return func(v *JWTVerifier) { v.now = now }
}

func NewJWTVerifier(signingKey []byte, opts ...JWTOption) (*JWTVerifier, error) {
	if len(signingKey) < MinSigningKeyLength {
		return nil, fmt.Errorf("%w: JWT signing key must be at least %d bytes, got %d",
			phierr.ErrInvalidConfiguration, MinSigningKeyLength, len(signingKey))
	}
	v := &JWTVerifier{key: append([]byte(nil), signingKey...), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the token and returns its claims. Every failure matches
// phierr.ErrNotAuthenticated.
func (v *JWTVerifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", phierr.ErrNotAuthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", phierr.ErrNotAuthenticated, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", phierr.ErrNotAuthenticated)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", phierr.ErrNotAuthenticated)
	}
	return claims, nil
}

// Issue signs a token for subject valid for ttl. Used by the CLI for local
// testing and by tests.
func (v *JWTVerifier) Issue(subject string, ttl time.Duration, roles ...string) (string, error) {
	if subject == "" {
		return "", errors.New("subject cannot be empty")
	}
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
