// Package session issues and verifies the signed, stateless tokens that carry an
// authenticated actor's identity, tenant, role and permissions between requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSecret is returned when a codec is built without a signing key
	ErrMissingSecret = errors.New("session signing secret is not configured")
	// ErrInvalidSignature covers every structural, algorithm and signature failure
	ErrInvalidSignature = errors.New("invalid session token")
	// ErrExpired is returned for a correctly signed token past its expiry
	ErrExpired = errors.New("session token expired")
)

// DefaultIssuer is stamped into iss when no issuer is configured
const DefaultIssuer = "arco-portus"

// Codec signs and verifies HS256 session tokens with a process-wide secret.
// It is safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures a Codec
type Option func(*Codec)

// WithIssuer sets the iss claim written and required by the codec
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		if issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec creates a codec. The secret must be non-empty.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for identity that expires ttl from now.
func (c *Codec) Issue(identity Identity, ttl time.Duration) (string, *Claims, error) {
	if ttl <= 0 {
		return "", nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	now := c.now()
	claims := &Claims{
		SubjectID:   identity.SubjectID,
		DisplayName: identity.DisplayName,
		Tenant:      identity.Tenant,
		Role:        identity.Role,
		Permissions: identity.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   identity.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if claims.Permissions == nil {
		claims.Permissions = []string{}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, issuer and expiry. The error is ErrExpired or ErrInvalidSignature.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	claims, err := c.parse(tokenString, jwt.WithExpirationRequired(), jwt.WithTimeFunc(c.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// Decode checks signature and structure but accepts expired tokens. Refresh uses it to read
// the claims of a session that may be past its strict expiry.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	claims, err := c.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if claims.Issuer != c.issuer || claims.SubjectID == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// ValidateToken adapts Verify to the request guard
func (c *Codec) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	return c.Verify(tokenString)
}

func (c *Codec) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
	)
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}
