package jwtutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failures. The propagator maps all of them to a uniform
// unauthenticated response, but callers can tell them apart with
// errors.Is for logging and metrics.
var (
	// ErrTokenInvalid covers bad signatures, unexpected algorithms and
	// wrong issuer or audience.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired means the token was well-formed but past its
	// expiry; the caller is expected to re-authenticate upstream.
	ErrTokenExpired = errors.New("token expired")
	// ErrTenantClaimMissing means the token verified but carries no
	// tenant_id claim. This indicates upstream misconfiguration rather
	// than a forged token and is logged distinctly.
	ErrTenantClaimMissing = errors.New("token missing tenant_id claim")
	// ErrKeySetFetch means the verification key set could not be
	// fetched from the authority.
	ErrKeySetFetch = errors.New("key set fetch failed")
)

// Config holds the OIDC authority settings the verifier checks tokens
// against.
type Config struct {
	AuthorityURL string
	Realm        string
	Audience     string
	CacheTTL     time.Duration
}

// JWKSURI returns the authority's key set endpoint.
func (c *Config) JWKSURI() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", c.AuthorityURL, c.Realm)
}

// Issuer returns the expected iss claim value.
func (c *Config) Issuer() string {
	return fmt.Sprintf("%s/realms/%s", c.AuthorityURL, c.Realm)
}

// UserClaims represents the claims carried by an authority-issued access
// token.
type UserClaims struct {
	Email    string `json:"email,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates RS256 access tokens against the authority's cached
// key set.
type Verifier struct {
	issuer   string
	audience string
	keys     *KeySetCache
}

// NewVerifier creates a verifier for the given authority configuration.
func NewVerifier(config *Config) *Verifier {
	return NewVerifierWithClient(config, nil)
}

// NewVerifierWithClient is NewVerifier with a caller-supplied HTTP
// client for the key set fetches.
func NewVerifierWithClient(config *Config, client *http.Client) *Verifier {
	return &Verifier{
		issuer:   config.Issuer(),
		audience: config.Audience,
		keys:     NewKeySetCache(config.JWKSURI(), config.CacheTTL, client),
	}
}

// Decode validates the token signature, issuer, audience and expiry and
// returns the claims. The signing algorithm is restricted to RS256; a
// missing tenant_id claim is reported as ErrTenantClaimMissing so
// callers can distinguish it from a bad token.
func (v *Verifier) Decode(ctx context.Context, tokenString string) (*UserClaims, error) {
	keys, err := v.keys.Keys(ctx)
	if err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&UserClaims{},
		func(token *jwt.Token) (interface{}, error) {
			kid, _ := token.Header["kid"].(string)
			key, ok := keys[kid]
			if !ok {
				return nil, fmt.Errorf("unknown key id %q", kid)
			}
			return key, nil
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrTokenInvalid)
	}
	if claims.TenantID == "" {
		return nil, ErrTenantClaimMissing
	}

	return claims, nil
}
