// Package session issues and validates signed session tokens.
//
// Tokens are HS256 JWTs carrying the claim set from the auth domain.
// The signing key set supports rotation: new tokens are signed with
// the active key, while tokens signed with any configured key keep
// validating until their natural expiry.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

const minKeyLen = 32 // HS256

var (
	ErrExpired    = errors.New("session expired")
	ErrInvalid    = errors.New("session token invalid")
	ErrUnknownKey = errors.New("unknown signing key id")
	ErrMalformed  = errors.New("session token missing required claims")

	// ErrPendingChallenge rejects issuance while a device challenge is
	// unresolved.
	ErrPendingChallenge = errors.New("device challenge pending")
)

// Claims is the session claim set.
type Claims struct {
	Subject          string
	Role             string
	AccountKind      string
	Method           string // login method ("password", "passkey", "oauth")
	DeviceID         string
	IssuedAt         time.Time
	OriginalIssuedAt time.Time
	ExpiresAt        time.Time
}

// Issuer signs and validates session tokens.
type Issuer struct {
	keys      map[string][]byte
	activeKID string
	maxAge    time.Duration
	slide     time.Duration
	clock     clock.Clock
}

// NewIssuer creates an Issuer. keys must contain activeKID, and every
// key must be at least 32 bytes; the caller is expected to treat an
// error as fatal rather than run with weak or absent key material.
func NewIssuer(keys map[string][]byte, activeKID string, maxAge, slide time.Duration, clk clock.Clock) (*Issuer, error) {
	if len(keys) == 0 {
		return nil, errors.New("session: no signing keys configured")
	}
	if _, ok := keys[activeKID]; !ok {
		return nil, fmt.Errorf("session: active key id %q not in key set", activeKID)
	}
	for kid, key := range keys {
		if len(key) < minKeyLen {
			return nil, fmt.Errorf("session: key %q shorter than %d bytes", kid, minKeyLen)
		}
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	if slide <= 0 {
		slide = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Issuer{keys: keys, activeKID: activeKID, maxAge: maxAge, slide: slide, clock: clk}, nil
}

// MaxAge is the fixed token lifetime set at issuance.
func (i *Issuer) MaxAge() time.Duration { return i.maxAge }

type tokenClaims struct {
	jwt.RegisteredClaims
	Role             string `json:"role"`
	AccountKind      string `json:"acct"`
	Method           string `json:"amr"`
	DeviceID         string `json:"dev"`
	OriginalIssuedAt int64  `json:"oiat"`
}

// Issue signs a token for the claim set. Lifetime is fixed at
// issuance; IssuedAt, OriginalIssuedAt and ExpiresAt are set here.
func (i *Issuer) Issue(c Claims) (string, error) {
	now := i.clock.Now().UTC()
	return i.sign(c, now, now, now.Add(i.maxAge))
}

func (i *Issuer) sign(c Claims, iat, oiat, exp time.Time) (string, error) {
	if c.Subject == "" || c.DeviceID == "" {
		return "", ErrMalformed
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role:             c.Role,
		AccountKind:      c.AccountKind,
		Method:           c.Method,
		DeviceID:         c.DeviceID,
		OriginalIssuedAt: oiat.Unix(),
	})
	token.Header["kid"] = i.activeKID

	signed, err := token.SignedString(i.keys[i.activeKID])
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate decodes a token, verifying its signature against the key
// named by the kid header. Distinct failures let callers tell "log in
// again" (expired) from a corrupted or forged token.
func (i *Issuer) Validate(tokenStr string) (*Claims, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return i.clock.Now().UTC() }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownKey):
			return nil, ErrUnknownKey
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, ErrInvalid
		}
	}
	if !token.Valid {
		return nil, ErrInvalid
	}
	if claims.Subject == "" || claims.DeviceID == "" || claims.Role == "" ||
		claims.OriginalIssuedAt == 0 || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrMalformed
	}

	return &Claims{
		Subject:          claims.Subject,
		Role:             claims.Role,
		AccountKind:      claims.AccountKind,
		Method:           claims.Method,
		DeviceID:         claims.DeviceID,
		IssuedAt:         claims.IssuedAt.Time.UTC(),
		OriginalIssuedAt: time.Unix(claims.OriginalIssuedAt, 0).UTC(),
		ExpiresAt:        claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Reissue applies the sliding policy: once a token's IssuedAt is older
// than the slide interval, a fresh token is signed with the current
// time, keeping the original expiry cap (OriginalIssuedAt + MaxAge).
// A token not yet due comes back unchanged.
func (i *Issuer) Reissue(tokenStr string) (string, error) {
	claims, err := i.Validate(tokenStr)
	if err != nil {
		return "", err
	}

	now := i.clock.Now().UTC()
	if now.Sub(claims.IssuedAt) < i.slide {
		return tokenStr, nil
	}

	limit := claims.OriginalIssuedAt.Add(i.maxAge)
	if !now.Before(limit) {
		return "", ErrExpired
	}
	return i.sign(*claims, now, claims.OriginalIssuedAt, limit)
}

func (i *Issuer) keyFunc(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	key, ok := i.keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}
