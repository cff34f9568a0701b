// Package token issues and verifies the signed, time-boxed, replay-protected
// identity assertions that bridge the external identity system and the session API.
//
// Wire format: base64url(length-prefixed claims) + "." + hex(HMAC-SHA256(secret, encoded claims)).
// The signature covers the base64 text, so verification never touches claim
// bytes before the MAC has been checked.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Sentinel errors for verification failures; the HTTP layer maps them to
// AUTH_* codes. Checks run in a fixed order and the first failure wins.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrReplay           = errors.New("token already used")
)

// Scope values carried in token claims.
const (
	ScopeStudent = "student"
	ScopeAdmin   = "admin"
)

const nonceBytes = 16

// Principal identifies the authenticated end user on whose behalf a token is issued.
type Principal struct {
	ID     string
	Name   string
	Email  string
	Plan   string
	Scope  string
	Origin string
}

// Claims is the verified content of a token.
type Claims struct {
	Principal
	Issuer    string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NonceStore atomically records token nonces for the remainder of their
// validity. It must be shared by all control-plane instances; a per-instance
// store silently weakens replay protection under scale-out.
type NonceStore interface {
	// CheckAndSet records nonce until expiresAt. Returns false if the nonce
	// is already recorded and unexpired (a replay).
	CheckAndSet(ctx context.Context, nonce string, expiresAt time.Time) (bool, error)
}

// Service issues and verifies tokens with a shared HMAC secret.
type Service struct {
	secret   []byte
	issuer   string
	validity time.Duration
	nonces   NonceStore
	nowF     func() time.Time
}

// NewService returns a token Service. Returns an error when secret is empty:
// issuance without a signing secret must be refused, not degraded.
func NewService(secret, issuer string, validity time.Duration, nonces NonceStore) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token: signing secret is not set")
	}
	if validity <= 0 {
		validity = 5 * time.Minute
	}
	return &Service{
		secret:   []byte(secret),
		issuer:   issuer,
		validity: validity,
		nonces:   nonces,
		nowF:     time.Now,
	}, nil
}

// Generate issues a token for the principal with a fresh nonce and
// expires_at = issued_at + validity window.
func (s *Service) Generate(p Principal) (string, error) {
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	now := s.nowF().UTC().Truncate(time.Second)
	c := Claims{
		Principal: p,
		Issuer:    s.issuer,
		Nonce:     hex.EncodeToString(nonce),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.validity),
	}
	encoded := base64.RawURLEncoding.EncodeToString(encodeClaims(&c))
	return encoded + "." + hex.EncodeToString(s.sign(encoded)), nil
}

// Verify checks a presented token and returns its claims. Checks run in a
// fixed order: format, signature (constant time), expiry, nonce replay. A
// successful verification consumes the nonce; presenting the same token
// again returns ErrReplay.
func (s *Service) Verify(ctx context.Context, tok string) (*Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrMalformed
	}

	given, err := hex.DecodeString(parts[1])
	if err != nil || !hmac.Equal(s.sign(parts[0]), given) {
		return nil, ErrInvalidSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformed
	}
	claims, err := decodeClaims(raw)
	if err != nil {
		return nil, ErrMalformed
	}

	now := s.nowF().UTC()
	if now.After(claims.ExpiresAt) {
		return nil, ErrExpired
	}

	ok, err := s.nonces.CheckAndSet(ctx, claims.Nonce, claims.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReplay
	}
	return claims, nil
}

func (s *Service) sign(encoded string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return mac.Sum(nil)
}

// Claim fields are encoded in a fixed order, strings as uvarint length +
// bytes, timestamps as uvarint unix seconds.
func encodeClaims(c *Claims) []byte {
	var buf []byte
	for _, s := range []string{c.ID, c.Name, c.Email, c.Plan, c.Scope, c.Origin, c.Issuer, c.Nonce} {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	buf = binary.AppendUvarint(buf, uint64(c.IssuedAt.Unix()))
	buf = binary.AppendUvarint(buf, uint64(c.ExpiresAt.Unix()))
	return buf
}

func decodeClaims(raw []byte) (*Claims, error) {
	fields := make([]string, 8)
	for i := range fields {
		n, read := binary.Uvarint(raw)
		if read <= 0 || uint64(len(raw)-read) < n {
			return nil, ErrMalformed
		}
		fields[i] = string(raw[read : read+int(n)])
		raw = raw[read+int(n):]
	}
	issued, read := binary.Uvarint(raw)
	if read <= 0 {
		return nil, ErrMalformed
	}
	raw = raw[read:]
	expires, read := binary.Uvarint(raw)
	if read <= 0 || len(raw) != read {
		return nil, ErrMalformed
	}
	return &Claims{
		Principal: Principal{
			ID:     fields[0],
			Name:   fields[1],
			Email:  fields[2],
			Plan:   fields[3],
			Scope:  fields[4],
			Origin: fields[5],
		},
		Issuer:    fields[6],
		Nonce:     fields[7],
		IssuedAt:  time.Unix(int64(issued), 0).UTC(),
		ExpiresAt: time.Unix(int64(expires), 0).UTC(),
	}, nil
}
