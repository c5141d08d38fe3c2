// Package invite issues and redeems signed course invitations.
//
// An invite token is self-contained and never stored:
//
//	base64url(json(payload)) "." base64url(hmac_sha256(secret, first segment))
//
// Both segments are unpadded. Tokens are not single-use: redeeming one is
// idempotent for the redeemer, so a token stays valid until it expires.
package invite

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// payloadVersion is bumped when the payload layout changes
const payloadVersion = 1

// ErrInvalidToken covers every way a token can fail: bad shape, bad
// signature, bad payload and expiry. Callers cannot tell them apart.
var ErrInvalidToken = errors.New("invalid or expired invite")

var encoding = base64.RawURLEncoding.Strict()

// Payload is the signed content of an invite token
type Payload struct {
	Version    int       `json:"v"`
	OfferingID uuid.UUID `json:"offering_id"`
	CourseRole string    `json:"course_role"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Signer signs and verifies invite tokens with an HMAC secret
type Signer struct {
	secret []byte
}

// NewSigner creates a signer
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign encodes and signs p
func (s *Signer) Sign(p Payload) (string, error) {
	p.Version = payloadVersion
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	segment := encoding.EncodeToString(data)
	return segment + "." + encoding.EncodeToString(s.mac(segment)), nil
}

// Verify checks the signature and decodes the payload. It does not check
// expiry.
func (s *Signer) Verify(token string) (*Payload, error) {
	segment, sig, ok := strings.Cut(token, ".")
	if !ok || segment == "" || sig == "" {
		return nil, ErrInvalidToken
	}

	got, err := encoding.DecodeString(sig)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(got, s.mac(segment)) {
		return nil, ErrInvalidToken
	}

	data, err := encoding.DecodeString(segment)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidToken
	}
	if p.Version != payloadVersion || p.OfferingID == uuid.Nil || p.ExpiresAt.IsZero() {
		return nil, ErrInvalidToken
	}
	return &p, nil
}

func (s *Signer) mac(segment string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(segment))
	return h.Sum(nil)
}
