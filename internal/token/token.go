// Package token implements the Token Signer (spec §4.14): HMAC-SHA256
// signed envelopes carrying issued-at/expiry and gateway-specific
// claims, handed out as per-call and subscription access tokens.
//
// Grounded on other_examples/2b37db86_josephblackelite-nhbchain's
// VerifyIPNHMAC (hmac.New(sha256.New, secret) + hmac.Equal
// constant-time compare) — the pack's own idiom for signed-payload
// integrity, deliberately not JWT (see design notes for why).
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/cashflow402/gateway/internal/gwerrors"
)

// Claims is the signed payload. Kind distinguishes a per-call token
// from a subscription token so verify can reject a token presented to
// the wrong gate.
type Claims struct {
	Kind            string `json:"kind"` // "percall" | "subscription"
	MerchantAddress string `json:"merchantAddress,omitempty"`
	TokenCategory   string `json:"tokenCategory,omitempty"`
	APIPath         string `json:"apiPath,omitempty"`
	IssuedAt        int64  `json:"iat"`
	ExpiresAt       int64  `json:"exp"`
}

// Signer signs and verifies Claims envelopes with a fixed secret.
type Signer struct {
	secret []byte
}

// New builds a Signer from a raw secret (spec §6's JWT_SECRET config
// key, repurposed here for the HMAC envelope — the name is historical).
func New(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// envelope is the wire format: base64url(payload) + "." + base64url(mac).
type envelope struct {
	payload []byte
	mac     []byte
}

func (s *Signer) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Sign encodes claims as JSON and returns a signed token string.
func (s *Signer) Sign(claims Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.ServerError, "marshal token claims", err)
	}
	mac := s.sign(payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

// Verify checks a token's signature and expiry, returning its decoded
// claims. Never decodes without verifying first — a tampered or
// expired token always returns an error, matching spec §4.14's "no
// decode-without-verify" rule.
func (s *Signer) Verify(tokenStr string, now int64) (*Claims, error) {
	env, err := splitEnvelope(tokenStr)
	if err != nil {
		return nil, err
	}

	expectedMAC := s.sign(env.payload)
	if !hmac.Equal(expectedMAC, env.mac) {
		return nil, gwerrors.New(gwerrors.Unauthorized, "token signature invalid").WithHint("InvalidToken")
	}

	var claims Claims
	if err := json.Unmarshal(env.payload, &claims); err != nil {
		return nil, gwerrors.Wrap(gwerrors.Unauthorized, "token payload malformed", err).WithHint("InvalidToken")
	}
	if now > claims.ExpiresAt {
		return nil, gwerrors.New(gwerrors.Unauthorized, "token expired").WithHint("TokenExpired")
	}
	return &claims, nil
}

func splitEnvelope(tokenStr string) (*envelope, error) {
	dot := -1
	for i := 0; i < len(tokenStr); i++ {
		if tokenStr[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return nil, gwerrors.New(gwerrors.Unauthorized, "malformed token").WithHint("InvalidToken")
	}
	payload, err := base64.RawURLEncoding.DecodeString(tokenStr[:dot])
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Unauthorized, "malformed token payload", err).WithHint("InvalidToken")
	}
	mac, err := base64.RawURLEncoding.DecodeString(tokenStr[dot+1:])
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Unauthorized, "malformed token signature", err).WithHint("InvalidToken")
	}
	return &envelope{payload: payload, mac: mac}, nil
}
