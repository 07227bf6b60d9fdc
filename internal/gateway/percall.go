// Package gateway implements the Per-call Gate and Subscription Gate
// (Router402) HTTP middleware, spec §4.10-4.11: the two admission
// paths that turn an unauthenticated request into either a signed
// per-call access token or a metered deduction against an active
// subscription.
//
// Grounded on other_examples/2b37db86_josephblackelite-nhbchain's
// webhook Server dispatch style (writeJSON/writeError) and the
// go-chi middleware chaining conventions from
// other_examples/2bd6f79b_Fantasim-hdpay and other_examples/orbas1-Synnergy.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/cashflow402/gateway/internal/store"
	"github.com/cashflow402/gateway/internal/token"
	"github.com/cashflow402/gateway/internal/verifier"
)

// PerCallGate issues and redeems per-call payment challenges, per
// spec §4.10.
type PerCallGate struct {
	signer          *token.Signer
	nonces          *store.NonceStore
	verifier        *verifier.Verifier
	merchantAddress string
	rateSats        int64
	expiry          time.Duration
	verifyURL       string
	nowFn           func() time.Time
}

// NewPerCallGate builds a Per-call Gate.
func NewPerCallGate(signer *token.Signer, nonces *store.NonceStore, v *verifier.Verifier, merchantAddress string, rateSats int64, expiry time.Duration) *PerCallGate {
	return &PerCallGate{
		signer:          signer,
		nonces:          nonces,
		verifier:        v,
		merchantAddress: merchantAddress,
		rateSats:        rateSats,
		expiry:          expiry,
		verifyURL:       "/verify-payment",
		nowFn:           time.Now,
	}
}

// Middleware extracts and verifies a per-call token from either the
// Authorization bearer header or X-Payment-Token; on success it
// attaches the decoded claims to the request and calls next; on
// failure it issues a 402 challenge instead of calling next.
func (g *PerCallGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			tok = r.Header.Get("X-Payment-Token")
		}
		if tok == "" {
			g.IssueChallenge(w, r)
			return
		}

		claims, err := g.signer.Verify(tok, g.nowFn().Unix())
		if err != nil || claims.Kind != "percall" {
			g.IssueChallenge(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPerCallClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

// challengeResponse is the 402 body shape, per spec §4.10.
type challengeResponse struct {
	PaymentURI      string   `json:"paymentUri"`
	AmountSats      int64    `json:"amountSats"`
	MerchantAddress string   `json:"merchantAddress"`
	Nonce           string   `json:"nonce"`
	VerifyURL       string   `json:"verifyUrl"`
	ExpiresAt       int64    `json:"expiresAt"`
	Instructions    []string `json:"instructions"`
}

// IssueChallenge generates a single-use nonce, stores it, and writes
// a 402 payment challenge with the BIP-21 URI on both the body and
// the Payment-Required header.
func (g *PerCallGate) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	nonce := uuid.NewString()
	g.nonces.Store(nonce, g.merchantAddress, r.URL.Path, store.NewSats(g.rateSats))

	uri := BuildPaymentURI(g.merchantAddress, g.rateSats, "CashFlow402", r.URL.Path, "", nonce)
	expiresAt := g.nowFn().Add(store.NonceTTL).Unix()

	body := challengeResponse{
		PaymentURI:      uri,
		AmountSats:      g.rateSats,
		MerchantAddress: g.merchantAddress,
		Nonce:           nonce,
		VerifyURL:       g.verifyURL,
		ExpiresAt:       expiresAt,
		Instructions: []string{
			"Send the listed amount to the payment URI's address.",
			"POST the resulting txid and nonce to verifyUrl to redeem an access token.",
			"The nonce expires in 120 seconds.",
		},
	}

	w.Header().Set("Payment-Required", uri)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(body)
}

// VerifyPaymentResult is the outcome of a successful verifyPayment
// call, per spec §4.10.
type VerifyPaymentResult struct {
	AccessToken      string `json:"accessToken"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}

// VerifyPayment consumes nonce (single-use), confirms txid actually
// pays the merchant the challenged amount, and issues a per-call
// access token.
func (g *PerCallGate) VerifyPayment(ctx context.Context, txid, nonce string) (*VerifyPaymentResult, error) {
	rec, err := g.nonces.Consume(nonce)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BadRequest, "nonce not found or already used", err)
	}

	result, err := g.verifier.VerifyPerCall(ctx, txid, rec.MerchantAddress, rec.AmountSats.Int64())
	if err != nil {
		return nil, err
	}
	if !result.Verified {
		return nil, gwerrors.New(gwerrors.PaymentRequired, "transaction does not pay the challenged amount").WithHint("RequestNewChallenge")
	}

	now := g.nowFn().Unix()
	claims := token.Claims{
		Kind:            "percall",
		MerchantAddress: rec.MerchantAddress,
		APIPath:         rec.APIPath,
		IssuedAt:        now,
		ExpiresAt:       now + int64(g.expiry.Seconds()),
	}
	signed, err := g.signer.Sign(claims)
	if err != nil {
		return nil, err
	}
	return &VerifyPaymentResult{AccessToken: signed, ExpiresInSeconds: int64(g.expiry.Seconds())}, nil
}
