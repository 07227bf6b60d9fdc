package gateway

import (
	"context"

	"github.com/cashflow402/gateway/internal/token"
)

type contextKey string

const (
	ctxKeyPerCallClaims contextKey = "cashflow402.percallClaims"
	ctxKeySubscription  contextKey = "cashflow402.subscriptionContext"
)

// SubscriptionContext is what the Subscription Gate attaches to a
// request once it admits it, per spec §4.11 step 8.
type SubscriptionContext struct {
	TokenCategory    string
	ContractAddress  string
	CostSats         int64
	RemainingBalance int64
	PendingSats      int64
	RequestID        string
	PlanID           string
}

// PerCallClaimsFromContext returns the verified per-call token claims
// the Per-call Gate attached, if any.
func PerCallClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(ctxKeyPerCallClaims).(*token.Claims)
	return claims, ok
}

// SubscriptionFromContext returns the subscription usage context the
// Subscription Gate attached, if any.
func SubscriptionFromContext(ctx context.Context) (*SubscriptionContext, bool) {
	sc, ok := ctx.Value(ctxKeySubscription).(*SubscriptionContext)
	return sc, ok
}
