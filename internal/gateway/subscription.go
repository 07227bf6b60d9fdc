package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/cashflow402/gateway/internal/settlement"
	"github.com/cashflow402/gateway/internal/store"
	"github.com/cashflow402/gateway/internal/token"
)

// Claimer is the subset of the Settlement Orchestrator the
// Subscription Gate needs to trigger just-in-time settlement,
// narrowed so tests can substitute a stub.
type Claimer interface {
	Claim(ctx context.Context, contractAddress string) (*settlement.ClaimResult, error)
}

// SubscriptionGate is the Router402 middleware (spec §4.11): it
// resolves a subscription from the request, meters the call against
// its cached balance, and just-in-time-settles once pending usage
// crosses a configured threshold.
type SubscriptionGate struct {
	subs             *store.SubscriptionStore
	usage            *store.UsageStore
	plans            *store.PlanStore
	signer           *token.Signer
	settlement       Claimer
	defaultRateSats  int64
	jitThresholdSats int64
	log              *slog.Logger
	nowFn            func() time.Time
}

// NewSubscriptionGate builds a Router402 middleware.
func NewSubscriptionGate(subs *store.SubscriptionStore, usage *store.UsageStore, plans *store.PlanStore, signer *token.Signer, orch Claimer, defaultRateSats, jitThresholdSats int64, log *slog.Logger) *SubscriptionGate {
	if log == nil {
		log = slog.Default()
	}
	return &SubscriptionGate{
		subs:             subs,
		usage:            usage,
		plans:            plans,
		signer:           signer,
		settlement:       orch,
		defaultRateSats:  defaultRateSats,
		jitThresholdSats: jitThresholdSats,
		log:              log,
		nowFn:            time.Now,
	}
}

// Middleware implements the full Router402 admission sequence, spec
// §4.11 steps 1-10, followed by the just-in-time settlement trigger.
func (g *SubscriptionGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		category, err := g.extractTokenCategory(r)
		if err != nil {
			gwerrors.New(gwerrors.PaymentRequired, "no subscription token presented").WithHint("SubscriptionTokenRequired").Write(w)
			return
		}

		sub, err := g.subs.GetByCategory(category)
		if err != nil {
			gwerrors.New(gwerrors.PaymentRequired, "unknown subscription token").WithHint("UnknownSubscription").Write(w)
			return
		}

		if sub.Status != store.StatusActive {
			writeInactiveSubscription(w, sub.Status)
			return
		}

		perCallSats := g.defaultRateSats
		var boundPlan *store.Plan
		if sub.PlanID != "" {
			plan, err := g.plans.Get(sub.PlanID)
			if err == nil {
				boundPlan = plan
				perCallSats = plan.PerCallSats.Int64()
			}
		}

		if boundPlan != nil {
			if boundPlan.Status != store.PlanActive {
				gwerrors.New(gwerrors.Conflict, "bound plan is not active").WithHint("PlanPaused").Write(w)
				return
			}
			if !store.IsPathAllowed(boundPlan, r.URL.Path) {
				gwerrors.New(gwerrors.Forbidden, "plan does not permit this path").WithHint("PathNotAllowed").Write(w)
				return
			}
		}

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		usageRec, err := g.usage.RecordUsage(category, sub.ContractAddress, r.URL.Path, requestID, sub.Balance, store.NewSats(perCallSats), nowRFC3339(g.nowFn))
		if err != nil {
			if gerr, ok := gwerrors.As(err); ok && gerr.Kind == gwerrors.PaymentRequired {
				gerr.WithHint("TopUpRequired").Write(w)
				return
			}
			gwerrors.Wrap(gwerrors.ServerError, "record usage", err).Write(w)
			return
		}

		remaining := sub.Balance.Sub(usageRec.PendingSats).Int64()
		sc := &SubscriptionContext{
			TokenCategory:    category,
			ContractAddress:  sub.ContractAddress,
			CostSats:         perCallSats,
			RemainingBalance: remaining,
			PendingSats:      usageRec.PendingSats.Int64(),
			RequestID:        requestID,
		}
		if boundPlan != nil {
			sc.PlanID = boundPlan.PlanID
		}

		w.Header().Set("X-Subscription-Cost-Sats", strconv.FormatInt(sc.CostSats, 10))
		w.Header().Set("X-Subscription-Balance-Sats", strconv.FormatInt(sc.RemainingBalance, 10))
		w.Header().Set("X-Subscription-Pending-Sats", strconv.FormatInt(sc.PendingSats, 10))
		w.Header().Set("X-Subscription-Token-Category", category)
		w.Header().Set("X-Request-Id", requestID)

		ctx := context.WithValue(r.Context(), ctxKeySubscription, sc)
		next.ServeHTTP(w, r.WithContext(ctx))

		if g.settlement != nil && usageRec.PendingSats.Int64() >= g.jitThresholdSats {
			contractAddress := sub.ContractAddress
			go func() {
				if _, err := g.settlement.Claim(context.Background(), contractAddress); err != nil {
					g.log.Warn("just-in-time settlement failed", "contractAddress", contractAddress, "err", err)
				}
			}()
		}
	})
}

// extractTokenCategory resolves a tokenCategory per spec §4.11 step
// 1's precedence: X-Subscription-Token header, bearer subscription
// token, then ?tokenCategory= query.
func (g *SubscriptionGate) extractTokenCategory(r *http.Request) (string, error) {
	if v := r.Header.Get("X-Subscription-Token"); v != "" {
		return v, nil
	}
	if tok := bearerToken(r); tok != "" {
		claims, err := g.signer.Verify(tok, g.nowFn().Unix())
		if err == nil && claims.Kind == "subscription" && claims.TokenCategory != "" {
			return claims.TokenCategory, nil
		}
	}
	if v := r.URL.Query().Get("tokenCategory"); v != "" {
		return v, nil
	}
	return "", gwerrors.New(gwerrors.PaymentRequired, "no tokenCategory presented")
}

func writeInactiveSubscription(w http.ResponseWriter, status store.SubscriptionStatus) {
	var hint, message string
	switch status {
	case store.StatusPendingFunding:
		hint, message = "AwaitingFunding", "subscription is awaiting on-chain funding"
	case store.StatusCancelled:
		hint, message = "SubscriptionCancelled", "subscription has been cancelled"
	case store.StatusExpired:
		hint, message = "SubscriptionExpired", "subscription balance is exhausted"
	default:
		hint, message = "SubscriptionInactive", "subscription is not active"
	}
	gwerrors.New(gwerrors.PaymentRequired, message).WithHint(hint).Write(w)
}

func nowRFC3339(nowFn func() time.Time) string {
	return nowFn().UTC().Format(time.RFC3339)
}
