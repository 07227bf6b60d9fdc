// Package api implements the subscription lifecycle, payment
// challenge/redemption, and webhook HTTP surface (spec §6), and wires
// it together with the merchant surface and the Router402 gates into a
// chi.Mux.
//
// Grounded on other_examples/2b37db86_josephblackelite-nhbchain's
// webhook Server/writeJSON dispatch idiom, carried over from
// internal/gateway and internal/merchant for consistency.
package api

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/gateway"
	"github.com/cashflow402/gateway/internal/genesis"
	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/cashflow402/gateway/internal/merchant"
	"github.com/cashflow402/gateway/internal/settlement"
	"github.com/cashflow402/gateway/internal/store"
	"github.com/cashflow402/gateway/internal/token"
	"github.com/cashflow402/gateway/internal/verifier"
)

// ChainAdapter is the subset of the Chain Adapter the subscription
// lifecycle handlers need, narrowed for test doubles.
type ChainAdapter interface {
	genesis.ChainAdapter
	GetBlockHeight(ctx context.Context) (int64, error)
}

// Canceller is the subset of the Settlement Orchestrator the cancel
// handler needs.
type Canceller interface {
	Cancel(ctx context.Context, contractAddress, subscriberWIF string) (*settlement.CancelResult, error)
}

// Claimer is the subset of the Settlement Orchestrator the single-claim
// handler needs; it shares its shape with gateway.Claimer so the same
// *settlement.Orchestrator satisfies both.
type Claimer = gateway.Claimer

// Refresher is the subset of Event Hooks the status handler uses to
// pull a subscription's current on-chain balance before responding.
type Refresher interface {
	RefreshBalance(ctx context.Context, contractAddress string) (*store.Subscription, error)
}

// Service implements the subscription lifecycle, payment, and webhook
// handlers.
type Service struct {
	subs          *store.SubscriptionStore
	usage         *store.UsageStore
	signer        *token.Signer
	percall       *gateway.PerCallGate
	verifier      *verifier.Verifier
	chain         ChainAdapter
	claimer       Claimer
	canceller     Canceller
	refresher     Refresher
	network       string
	subExpiry     time.Duration
	webhookSecret string
	log           *slog.Logger
}

// Config bundles Service's non-collaborator settings.
type Config struct {
	Network            string
	SubscriptionExpiry time.Duration
	WebhookSecret      string
}

// New builds the subscription/payment/webhook Service.
func New(subs *store.SubscriptionStore, usage *store.UsageStore, signer *token.Signer, percall *gateway.PerCallGate, v *verifier.Verifier, chain ChainAdapter, claimer Claimer, canceller Canceller, refresher Refresher, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		subs: subs, usage: usage, signer: signer, percall: percall, verifier: v,
		chain: chain, claimer: claimer, canceller: canceller, refresher: refresher,
		network: cfg.Network, subExpiry: cfg.SubscriptionExpiry, webhookSecret: cfg.WebhookSecret,
		log: log,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, dst interface{}) *gwerrors.GatewayError {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return gwerrors.Wrap(gwerrors.BadRequest, "malformed request body", err)
	}
	return nil
}

func writeErr(w http.ResponseWriter, err error) {
	if gerr, ok := gwerrors.As(err); ok {
		gerr.Write(w)
		return
	}
	gwerrors.Wrap(gwerrors.ServerError, "internal error", err).Write(w)
}

// autoFundRequest is the POST /subscription/auto-fund body.
type autoFundRequest struct {
	ContractAddress string `json:"contractAddress"`
	SubscriberWIF   string `json:"subscriberWif"`
}

// AutoFund handles POST /subscription/auto-fund: the gateway itself
// builds, signs, and broadcasts the genesis funding transaction from a
// subscriber-supplied WIF, then activates the subscription directly
// (no need to wait for an on-chain observation, since it built the
// transaction itself).
func (s *Service) AutoFund(w http.ResponseWriter, r *http.Request) {
	var req autoFundRequest
	if gerr := decodeBody(r, &req); gerr != nil {
		gerr.Write(w)
		return
	}
	if req.ContractAddress == "" || req.SubscriberWIF == "" {
		gwerrors.New(gwerrors.BadRequest, "contractAddress and subscriberWif are required").Write(w)
		return
	}

	sub, err := s.subs.GetByAddress(req.ContractAddress)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sub.Status != store.StatusPendingFunding {
		gwerrors.New(gwerrors.Conflict, "subscription is not awaiting funding").Write(w)
		return
	}

	subscriber, err := bchutil.WifToKeypair(req.SubscriberWIF, s.network)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer subscriber.Priv.Zero()

	commitment := bchutil.BuildNftCommitment(0, int32(sub.AuthorizedSats.Int64()))
	commitmentBytes, err := hex.DecodeString(commitment)
	if err != nil {
		gwerrors.Wrap(gwerrors.ServerError, "decode genesis commitment", err).Write(w)
		return
	}

	result, err := genesis.Build(r.Context(), s.chain, genesis.Request{
		SubscriberPriv:       subscriber.Priv,
		SubscriberPKH:        subscriber.PKH,
		SubscriberAddress:    sub.SubscriberAddress,
		ContractTokenAddress: sub.TokenAddress,
		GenesisCommitment:    commitmentBytes,
		DepositSats:          depositSatsFor(sub),
		Network:              s.network,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.subs.Patch(req.ContractAddress, func(sub *store.Subscription) {
		sub.TokenCategory = result.TokenCategory
		sub.Balance = store.NewSats(depositSatsFor(sub))
		sub.Status = store.StatusActive
	}); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"txid":          result.Txid,
		"tokenCategory": result.TokenCategory,
		"status":        store.StatusActive,
	})
}

// fundConfirmRequest is the POST /subscription/fund-confirm body.
type fundConfirmRequest struct {
	ContractAddress string `json:"contractAddress"`
	Txid            string `json:"txid"`
}

// FundConfirm handles POST /subscription/fund-confirm: verifies an
// externally-broadcast funding transaction on-chain and activates the
// subscription. Idempotently returns 200 if already active, per spec
// §7.
func (s *Service) FundConfirm(w http.ResponseWriter, r *http.Request) {
	var req fundConfirmRequest
	if gerr := decodeBody(r, &req); gerr != nil {
		gerr.Write(w)
		return
	}

	sub, err := s.subs.GetByAddress(req.ContractAddress)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sub.Status == store.StatusActive {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": store.StatusActive, "alreadyActive": true})
		return
	}
	if sub.Status != store.StatusPendingFunding {
		gwerrors.New(gwerrors.Conflict, "subscription is not awaiting funding").Write(w)
		return
	}

	result, err := s.verifier.VerifySubscriptionFunding(r.Context(), req.Txid, sub.TokenAddress, "", depositSatsFor(sub))
	if err != nil {
		writeErr(w, err)
		return
	}

	commitment, err := bchutil.ParseNftCommitment(result.Commitment)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.subs.Patch(req.ContractAddress, func(sub *store.Subscription) {
		sub.TokenCategory = result.Category
		sub.Balance = store.NewSats(result.AmountSats)
		sub.LastClaimBlock = int64(commitment.LastClaimBlock)
		sub.Status = store.StatusActive
	}); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": store.StatusActive, "tokenCategory": result.Category})
}

// statusResponse is the GET /subscription/status/:addr body.
type statusResponse struct {
	*store.Subscription
	CanClaimNow bool `json:"canClaimNow"`
}

// Status handles GET /subscription/status/:addr.
func (s *Service) Status(w http.ResponseWriter, r *http.Request, contractAddress string) {
	var sub *store.Subscription
	var err error
	if s.refresher != nil {
		sub, err = s.refresher.RefreshBalance(r.Context(), contractAddress)
	} else {
		sub, err = s.subs.GetByAddress(contractAddress)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	canClaimNow := false
	if sub.Status == store.StatusActive {
		usage := s.usage.GetUsage(sub.TokenCategory)
		if usage.PendingSats.Int64() > 0 {
			height, err := s.chain.GetBlockHeight(r.Context())
			if err == nil {
				canClaimNow = height >= sub.LastClaimBlock+sub.IntervalBlocks
			}
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{Subscription: sub, CanClaimNow: canClaimNow})
}

// List handles GET /subscription/list.
func (s *Service) List(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subs.GetAll()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// Verify handles GET /subscription/verify: issues a subscription
// access token for an active subscription's tokenCategory.
func (s *Service) Verify(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("tokenCategory")
	if category == "" {
		category = r.Header.Get("X-Subscription-Token")
	}
	if category == "" {
		gwerrors.New(gwerrors.BadRequest, "tokenCategory is required").Write(w)
		return
	}

	sub, err := s.subs.GetByCategory(category)
	if err != nil {
		gwerrors.New(gwerrors.PaymentRequired, "unknown subscription token").WithHint("UnknownSubscription").Write(w)
		return
	}
	if sub.Status != store.StatusActive {
		gwerrors.New(gwerrors.PaymentRequired, "subscription is not active").WithHint("SubscriptionInactive").Write(w)
		return
	}

	now := time.Now().Unix()
	claims := token.Claims{
		Kind:          "subscription",
		TokenCategory: category,
		IssuedAt:      now,
		ExpiresAt:     now + int64(s.subExpiry.Seconds()),
	}
	signed, err := s.signer.Sign(claims)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken":      signed,
		"expiresInSeconds": int64(s.subExpiry.Seconds()),
	})
}

// claimRequest is the POST /subscription/claim body.
type claimRequest struct {
	ContractAddress string `json:"contractAddress"`
}

// Claim handles POST /subscription/claim.
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if gerr := decodeBody(r, &req); gerr != nil {
		gerr.Write(w)
		return
	}
	result, err := s.claimer.Claim(r.Context(), req.ContractAddress)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// cancelRequest is the POST /subscription/cancel body.
type cancelRequest struct {
	ContractAddress string `json:"contractAddress"`
	SubscriberWIF   string `json:"subscriberWif"`
}

// Cancel handles POST /subscription/cancel.
func (s *Service) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if gerr := decodeBody(r, &req); gerr != nil {
		gerr.Write(w)
		return
	}
	if req.SubscriberWIF == "" {
		gwerrors.New(gwerrors.BadRequest, "subscriberWif is required").Write(w)
		return
	}
	result, err := s.canceller.Cancel(r.Context(), req.ContractAddress, req.SubscriberWIF)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PaymentChallenge handles GET /payment/challenge: a manual challenge
// request outside the Per-call Gate's own automatic 402 flow.
func (s *Service) PaymentChallenge(w http.ResponseWriter, r *http.Request) {
	s.percall.IssueChallenge(w, r)
}

// verifyPaymentRequest is the POST /verify-payment body.
type verifyPaymentRequest struct {
	Txid  string `json:"txid"`
	Nonce string `json:"nonce"`
}

// VerifyPayment handles POST /verify-payment.
func (s *Service) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if gerr := decodeBody(r, &req); gerr != nil {
		gerr.Write(w)
		return
	}
	result, err := s.percall.VerifyPayment(r.Context(), req.Txid, req.Nonce)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) checkWebhookSecret(r *http.Request) bool {
	if s.webhookSecret == "" {
		return true
	}
	return hmac.Equal([]byte(r.Header.Get("X-Webhook-Secret")), []byte(s.webhookSecret))
}

// txConfirmedWebhookRequest is the POST /webhook/tx-confirmed body.
type txConfirmedWebhookRequest struct {
	ContractAddress string `json:"contractAddress"`
	Txid            string `json:"txid"`
}

// WebhookTxConfirmed handles POST /webhook/tx-confirmed: an external
// notice that a transaction touching a tracked address confirmed. If
// the subscription is still pending_funding, this drives the same
// activation path as fund-confirm; if already active, it refreshes the
// cached balance.
func (s *Service) WebhookTxConfirmed(w http.ResponseWriter, r *http.Request) {
	if !s.checkWebhookSecret(r) {
		gwerrors.New(gwerrors.Unauthorized, "invalid webhook secret").Write(w)
		return
	}
	var req txConfirmedWebhookRequest
	if gerr := decodeBody(r, &req); gerr != nil {
		gerr.Write(w)
		return
	}

	sub, err := s.subs.GetByAddress(req.ContractAddress)
	if err != nil {
		writeErr(w, err)
		return
	}

	if sub.Status == store.StatusPendingFunding {
		result, err := s.verifier.VerifySubscriptionFunding(r.Context(), req.Txid, sub.TokenAddress, "", depositSatsFor(sub))
		if err != nil {
			writeErr(w, err)
			return
		}
		commitment, err := bchutil.ParseNftCommitment(result.Commitment)
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := s.subs.Patch(req.ContractAddress, func(sub *store.Subscription) {
			sub.TokenCategory = result.Category
			sub.Balance = store.NewSats(result.AmountSats)
			sub.LastClaimBlock = int64(commitment.LastClaimBlock)
			sub.Status = store.StatusActive
		}); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": store.StatusActive})
		return
	}

	if s.refresher != nil {
		if _, err := s.refresher.RefreshBalance(r.Context(), req.ContractAddress); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "refreshed"})
}

// blockWebhookRequest is the POST /webhook/block body.
type blockWebhookRequest struct {
	Height int64 `json:"height"`
}

// WebhookBlock handles POST /webhook/block: a new-block notice used
// only for logging and future maintenance sweeps (e.g. expiring
// zero-balance subscriptions); it does not itself trigger settlement.
func (s *Service) WebhookBlock(w http.ResponseWriter, r *http.Request) {
	if !s.checkWebhookSecret(r) {
		gwerrors.New(gwerrors.Unauthorized, "invalid webhook secret").Write(w)
		return
	}
	var req blockWebhookRequest
	if gerr := decodeBody(r, &req); gerr != nil {
		gerr.Write(w)
		return
	}
	s.log.Info("block notice received", "height", req.Height)
	writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
}

// depositSatsFor returns the minimum funding a subscription's genesis
// transaction must carry, as recorded when the covenant was deployed.
func depositSatsFor(sub *store.Subscription) int64 {
	return sub.DepositSats.Int64()
}

// Router assembles the full HTTP surface: merchant management, the
// subscription lifecycle and payment endpoints above, and webhooks,
// on a chi.Mux. Router402 (gateway.SubscriptionGate) and the Per-call
// Gate are exposed separately for a caller to wrap its own
// merchant-defined business routes — they are deliberately not applied
// to any route registered here.
func Router(merchantSvc *merchant.Service, apiSvc *Service) chi.Router {
	r := chi.NewRouter()

	r.Post("/merchant/plan", merchantSvc.CreatePlan)
	r.Get("/merchant/plans", merchantSvc.ListPlans)
	r.Get("/merchant/plans/{id}", func(w http.ResponseWriter, r *http.Request) {
		merchantSvc.GetPlan(w, r, chi.URLParam(r, "id"))
	})
	r.Patch("/merchant/plans/{id}", func(w http.ResponseWriter, r *http.Request) {
		merchantSvc.UpdatePlan(w, r, chi.URLParam(r, "id"))
	})
	r.Get("/merchant/dashboard", merchantSvc.Dashboard)
	r.Post("/merchant/claim-all", merchantSvc.ClaimAll)
	r.Post("/deploy-subscription", merchantSvc.DeploySubscription)
	r.Post("/subscription/create-session", merchantSvc.CreateSession)

	r.Post("/subscription/auto-fund", apiSvc.AutoFund)
	r.Post("/subscription/fund-confirm", apiSvc.FundConfirm)
	r.Get("/subscription/status/{addr}", func(w http.ResponseWriter, r *http.Request) {
		apiSvc.Status(w, r, chi.URLParam(r, "addr"))
	})
	r.Get("/subscription/list", apiSvc.List)
	r.Get("/subscription/verify", apiSvc.Verify)
	r.Post("/subscription/claim", apiSvc.Claim)
	r.Post("/subscription/cancel", apiSvc.Cancel)

	r.Get("/payment/challenge", apiSvc.PaymentChallenge)
	r.Post("/verify-payment", apiSvc.VerifyPayment)

	r.Post("/webhook/tx-confirmed", apiSvc.WebhookTxConfirmed)
	r.Post("/webhook/block", apiSvc.WebhookBlock)

	return r
}
