// Package merchant implements the merchant-facing HTTP surface (spec
// §6): plan CRUD, the aggregate dashboard, batch settlement, and
// covenant deployment for new subscriptions.
//
// Grounded on other_examples/2b37db86_josephblackelite-nhbchain's
// webhook Server/writeJSON dispatch idiom — a plain struct of
// collaborators with one method per route, no framework-specific
// handler type.
package merchant

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/covenant"
	"github.com/cashflow402/gateway/internal/gateway"
	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/cashflow402/gateway/internal/settlement"
	"github.com/cashflow402/gateway/internal/store"
)

// ChainAdapter is the subset of the Chain Adapter the merchant surface
// needs, narrowed for test doubles.
type ChainAdapter interface {
	GetBlockHeight(ctx context.Context) (int64, error)
}

// ClaimAller is the subset of the Settlement Orchestrator the
// claim-all handler needs.
type ClaimAller interface {
	ClaimAll(ctx context.Context) (*settlement.ClaimAllResult, error)
}

// Watcher is the subset of Event Hooks the deploy handlers use to
// start watching a freshly-instantiated covenant for its genesis
// funding transaction.
type Watcher interface {
	WatchFunding(ctx context.Context, contractAddress string) error
}

// Defaults bundles the merchant-wide settings a deploy falls back to
// when a request omits planId and explicit interval/authorized sats.
type Defaults struct {
	MerchantAddress       string
	MerchantPKH           [20]byte
	Network               string
	IntervalBlocks        int64
	AuthorizedSats        int64
	DepositSats           int64
}

// Service implements the merchant-facing handlers.
type Service struct {
	plans    *store.PlanStore
	subs     *store.SubscriptionStore
	usage    *store.UsageStore
	chain    ChainAdapter
	orch     ClaimAller
	watcher  Watcher
	defaults Defaults
	log      *slog.Logger
}

// New builds a merchant Service.
func New(plans *store.PlanStore, subs *store.SubscriptionStore, usage *store.UsageStore, chain ChainAdapter, orch ClaimAller, watcher Watcher, defaults Defaults, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{plans: plans, subs: subs, usage: usage, chain: chain, orch: orch, watcher: watcher, defaults: defaults, log: log}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return gwerrors.Wrap(gwerrors.BadRequest, "malformed request body", err)
	}
	return nil
}

// createPlanRequest is the POST /merchant/plan body.
type createPlanRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	AuthorizedSats int64    `json:"authorizedSats"`
	IntervalBlocks int64    `json:"intervalBlocks"`
	PerCallSats    int64    `json:"perCallSats"`
	AllowedPaths   []string `json:"allowedPaths"`
}

// CreatePlan handles POST /merchant/plan.
func (s *Service) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := decodeBody(r, &req); err != nil {
		err.(*gwerrors.GatewayError).Write(w)
		return
	}
	if req.Name == "" || req.AuthorizedSats <= 0 {
		gwerrors.New(gwerrors.BadRequest, "name and authorizedSats are required").Write(w)
		return
	}

	intervalBlocks := req.IntervalBlocks
	if intervalBlocks <= 0 {
		intervalBlocks = s.defaults.IntervalBlocks
	}
	if err := covenant.ValidateIntervalBlocks(intervalBlocks); err != nil {
		err.(*gwerrors.GatewayError).Write(w)
		return
	}
	perCallSats := req.PerCallSats
	if perCallSats <= 0 {
		perCallSats = s.defaults.AuthorizedSats / 100
	}

	plan := &store.Plan{
		PlanID:          uuid.NewString(),
		Name:            req.Name,
		Description:     req.Description,
		AuthorizedSats:  store.NewSats(req.AuthorizedSats),
		IntervalBlocks:  intervalBlocks,
		PerCallSats:     store.NewSats(perCallSats),
		AllowedPaths:    req.AllowedPaths,
		MerchantAddress: s.defaults.MerchantAddress,
		Status:          store.PlanActive,
	}
	if err := s.plans.Add(plan); err != nil {
		gwerrors.Wrap(gwerrors.ServerError, "persist plan", err).Write(w)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// ListPlans handles GET /merchant/plans.
func (s *Service) ListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.plans.GetByMerchant(s.defaults.MerchantAddress))
}

// GetPlan handles GET /merchant/plans/:id.
func (s *Service) GetPlan(w http.ResponseWriter, r *http.Request, planID string) {
	plan, err := s.plans.Get(planID)
	if err != nil {
		gwerrors.New(gwerrors.NotFound, "plan not found").Write(w)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// patchPlanRequest is the PATCH /merchant/plans/:id body. Every field
// is a pointer so an absent key leaves the existing value untouched.
type patchPlanRequest struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	Status       *string   `json:"status"`
	AllowedPaths *[]string `json:"allowedPaths"`
	PerCallSats  *int64    `json:"perCallSats"`
}

// UpdatePlan handles PATCH /merchant/plans/:id.
func (s *Service) UpdatePlan(w http.ResponseWriter, r *http.Request, planID string) {
	var req patchPlanRequest
	if err := decodeBody(r, &req); err != nil {
		err.(*gwerrors.GatewayError).Write(w)
		return
	}

	err := s.plans.Patch(planID, func(plan *store.Plan) {
		if req.Name != nil {
			plan.Name = *req.Name
		}
		if req.Description != nil {
			plan.Description = *req.Description
		}
		if req.Status != nil {
			plan.Status = store.PlanStatus(*req.Status)
		}
		if req.AllowedPaths != nil {
			plan.AllowedPaths = *req.AllowedPaths
		}
		if req.PerCallSats != nil {
			plan.PerCallSats = store.NewSats(*req.PerCallSats)
		}
	})
	if err != nil {
		gwerrors.New(gwerrors.NotFound, "plan not found").Write(w)
		return
	}
	plan, _ := s.plans.Get(planID)
	writeJSON(w, http.StatusOK, plan)
}

// dashboardResponse is the GET /merchant/dashboard body.
type dashboardResponse struct {
	Summary struct {
		TotalPlans         int   `json:"totalPlans"`
		TotalSubscriptions int   `json:"totalSubscriptions"`
		TotalPendingSats   int64 `json:"totalPendingSats"`
	} `json:"summary"`
	Plans         []*store.Plan         `json:"plans"`
	Subscriptions []*store.Subscription `json:"subscriptions"`
	Usage         []store.Usage         `json:"usage"`
}

// Dashboard handles GET /merchant/dashboard.
func (s *Service) Dashboard(w http.ResponseWriter, r *http.Request) {
	plans := s.plans.GetByMerchant(s.defaults.MerchantAddress)
	subs, err := s.subs.GetByMerchant(s.defaults.MerchantAddress)
	if err != nil {
		gwerrors.Wrap(gwerrors.ServerError, "load subscriptions", err).Write(w)
		return
	}

	resp := dashboardResponse{Plans: plans, Subscriptions: subs}
	resp.Summary.TotalPlans = len(plans)
	resp.Summary.TotalSubscriptions = len(subs)
	for _, sub := range subs {
		u := s.usage.GetUsage(sub.TokenCategory)
		resp.Usage = append(resp.Usage, u)
		resp.Summary.TotalPendingSats += u.PendingSats.Int64()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClaimAll handles POST /merchant/claim-all.
func (s *Service) ClaimAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.ClaimAll(r.Context())
	if err != nil {
		gwerrors.Wrap(gwerrors.ServerError, "claim all", err).Write(w)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// deployRequest is the POST /deploy-subscription body.
type deployRequest struct {
	SubscriberAddress string `json:"subscriberAddress"`
	PlanID            string `json:"planId"`
	IntervalBlocks    int64  `json:"intervalBlocks"`
	AuthorizedSats    int64  `json:"authorizedSats"`
}

// deployResponse is the shared shape DeploySubscription and
// CreateSession both return, per spec §6.
type deployResponse struct {
	ContractAddress   string `json:"contractAddress"`
	TokenAddress      string `json:"tokenAddress"`
	TokenCategory     string `json:"tokenCategory"`
	GenesisCommitment string `json:"genesisCommitment"`
	FundingURI        string `json:"fundingUri"`
	DepositSats       int64  `json:"depositSats"`
	StartBlock        int64  `json:"startBlock"`
	SubscriberAddress string `json:"subscriberAddress"`
	SubscriberWIF     string `json:"subscriberWif,omitempty"`
}

// DeploySubscription handles POST /deploy-subscription.
func (s *Service) DeploySubscription(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := decodeBody(r, &req); err != nil {
		err.(*gwerrors.GatewayError).Write(w)
		return
	}
	if req.SubscriberAddress == "" {
		gwerrors.New(gwerrors.BadRequest, "subscriberAddress is required").Write(w)
		return
	}

	resp, err := s.deploy(r.Context(), req.SubscriberAddress, req.PlanID, req.IntervalBlocks, req.AuthorizedSats)
	if err != nil {
		writeDeployError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateSession handles POST /subscription/create-session: generates a
// fresh subscriber keypair server-side (demo/testing convenience) and
// deploys a covenant against it.
func (s *Service) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if r.Body != nil {
		_ = decodeBody(r, &req) // optional body: planId or interval/authorized overrides
	}

	subscriber, err := bchutil.GenerateKeypair(s.defaults.Network)
	if err != nil {
		gwerrors.Wrap(gwerrors.ServerError, "generate subscriber keypair", err).Write(w)
		return
	}

	resp, derr := s.deploy(r.Context(), subscriber.Address, req.PlanID, req.IntervalBlocks, req.AuthorizedSats)
	if derr != nil {
		writeDeployError(w, derr)
		return
	}
	resp.SubscriberWIF = subscriber.WIF
	writeJSON(w, http.StatusOK, resp)
}

func writeDeployError(w http.ResponseWriter, err error) {
	if gerr, ok := gwerrors.As(err); ok {
		gerr.Write(w)
		return
	}
	gwerrors.Wrap(gwerrors.ServerError, "deploy subscription", err).Write(w)
}

func (s *Service) deploy(ctx context.Context, subscriberAddress, planID string, intervalBlocks, authorizedSats int64) (*deployResponse, error) {
	var boundPlan *store.Plan
	if planID != "" {
		plan, err := s.plans.Get(planID)
		if err != nil {
			return nil, gwerrors.New(gwerrors.NotFound, "plan not found")
		}
		boundPlan = plan
		intervalBlocks = plan.IntervalBlocks
		authorizedSats = plan.AuthorizedSats.Int64()
	}
	if intervalBlocks <= 0 {
		intervalBlocks = s.defaults.IntervalBlocks
	}
	if authorizedSats <= 0 {
		authorizedSats = s.defaults.AuthorizedSats
	}
	if err := covenant.ValidateIntervalBlocks(intervalBlocks); err != nil {
		return nil, err
	}

	subscriberPKH, err := bchutil.AddressToPKH(subscriberAddress, s.defaults.Network)
	if err != nil {
		return nil, err
	}

	instance, err := covenant.Instantiate(covenant.Params{
		MerchantPKH:    s.defaults.MerchantPKH,
		SubscriberPKH:  subscriberPKH,
		IntervalBlocks: intervalBlocks,
		MaxSats:        authorizedSats,
		Network:        s.defaults.Network,
	})
	if err != nil {
		return nil, err
	}

	pendingCategory := "pending_" + uuid.NewString()
	commitmentHex := bchutil.BuildNftCommitment(0, int32(authorizedSats))

	startBlock, err := s.chain.GetBlockHeight(ctx)
	if err != nil {
		startBlock = 0
	}

	depositSats := s.defaults.DepositSats

	now := time.Now().UTC().Format(time.RFC3339)
	sub := &store.Subscription{
		ContractAddress:   instance.ContractAddress,
		TokenAddress:      instance.TokenAddress,
		TokenCategory:     pendingCategory,
		MerchantPKH:       hex.EncodeToString(s.defaults.MerchantPKH[:]),
		SubscriberPKH:     hex.EncodeToString(subscriberPKH[:]),
		MerchantAddress:   s.defaults.MerchantAddress,
		SubscriberAddress: subscriberAddress,
		IntervalBlocks:    intervalBlocks,
		AuthorizedSats:    store.NewSats(authorizedSats),
		DepositSats:       store.NewSats(depositSats),
		LastClaimBlock:    startBlock,
		Balance:           store.NewSats(0),
		Status:            store.StatusPendingFunding,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if boundPlan != nil {
		sub.PlanID = boundPlan.PlanID
	}
	if err := s.subs.Add(sub); err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "persist subscription", err)
	}
	if boundPlan != nil {
		_ = s.plans.IncrementSubscribers(boundPlan.PlanID)
	}

	if s.watcher != nil {
		contractAddress := instance.ContractAddress
		go func() {
			if err := s.watcher.WatchFunding(context.Background(), contractAddress); err != nil {
				s.log.Warn("failed to start funding watch", "contractAddress", contractAddress, "err", err)
			}
		}()
	}

	fundingURI := gateway.BuildPaymentURI(instance.TokenAddress, depositSats, "CashFlow402 Subscription", "", pendingCategory, "")

	return &deployResponse{
		ContractAddress:   instance.ContractAddress,
		TokenAddress:      instance.TokenAddress,
		TokenCategory:     pendingCategory,
		GenesisCommitment: commitmentHex,
		FundingURI:        fundingURI,
		DepositSats:       depositSats,
		StartBlock:        startBlock,
		SubscriberAddress: subscriberAddress,
	}, nil
}
