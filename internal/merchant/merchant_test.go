package merchant

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/settlement"
	"github.com/cashflow402/gateway/internal/store"
)

const testNetwork = "chipnet"

type stubChain struct{ height int64 }

func (s *stubChain) GetBlockHeight(ctx context.Context) (int64, error) { return s.height, nil }

type stubClaimAller struct{ result *settlement.ClaimAllResult }

func (s *stubClaimAller) ClaimAll(ctx context.Context) (*settlement.ClaimAllResult, error) {
	return s.result, nil
}

type stubWatcher struct{ watched chan string }

func (s *stubWatcher) WatchFunding(ctx context.Context, contractAddress string) error {
	s.watched <- contractAddress
	return nil
}

func newTestService(t *testing.T) (*Service, *store.SubscriptionStore, *store.PlanStore) {
	t.Helper()
	dir := t.TempDir()
	plans, err := store.NewPlanStore(filepath.Join(dir, "plans.json"))
	require.NoError(t, err)
	subs, err := store.NewSubscriptionStore(filepath.Join(dir, "subs.json"))
	require.NoError(t, err)
	usage, err := store.NewUsageStore(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)

	merchant, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)

	defaults := Defaults{
		MerchantAddress: merchant.Address,
		MerchantPKH:     merchant.PKH,
		Network:         testNetwork,
		IntervalBlocks:  144,
		AuthorizedSats:  20000,
		DepositSats:     11000,
	}
	svc := New(plans, subs, usage, &stubChain{height: 800000}, &stubClaimAller{result: &settlement.ClaimAllResult{}}, nil, defaults, nil)
	return svc, subs, plans
}

func TestCreatePlanRejectsMissingFields(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/merchant/plan", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	svc.CreatePlan(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePlanSucceeds(t *testing.T) {
	svc, _, plans := newTestService(t)

	body := `{"name":"Gold","authorizedSats":50000,"allowedPaths":["/api/weather"]}`
	req := httptest.NewRequest(http.MethodPost, "/merchant/plan", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	svc.CreatePlan(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var plan store.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Equal(t, "Gold", plan.Name)
	require.Equal(t, store.PlanActive, plan.Status)

	stored, err := plans.Get(plan.PlanID)
	require.NoError(t, err)
	require.Equal(t, int64(50000), stored.AuthorizedSats.Int64())
}

func TestUpdatePlanAppliesPartialFields(t *testing.T) {
	svc, _, plans := newTestService(t)
	plan := &store.Plan{PlanID: "p1", Name: "Old", Status: store.PlanActive, AuthorizedSats: store.NewSats(1000), PerCallSats: store.NewSats(10)}
	require.NoError(t, plans.Add(plan))

	body := `{"status":"paused"}`
	req := httptest.NewRequest(http.MethodPatch, "/merchant/plans/p1", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	svc.UpdatePlan(rec, req, "p1")

	require.Equal(t, http.StatusOK, rec.Code)
	updated, err := plans.Get("p1")
	require.NoError(t, err)
	require.Equal(t, store.PlanPaused, updated.Status)
	require.Equal(t, "Old", updated.Name)
}

func TestDeploySubscriptionCreatesRecordAndWatchesFunding(t *testing.T) {
	svc, subs, _ := newTestService(t)
	watcher := &stubWatcher{watched: make(chan string, 1)}
	svc.watcher = watcher

	subscriber, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)

	body := `{"subscriberAddress":"` + subscriber.Address + `"}`
	req := httptest.NewRequest(http.MethodPost, "/deploy-subscription", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	svc.DeploySubscription(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp deployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.TokenCategory, "pending_")
	require.NotEmpty(t, resp.ContractAddress)
	require.Equal(t, int64(11000), resp.DepositSats)

	sub, err := subs.GetByAddress(resp.ContractAddress)
	require.NoError(t, err)
	require.Equal(t, store.StatusPendingFunding, sub.Status)

	require.Equal(t, resp.ContractAddress, <-watcher.watched)
}

func TestCreateSessionGeneratesSubscriberKeypair(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/subscription/create-session", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	svc.CreateSession(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp deployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SubscriberWIF)
	require.NotEmpty(t, resp.SubscriberAddress)
}

func TestDashboardAggregatesPlansAndSubscriptions(t *testing.T) {
	svc, subs, plans := newTestService(t)
	require.NoError(t, plans.Add(&store.Plan{PlanID: "p1", MerchantAddress: svc.defaults.MerchantAddress, Status: store.PlanActive, AuthorizedSats: store.NewSats(1000), PerCallSats: store.NewSats(10)}))
	require.NoError(t, subs.Add(&store.Subscription{ContractAddress: "bchtest:c1", TokenCategory: "cat1", MerchantAddress: svc.defaults.MerchantAddress, Status: store.StatusActive, Balance: store.NewSats(5000)}))

	req := httptest.NewRequest(http.MethodGet, "/merchant/dashboard", nil)
	rec := httptest.NewRecorder()
	svc.Dashboard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Summary.TotalPlans)
	require.Equal(t, 1, resp.Summary.TotalSubscriptions)
}
