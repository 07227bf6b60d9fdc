package settlement

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/covenant"
	"github.com/cashflow402/gateway/internal/electrum"
	"github.com/cashflow402/gateway/internal/store"
)

const testNetwork = "chipnet"

type stubChain struct {
	utxo   *electrum.ContractUTXO
	height int64
}

func (s *stubChain) GetContractUTXO(ctx context.Context, tokenAddress, network string) (*electrum.ContractUTXO, error) {
	return s.utxo, nil
}

func (s *stubChain) GetBlockHeight(ctx context.Context) (int64, error) {
	return s.height, nil
}

func (s *stubChain) Broadcast(ctx context.Context, rawHex string) (string, error) {
	return "broadcasttxid", nil
}

func rawCommitment(t *testing.T, lastClaimBlock, authorizedSats int32) []byte {
	t.Helper()
	raw, err := hex.DecodeString(bchutil.BuildNftCommitment(lastClaimBlock, authorizedSats))
	require.NoError(t, err)
	return raw
}

func sampleTxid(fill byte) string {
	return strings.Repeat(hex.EncodeToString([]byte{fill}), 32)
}

func newTestOrchestrator(t *testing.T, chain ChainAdapter) (*Orchestrator, *store.SubscriptionStore, *store.UsageStore) {
	t.Helper()
	dir := t.TempDir()
	subs, err := store.NewSubscriptionStore(filepath.Join(dir, "subs.json"))
	require.NoError(t, err)
	usage, err := store.NewUsageStore(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)

	merchantKeypair, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)

	orch := New(subs, usage, chain, testNetwork, merchantKeypair.PKH, merchantKeypair.Priv)
	return orch, subs, usage
}

type fixture struct {
	sub           *store.Subscription
	subscriberWIF string
}

func setupActiveSubscription(t *testing.T, subs *store.SubscriptionStore, usage *store.UsageStore, intervalBlocks int64, authorizedSats int64) *fixture {
	t.Helper()
	subscriberKeypair, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)
	merchantKeypair, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)

	inst, err := covenant.Instantiate(covenant.Params{
		MerchantPKH:    [20]byte{0x01},
		SubscriberPKH:  subscriberKeypair.PKH,
		IntervalBlocks: intervalBlocks,
		MaxSats:        authorizedSats,
		Network:        testNetwork,
	})
	require.NoError(t, err)

	sub := &store.Subscription{
		ContractAddress:   inst.ContractAddress,
		TokenAddress:      inst.TokenAddress,
		TokenCategory:     "cat1",
		SubscriberAddress: subscriberKeypair.Address,
		MerchantAddress:   merchantKeypair.Address,
		IntervalBlocks:    intervalBlocks,
		AuthorizedSats:    store.NewSats(authorizedSats),
		Balance:           store.NewSats(20000),
		Status:            store.StatusActive,
	}
	require.NoError(t, subs.Add(sub))
	_, err = usage.RecordUsage("cat1", inst.ContractAddress, "/api/x", "req1", store.NewSats(1000000), store.NewSats(500), "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	return &fixture{sub: sub, subscriberWIF: subscriberKeypair.WIF}
}

func TestClaimSucceedsWhenIntervalElapsed(t *testing.T) {
	chain := &stubChain{
		utxo: &electrum.ContractUTXO{
			Txid:          sampleTxid(0xab),
			Vout:          0,
			Sats:          20000,
			TokenCategory: "cat1",
			Commitment:    rawCommitment(t, 0, 20000),
		},
		height: 1000,
	}
	orch, subs, usage := newTestOrchestrator(t, chain)
	fx := setupActiveSubscription(t, subs, usage, 10, 20000)

	result, err := orch.Claim(context.Background(), fx.sub.ContractAddress)
	require.NoError(t, err)
	require.Equal(t, "broadcasttxid", result.Txid)
	require.Equal(t, int64(500), result.ClaimedSats)

	updated, err := subs.GetByAddress(fx.sub.ContractAddress)
	require.NoError(t, err)
	require.Equal(t, int64(1000), updated.LastClaimBlock)

	usageAfter := usage.GetUsage("cat1")
	require.Equal(t, int64(0), usageAfter.PendingSats.Int64())
}

func TestClaimFailsWhenIntervalNotElapsed(t *testing.T) {
	chain := &stubChain{
		utxo: &electrum.ContractUTXO{
			Txid:          sampleTxid(0xaa),
			Vout:          0,
			Sats:          20000,
			TokenCategory: "cat1",
			Commitment:    rawCommitment(t, 990, 20000),
		},
		height: 995,
	}
	orch, subs, usage := newTestOrchestrator(t, chain)
	fx := setupActiveSubscription(t, subs, usage, 100, 20000)

	_, err := orch.Claim(context.Background(), fx.sub.ContractAddress)
	require.Error(t, err)
	require.Contains(t, err.Error(), IntervalNotElapsedMessage)
}

func TestClaimFailsWhenExceedsAuthorizedRemaining(t *testing.T) {
	chain := &stubChain{
		utxo: &electrum.ContractUTXO{
			Txid:          sampleTxid(0xac),
			Vout:          0,
			Sats:          20000,
			TokenCategory: "cat1",
			Commitment:    rawCommitment(t, 0, 100), // remaining cap below the 500-sat pending claim
		},
		height: 1000,
	}
	orch, subs, usage := newTestOrchestrator(t, chain)
	fx := setupActiveSubscription(t, subs, usage, 10, 20000)

	_, err := orch.Claim(context.Background(), fx.sub.ContractAddress)
	require.Error(t, err)
}

func TestClaimFailsWhenNoPendingUsage(t *testing.T) {
	chain := &stubChain{height: 1000}
	orch, subs, usage := newTestOrchestrator(t, chain)
	fx := setupActiveSubscription(t, subs, usage, 10, 20000)
	require.NoError(t, usage.ResetPendingSats("cat1", usage.GetUsage("cat1").PendingSats))

	_, err := orch.Claim(context.Background(), fx.sub.ContractAddress)
	require.Error(t, err)
}

func TestClaimAllSkipsZeroPending(t *testing.T) {
	chain := &stubChain{height: 1000}
	orch, subs, usage := newTestOrchestrator(t, chain)
	setupActiveSubscription(t, subs, usage, 10, 20000)
	require.NoError(t, usage.ResetPendingSats("cat1", usage.GetUsage("cat1").PendingSats))

	result, err := orch.ClaimAll(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	require.Equal(t, "skipped", result.Results[0].Outcome)
}

func TestCancelSweepsFullBalanceAndMarksCancelled(t *testing.T) {
	chain := &stubChain{
		utxo: &electrum.ContractUTXO{
			Txid: sampleTxid(0xcd),
			Vout: 0,
			Sats: 19500,
		},
	}
	orch, subs, usage := newTestOrchestrator(t, chain)
	fx := setupActiveSubscription(t, subs, usage, 10, 20000)

	result, err := orch.Cancel(context.Background(), fx.sub.ContractAddress, fx.subscriberWIF)
	require.NoError(t, err)
	require.Equal(t, "broadcasttxid", result.Txid)
	require.Equal(t, int64(19500), result.RefundedSats)

	updated, err := subs.GetByAddress(fx.sub.ContractAddress)
	require.NoError(t, err)
	require.Equal(t, store.StatusCancelled, updated.Status)
}

func TestCancelRejectsNonActiveSubscription(t *testing.T) {
	chain := &stubChain{}
	orch, subs, usage := newTestOrchestrator(t, chain)
	fx := setupActiveSubscription(t, subs, usage, 10, 20000)
	require.NoError(t, subs.SetStatus(fx.sub.ContractAddress, store.StatusCancelled))

	_, err := orch.Cancel(context.Background(), fx.sub.ContractAddress, fx.subscriberWIF)
	require.Error(t, err)
}
