package hooks

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/electrum"
	"github.com/cashflow402/gateway/internal/store"
)

const testNetwork = "chipnet"

type stubChain struct {
	utxo    *electrum.ContractUTXO
	utxoErr error
	cb      func(json.RawMessage)
}

func (s *stubChain) SubscribeAddress(ctx context.Context, address, network string, cb func(json.RawMessage)) (func(), error) {
	s.cb = cb
	return func() {}, nil
}

func (s *stubChain) GetContractUTXO(ctx context.Context, tokenAddress, network string) (*electrum.ContractUTXO, error) {
	if s.utxoErr != nil {
		return nil, s.utxoErr
	}
	return s.utxo, nil
}

func setupPendingSubscription(t *testing.T) (*store.SubscriptionStore, *store.Subscription) {
	t.Helper()
	dir := t.TempDir()
	subs, err := store.NewSubscriptionStore(filepath.Join(dir, "subs.json"))
	require.NoError(t, err)

	sub := &store.Subscription{
		ContractAddress: "bchtest:contract1",
		TokenAddress:    "bchtest:token1",
		TokenCategory:   "pending_abc",
		Status:          store.StatusPendingFunding,
		AuthorizedSats:  store.NewSats(20000),
		Balance:         store.NewSats(0),
	}
	require.NoError(t, subs.Add(sub))
	return subs, sub
}

func TestWatchFundingActivatesOnNotification(t *testing.T) {
	commitment, err := hex.DecodeString(bchutil.BuildNftCommitment(0, 20000))
	require.NoError(t, err)

	chain := &stubChain{utxo: &electrum.ContractUTXO{
		Txid:          "abc",
		Sats:          20000,
		TokenCategory: "realcat123",
		Commitment:    commitment,
	}}
	subs, sub := setupPendingSubscription(t)
	h := New(subs, chain, testNetwork, nil)

	require.NoError(t, h.WatchFunding(context.Background(), sub.ContractAddress))
	require.NotNil(t, chain.cb)

	h.handleFundingNotification(sub.ContractAddress)

	updated, err := subs.GetByAddress(sub.ContractAddress)
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, updated.Status)
	require.Equal(t, "realcat123", updated.TokenCategory)
	require.Equal(t, int64(20000), updated.Balance.Int64())
}

func TestHandleFundingNotificationIgnoresAlreadyActive(t *testing.T) {
	subs, sub := setupPendingSubscription(t)
	require.NoError(t, subs.SetStatus(sub.ContractAddress, store.StatusActive))
	chain := &stubChain{}
	h := New(subs, chain, testNetwork, nil)

	h.handleFundingNotification(sub.ContractAddress)

	updated, err := subs.GetByAddress(sub.ContractAddress)
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, updated.Status)
}

func TestRefreshBalanceUpdatesFromChain(t *testing.T) {
	subs, sub := setupPendingSubscription(t)
	require.NoError(t, subs.SetStatus(sub.ContractAddress, store.StatusActive))
	chain := &stubChain{utxo: &electrum.ContractUTXO{Sats: 15000}}
	h := New(subs, chain, testNetwork, nil)

	updated, err := h.RefreshBalance(context.Background(), sub.ContractAddress)
	require.NoError(t, err)
	require.Equal(t, int64(15000), updated.Balance.Int64())
}

func TestRefreshBalanceExpiresSubscriptionWhenBalanceReachesZero(t *testing.T) {
	subs, sub := setupPendingSubscription(t)
	require.NoError(t, subs.SetStatus(sub.ContractAddress, store.StatusActive))
	chain := &stubChain{utxo: &electrum.ContractUTXO{Sats: 0}}
	h := New(subs, chain, testNetwork, nil)

	updated, err := h.RefreshBalance(context.Background(), sub.ContractAddress)
	require.NoError(t, err)
	require.Equal(t, int64(0), updated.Balance.Int64())
	require.Equal(t, store.StatusExpired, updated.Status)
}
