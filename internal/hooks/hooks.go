// Package hooks implements Event Hooks: address-change callbacks that
// detect a covenant's genesis funding transaction landing on-chain and
// drive the pending_funding → active subscription transition
// asynchronously, per spec §4.12's state-machine note.
//
// Grounded on other_examples/1de3360a_square-beancounter's
// subscribe-then-push-loop channel pattern
// (BlockchainAddressSubscribe), adapted from a channel-based push loop
// to the Chain Adapter's scripthash-callback registration.
package hooks

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/electrum"
	"github.com/cashflow402/gateway/internal/store"
)

// ChainAdapter is the subset of the Chain Adapter Event Hooks needs.
type ChainAdapter interface {
	SubscribeAddress(ctx context.Context, address, network string, cb func(json.RawMessage)) (func(), error)
	GetContractUTXO(ctx context.Context, tokenAddress, network string) (*electrum.ContractUTXO, error)
}

// Hooks wires scripthash notifications to subscription-activation and
// balance-refresh side effects.
type Hooks struct {
	subs    *store.SubscriptionStore
	chain   ChainAdapter
	network string
	log     *slog.Logger
}

// New builds an Event Hooks dispatcher.
func New(subs *store.SubscriptionStore, chain ChainAdapter, network string, log *slog.Logger) *Hooks {
	if log == nil {
		log = slog.Default()
	}
	return &Hooks{subs: subs, chain: chain, network: network, log: log}
}

// WatchFunding subscribes to a covenant's token address and activates
// its subscription the first time a matching CashToken UTXO appears,
// per spec §4.12 ("triggered ... asynchronously by the scripthash
// subscription callback observing the genesis tx"). The callback never
// blocks the Chain Adapter's receive loop: it hands the actual lookup
// off to its own goroutine, per spec §5 "Shared resources".
func (h *Hooks) WatchFunding(ctx context.Context, contractAddress string) error {
	sub, err := h.subs.GetByAddress(contractAddress)
	if err != nil {
		return err
	}

	_, err = h.chain.SubscribeAddress(ctx, sub.TokenAddress, h.network, func(status json.RawMessage) {
		go h.handleFundingNotification(contractAddress)
	})
	return err
}

func (h *Hooks) handleFundingNotification(contractAddress string) {
	ctx := context.Background()
	sub, err := h.subs.GetByAddress(contractAddress)
	if err != nil {
		h.log.Warn("funding notification for unknown subscription", "contractAddress", contractAddress, "err", err)
		return
	}
	if sub.Status != store.StatusPendingFunding {
		return
	}

	utxo, err := h.chain.GetContractUTXO(ctx, sub.TokenAddress, h.network)
	if err != nil {
		h.log.Debug("contract utxo not yet visible", "contractAddress", contractAddress, "err", err)
		return
	}

	commitment, err := bchutil.ParseNftCommitment(hex.EncodeToString(utxo.Commitment))
	if err != nil {
		h.log.Warn("malformed genesis commitment", "contractAddress", contractAddress, "err", err)
		return
	}

	if err := h.subs.Patch(contractAddress, func(s *store.Subscription) {
		s.TokenCategory = utxo.TokenCategory
		s.Balance = store.NewSats(utxo.Sats)
		s.LastClaimBlock = int64(commitment.LastClaimBlock)
		s.Status = store.StatusActive
	}); err != nil {
		h.log.Warn("failed to activate subscription after funding", "contractAddress", contractAddress, "err", err)
		return
	}
	h.log.Info("subscription activated from on-chain funding", "contractAddress", contractAddress, "tokenCategory", utxo.TokenCategory)
}

// RefreshBalance re-reads the covenant's current on-chain balance and
// updates the stored record, used by GET /subscription/status/:addr
// (spec §6). A balance that has dropped to zero drives the
// active ──balance==0 refresh──▶ expired transition, per spec §4.12's
// state-machine note.
func (h *Hooks) RefreshBalance(ctx context.Context, contractAddress string) (*store.Subscription, error) {
	sub, err := h.subs.GetByAddress(contractAddress)
	if err != nil {
		return nil, err
	}
	if sub.Status != store.StatusActive {
		return sub, nil
	}

	utxo, err := h.chain.GetContractUTXO(ctx, sub.TokenAddress, h.network)
	if err != nil {
		return sub, nil
	}
	if err := h.subs.Patch(contractAddress, func(s *store.Subscription) {
		s.Balance = store.NewSats(utxo.Sats)
		if utxo.Sats == 0 {
			s.Status = store.StatusExpired
		}
	}); err != nil {
		return nil, err
	}
	return h.subs.GetByAddress(contractAddress)
}
