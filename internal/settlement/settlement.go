// Package settlement implements the Settlement Orchestrator (spec
// §4.12): on-chain claim, batch claim-all, and cancel for metered
// subscription covenants, plus the pending_funding → active → claim →
// cancelled/expired state machine.
//
// Grounded on src/chainadapter/bitcoin/builder.go's transaction
// assembly idiom and the teacher's overall "adapter builds, signer
// signs, broadcaster relays" pipeline shape.
package settlement

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/gcash/bchd/bchec"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/covenant"
	"github.com/cashflow402/gateway/internal/electrum"
	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/cashflow402/gateway/internal/store"
	"github.com/cashflow402/gateway/internal/txbuilder"
)

// ChainAdapter is the subset of the Chain Adapter the orchestrator
// needs, narrowed for test doubles.
type ChainAdapter interface {
	GetContractUTXO(ctx context.Context, tokenAddress, network string) (*electrum.ContractUTXO, error)
	GetBlockHeight(ctx context.Context) (int64, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// Orchestrator is the Settlement Orchestrator.
type Orchestrator struct {
	subs    *store.SubscriptionStore
	usage   *store.UsageStore
	chain   ChainAdapter
	network string

	merchantPKH  [20]byte
	merchantPriv *bchec.PrivateKey
}

// New builds an Orchestrator bound to its stores, chain adapter, and
// the merchant signing key used for every claim.
func New(subs *store.SubscriptionStore, usage *store.UsageStore, chain ChainAdapter, network string, merchantPKH [20]byte, merchantPriv *bchec.PrivateKey) *Orchestrator {
	return &Orchestrator{
		subs:         subs,
		usage:        usage,
		chain:        chain,
		network:      network,
		merchantPKH:  merchantPKH,
		merchantPriv: merchantPriv,
	}
}

// ClaimResult is the outcome of a successful Claim.
type ClaimResult struct {
	Txid                string
	ClaimedSats         int64
	NextClaimAfterBlock int64
}

// IntervalNotElapsedMessage is the exact substring claimAll's
// skipped-vs-error classification matches against, per spec §4.12.
const IntervalNotElapsedMessage = "Interval not yet elapsed"

// Claim settles a single subscription's pending usage on-chain, per
// spec §4.12.
func (o *Orchestrator) Claim(ctx context.Context, contractAddress string) (*ClaimResult, error) {
	sub, err := o.subs.GetByAddress(contractAddress)
	if err != nil {
		return nil, err
	}
	if sub.Status != store.StatusActive {
		return nil, gwerrors.New(gwerrors.Conflict, "subscription is not active")
	}

	usage := o.usage.GetUsage(sub.TokenCategory)
	if usage.PendingSats.Int64() == 0 {
		return nil, gwerrors.New(gwerrors.BadRequest, "no pending usage to claim")
	}

	result, newBalance, newLastClaimBlock, err := o.buildAndBroadcastClaim(ctx, sub, usage.PendingSats.Int64())
	if err != nil {
		return nil, err
	}

	if err := o.subs.RecordClaim(contractAddress, newLastClaimBlock, store.NewSats(newBalance)); err != nil {
		return nil, err
	}
	if err := o.usage.ResetPendingSats(sub.TokenCategory, usage.PendingSats); err != nil {
		return nil, err
	}

	return result, nil
}

func (o *Orchestrator) buildAndBroadcastClaim(ctx context.Context, sub *store.Subscription, requestedSats int64) (*ClaimResult, int64, int64, error) {
	contractUTXO, err := o.chain.GetContractUTXO(ctx, sub.TokenAddress, o.network)
	if err != nil {
		return nil, 0, 0, err
	}
	commitment, err := bchutil.ParseNftCommitment(hex.EncodeToString(contractUTXO.Commitment))
	if err != nil {
		return nil, 0, 0, err
	}

	currentHeight, err := o.chain.GetBlockHeight(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	if currentHeight < int64(commitment.LastClaimBlock)+sub.IntervalBlocks {
		return nil, 0, 0, gwerrors.New(gwerrors.Conflict, IntervalNotElapsedMessage)
	}

	claimedSats := requestedSats
	if int64(commitment.AuthorizedSats) < claimedSats {
		return nil, 0, 0, gwerrors.New(gwerrors.Conflict, "claim exceeds authorized remaining balance").WithHint("ExceedsAuthorized")
	}

	newBalance := contractUTXO.Sats - claimedSats
	newAuthorizedRemaining := int32(int64(commitment.AuthorizedSats) - claimedSats)
	newCommitment := covenant.NewCommitment(int32(currentHeight), newAuthorizedRemaining)

	redeemScript, err := covenant.BuildRedeemScript(covenant.Params{
		MerchantPKH:    o.merchantPKH,
		SubscriberPKH:  pkhFromAddress(sub.SubscriberAddress, o.network),
		IntervalBlocks: sub.IntervalBlocks,
		MaxSats:        sub.AuthorizedSats.Int64(),
		Network:        o.network,
	})
	if err != nil {
		return nil, 0, 0, err
	}

	outputs := make([]txbuilder.Output, 0, 2)
	if newBalance >= txbuilder.DustThresholdSats {
		prefix, err := txbuilder.NFTCashTokenPrefix(contractUTXO.TokenCategory, newCommitment)
		if err != nil {
			return nil, 0, 0, err
		}
		tokenScript, err := bchutil.AddressToLockingBytecode(sub.TokenAddress, o.network)
		if err != nil {
			return nil, 0, 0, err
		}
		outputs = append(outputs, txbuilder.Output{Script: append(prefix, tokenScript...), Value: newBalance})
	}
	merchantScript, err := bchutil.AddressToLockingBytecode(sub.MerchantAddress, o.network)
	if err != nil {
		return nil, 0, 0, err
	}
	outputs = append(outputs, txbuilder.Output{Script: merchantScript, Value: claimedSats})

	utxo := txbuilder.UTXO{Txid: contractUTXO.Txid, Vout: contractUTXO.Vout, Sats: contractUTXO.Sats, Script: redeemScript}
	tx, err := txbuilder.Build([]txbuilder.UTXO{utxo}, outputs, 0)
	if err != nil {
		return nil, 0, 0, err
	}
	tx.TxIn[0].Sequence = covenant.SequenceForInterval(sub.IntervalBlocks)

	inputs := txbuilder.PreimageInputsFor(tx, []txbuilder.UTXO{utxo}, [][]byte{redeemScript})
	sigHash, err := txbuilder.ComputeSighash(tx, inputs, 0, txbuilder.SighashAllForkID)
	if err != nil {
		return nil, 0, 0, err
	}
	sigBytes, err := txbuilder.SchnorrSignWithHashType(o.merchantPriv, sigHash[:], txbuilder.SighashAllForkID)
	if err != nil {
		return nil, 0, 0, err
	}

	unlockScript, err := covenant.ClaimUnlockScript(sigBytes, redeemScript)
	if err != nil {
		return nil, 0, 0, err
	}
	tx.TxIn[0].SignatureScript = unlockScript

	rawHex, err := txbuilder.SerializeHex(tx)
	if err != nil {
		return nil, 0, 0, err
	}
	txid, err := o.chain.Broadcast(ctx, rawHex)
	if err != nil {
		return nil, 0, 0, err
	}

	return &ClaimResult{
		Txid:                txid,
		ClaimedSats:         claimedSats,
		NextClaimAfterBlock: currentHeight + sub.IntervalBlocks,
	}, newBalance, currentHeight, nil
}

// SubscriptionClaimOutcome is one entry in ClaimAll's results.
type SubscriptionClaimOutcome struct {
	ContractAddress string
	Outcome         string // "claimed" | "skipped" | "error"
	Txid            string
	ClaimedSats     int64
	Message         string
}

// ClaimAllResult is the outcome of a batch settlement sweep.
type ClaimAllResult struct {
	Results          []SubscriptionClaimOutcome
	TotalClaimedSats int64
}

// ClaimAll iterates every active subscription, attempting a claim on
// each, per spec §4.12.
func (o *Orchestrator) ClaimAll(ctx context.Context) (*ClaimAllResult, error) {
	subs, err := o.subs.GetAll()
	if err != nil {
		return nil, err
	}

	result := &ClaimAllResult{Results: make([]SubscriptionClaimOutcome, 0, len(subs))}
	for _, sub := range subs {
		if sub.Status != store.StatusActive {
			continue
		}
		usage := o.usage.GetUsage(sub.TokenCategory)
		if usage.PendingSats.Int64() == 0 {
			result.Results = append(result.Results, SubscriptionClaimOutcome{
				ContractAddress: sub.ContractAddress,
				Outcome:         "skipped",
				Message:         "no pending usage",
			})
			continue
		}

		claimed, err := o.Claim(ctx, sub.ContractAddress)
		if err != nil {
			if isIntervalNotElapsed(err) {
				result.Results = append(result.Results, SubscriptionClaimOutcome{
					ContractAddress: sub.ContractAddress,
					Outcome:         "skipped",
					Message:         IntervalNotElapsedMessage,
				})
				continue
			}
			result.Results = append(result.Results, SubscriptionClaimOutcome{
				ContractAddress: sub.ContractAddress,
				Outcome:         "error",
				Message:         err.Error(),
			})
			continue
		}
		result.Results = append(result.Results, SubscriptionClaimOutcome{
			ContractAddress: sub.ContractAddress,
			Outcome:         "claimed",
			Txid:            claimed.Txid,
			ClaimedSats:     claimed.ClaimedSats,
		})
		result.TotalClaimedSats += claimed.ClaimedSats
	}
	return result, nil
}

func isIntervalNotElapsed(err error) bool {
	gerr, ok := gwerrors.As(err)
	return ok && strings.Contains(gerr.Message, IntervalNotElapsedMessage)
}

// CancelResult is the outcome of a successful Cancel.
type CancelResult struct {
	Txid         string
	RefundedSats int64
}

// Cancel builds a subscriber-signed cancel spend sweeping the
// covenant's full remaining balance back to the subscriber, per spec
// §4.4/§4.12.
func (o *Orchestrator) Cancel(ctx context.Context, contractAddress string, subscriberWIF string) (*CancelResult, error) {
	sub, err := o.subs.GetByAddress(contractAddress)
	if err != nil {
		return nil, err
	}
	if sub.Status != store.StatusActive {
		return nil, gwerrors.New(gwerrors.Conflict, "subscription is not active")
	}

	subscriberKeypair, err := bchutil.WifToKeypair(subscriberWIF, o.network)
	if err != nil {
		return nil, err
	}

	contractUTXO, err := o.chain.GetContractUTXO(ctx, sub.TokenAddress, o.network)
	if err != nil {
		return nil, err
	}

	redeemScript, err := covenant.BuildRedeemScript(covenant.Params{
		MerchantPKH:    o.merchantPKH,
		SubscriberPKH:  subscriberKeypair.PKH,
		IntervalBlocks: sub.IntervalBlocks,
		MaxSats:        sub.AuthorizedSats.Int64(),
		Network:        o.network,
	})
	if err != nil {
		return nil, err
	}

	subscriberScript, err := bchutil.AddressToLockingBytecode(sub.SubscriberAddress, o.network)
	if err != nil {
		return nil, err
	}
	outputs := []txbuilder.Output{{Script: subscriberScript, Value: contractUTXO.Sats}}

	utxo := txbuilder.UTXO{Txid: contractUTXO.Txid, Vout: contractUTXO.Vout, Sats: contractUTXO.Sats, Script: redeemScript}
	tx, err := txbuilder.Build([]txbuilder.UTXO{utxo}, outputs, 0)
	if err != nil {
		return nil, err
	}

	inputs := txbuilder.PreimageInputsFor(tx, []txbuilder.UTXO{utxo}, [][]byte{redeemScript})
	sigHash, err := txbuilder.ComputeSighash(tx, inputs, 0, txbuilder.SighashAllForkID)
	if err != nil {
		return nil, err
	}
	sigBytes, err := txbuilder.SchnorrSignWithHashType(subscriberKeypair.Priv, sigHash[:], txbuilder.SighashAllForkID)
	if err != nil {
		return nil, err
	}
	defer subscriberKeypair.Priv.Zero()

	unlockScript, err := covenant.CancelUnlockScript(sigBytes, redeemScript)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].SignatureScript = unlockScript

	rawHex, err := txbuilder.SerializeHex(tx)
	if err != nil {
		return nil, err
	}
	txid, err := o.chain.Broadcast(ctx, rawHex)
	if err != nil {
		return nil, err
	}

	if err := o.subs.SetStatus(contractAddress, store.StatusCancelled); err != nil {
		return nil, err
	}

	return &CancelResult{Txid: txid, RefundedSats: contractUTXO.Sats}, nil
}

func pkhFromAddress(address, network string) [20]byte {
	pkh, err := bchutil.AddressToPKH(address, network)
	if err != nil {
		return [20]byte{}
	}
	return pkh
}

