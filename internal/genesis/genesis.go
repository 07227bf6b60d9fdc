// Package genesis implements the Genesis Funding Builder (spec §4.13):
// the one-time transaction that funds a freshly instantiated covenant,
// minting its CashToken category from the spending UTXO's txid.
//
// Grounded on src/chainadapter/bitcoin/builder.go's fee-then-change
// assembly shape and other_examples/2bd6f79b_Fantasim-hdpay's
// key-zeroing-after-signing discipline.
package genesis

import (
	"context"

	"github.com/gcash/bchd/bchec"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/cashflow402/gateway/internal/txbuilder"
)

// MinerFeeSats is the flat fee the Genesis Funding Builder reserves,
// per spec §4.13.
const MinerFeeSats = 1500

// ChainAdapter is the subset of the Chain Adapter the builder needs.
type ChainAdapter interface {
	GetUtxos(ctx context.Context, address, network string) ([]txbuilder.UTXO, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// Request bundles the inputs to Build, per spec §4.13.
type Request struct {
	SubscriberPriv       *bchec.PrivateKey
	SubscriberPKH        [20]byte
	SubscriberAddress    string
	ContractTokenAddress string
	GenesisCommitment    []byte
	DepositSats          int64
	Network              string
}

// Result is the outcome of a successful genesis funding broadcast.
type Result struct {
	Txid          string
	TokenCategory string
}

// Build fetches a spendable UTXO, mints the covenant's token category
// from its txid, assembles the genesis transaction (the token output,
// plus a change output to the subscriber unless the change is below
// dust), signs, and broadcasts it, per spec §4.13.
func Build(ctx context.Context, chain ChainAdapter, req Request) (*Result, error) {
	utxos, err := chain.GetUtxos(ctx, req.SubscriberAddress, req.Network)
	if err != nil {
		return nil, err
	}

	var chosen *txbuilder.UTXO
	for i := range utxos {
		if utxos[i].Token == nil {
			chosen = &utxos[i]
			break
		}
	}
	if chosen == nil {
		return nil, gwerrors.New(gwerrors.PaymentRequired, "no spendable UTXO at subscriber address").WithHint("InsufficientFunds")
	}

	tokenCategory := chosen.Txid

	change := chosen.Sats - req.DepositSats - MinerFeeSats
	if change < 0 {
		return nil, gwerrors.New(gwerrors.PaymentRequired, "insufficient funds for deposit and fee").WithHint("InsufficientFunds")
	}
	dropChange := change < txbuilder.DustThresholdSats

	prefix, err := txbuilder.NFTCashTokenPrefix(tokenCategory, req.GenesisCommitment)
	if err != nil {
		return nil, err
	}
	tokenScript, err := bchutil.AddressToLockingBytecode(req.ContractTokenAddress, req.Network)
	if err != nil {
		return nil, err
	}

	outputs := []txbuilder.Output{
		{Script: append(prefix, tokenScript...), Value: req.DepositSats},
	}
	if !dropChange {
		subscriberScript, err := bchutil.AddressToLockingBytecode(req.SubscriberAddress, req.Network)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, txbuilder.Output{Script: subscriberScript, Value: change})
	}

	tx, err := txbuilder.Build([]txbuilder.UTXO{*chosen}, outputs, 0)
	if err != nil {
		return nil, err
	}

	unlockScript, err := txbuilder.SignP2PKHInput(tx, txbuilder.PreimageInputsFor(tx, []txbuilder.UTXO{*chosen}, [][]byte{chosen.Script}), 0, req.SubscriberPriv)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].SignatureScript = unlockScript

	rawHex, err := txbuilder.SerializeHex(tx)
	if err != nil {
		return nil, err
	}
	txid, err := chain.Broadcast(ctx, rawHex)
	if err != nil {
		return nil, err
	}

	return &Result{Txid: txid, TokenCategory: tokenCategory}, nil
}
