// Package verifier implements the Transaction Verifier (spec §4.9):
// confirms a broadcast transaction actually pays the merchant (per-call
// path) or actually funds a covenant with the expected CashToken
// category (subscription-funding path).
//
// Grounded on other_examples/1de3360a_square-beancounter's tagged
// Vout/ScriptPubKeyResult shape (already modeled in internal/electrum)
// and spec §9's "Dynamic JSON typing → tagged variants" design note.
package verifier

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/electrum"
	"github.com/cashflow402/gateway/internal/gwerrors"
)

// ChainReader is the subset of the Chain Adapter the verifier needs,
// narrowed for test doubles.
type ChainReader interface {
	GetRawTx(ctx context.Context, txid string) (*electrum.VerboseTx, error)
}

// Verifier checks broadcast transactions against expected payment and
// funding shapes.
type Verifier struct {
	chain   ChainReader
	network string
}

// New builds a Verifier bound to a chain reader and network.
func New(chain ChainReader, network string) *Verifier {
	return &Verifier{chain: chain, network: network}
}

// PerCallResult is the outcome of verifyPerCall.
type PerCallResult struct {
	Verified   bool
	AmountSats int64
}

// VerifyPerCall fetches txid and looks for an output paying at least
// requiredSats to merchantAddress, per spec §4.9.
func (v *Verifier) VerifyPerCall(ctx context.Context, txid, merchantAddress string, requiredSats int64) (*PerCallResult, error) {
	tx, err := v.chain.GetRawTx(ctx, txid)
	if err != nil {
		return nil, err
	}

	wantScript, err := bchutil.AddressToLockingBytecode(merchantAddress, v.network)
	if err != nil {
		return nil, err
	}
	wantHex := hex.EncodeToString(wantScript)

	for _, vout := range tx.Vout {
		if vout.ScriptPubKey.Hex == wantHex && vout.Value >= requiredSats {
			return &PerCallResult{Verified: true, AmountSats: vout.Value}, nil
		}
	}
	return &PerCallResult{Verified: false}, nil
}

// FundingResult is the outcome of verifySubscriptionFunding.
type FundingResult struct {
	Verified   bool
	AmountSats int64
	Category   string
	Commitment string // hex
}

// VerifySubscriptionFunding fetches txid and looks for an output at
// contractTokenAddress carrying a mutable NFT with at least
// minFundingSats, per spec §4.9. When expectedTokenCategory is
// non-empty the output's category must match it exactly (the
// auto-fund path, which minted the category itself); when empty, any
// category is accepted and returned on FundingResult (the
// fund-confirm path, which discovers a category it could not have
// predicted from an externally-broadcast funding transaction).
// Unmatched category, non-mutable capability, missing token data, and
// insufficient value each return a distinct error so callers can
// surface a precise hint.
func (v *Verifier) VerifySubscriptionFunding(ctx context.Context, txid, contractTokenAddress, expectedTokenCategory string, minFundingSats int64) (*FundingResult, error) {
	tx, err := v.chain.GetRawTx(ctx, txid)
	if err != nil {
		return nil, err
	}

	wantScript, err := bchutil.AddressToLockingBytecode(contractTokenAddress, v.network)
	if err != nil {
		return nil, err
	}
	wantHex := hex.EncodeToString(wantScript)

	var matchedOutput *electrum.Vout
	for i := range tx.Vout {
		if tx.Vout[i].ScriptPubKey.Hex == wantHex {
			matchedOutput = &tx.Vout[i]
			break
		}
	}
	if matchedOutput == nil {
		return nil, gwerrors.New(gwerrors.PaymentRequired, "no output pays the contract token address").WithHint("FundingNotFound")
	}

	tokenData := matchedOutput.ScriptPubKey.TokenData
	if tokenData == nil {
		return nil, gwerrors.New(gwerrors.PaymentRequired, "funding output carries no CashToken data").WithHint("MissingTokenData")
	}
	if expectedTokenCategory != "" && !strings.EqualFold(tokenData.Category, expectedTokenCategory) {
		return nil, gwerrors.New(gwerrors.PaymentRequired, "funding output category does not match expected token category").WithHint("CategoryMismatch")
	}
	if tokenData.NFT == nil || tokenData.NFT.Capability != "mutable" {
		return nil, gwerrors.New(gwerrors.PaymentRequired, "funding output NFT capability is not mutable").WithHint("NotMutableNFT")
	}
	if matchedOutput.Value < minFundingSats {
		return nil, gwerrors.New(gwerrors.PaymentRequired, "funding output value below required deposit").WithHint("InsufficientFunding")
	}

	return &FundingResult{
		Verified:   true,
		AmountSats: matchedOutput.Value,
		Category:   tokenData.Category,
		Commitment: tokenData.NFT.Commitment,
	}, nil
}
