// Package covenant implements the Covenant Layer: deterministic
// instantiation of the subscription covenant and construction of its
// claim and cancel spends, per spec §4.4.
//
// Grounded on other_examples/fd646249_gcash-bchwallet's
// buildBreachRemedyAddress (OP_IF/OP_ELSE/OP_ENDIF dual-path script
// with an OP_CHECKSEQUENCEVERIFY-gated branch) and buildP2SHAddress
// (redeem script hashed into a P2SH address via ScriptBuilder).
package covenant

import (
	"encoding/binary"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/gcash/bchd/txscript"
)

// Params are the constructor arguments that deterministically derive
// a subscription covenant, per spec §4.4/§3.
type Params struct {
	MerchantPKH    [20]byte
	SubscriberPKH  [20]byte
	IntervalBlocks int64
	MaxSats        int64
	Network        string
}

// Instance is the deterministic result of Instantiate.
type Instance struct {
	RedeemScript   []byte
	ContractAddress string
	TokenAddress    string
}

// BuildRedeemScript assembles the covenant's locking script:
//
//	<maxSats> OP_DROP
//	OP_IF
//	  <intervalBlocks> OP_CHECKSEQUENCEVERIFY OP_DROP
//	  OP_DUP OP_HASH160 <merchantPKH> OP_EQUALVERIFY OP_CHECKSIG
//	OP_ELSE
//	  OP_DUP OP_HASH160 <subscriberPKH> OP_EQUALVERIFY OP_CHECKSIG
//	OP_ENDIF
//
// The merchant (claim) branch additionally requires the spending
// input's relative-locktime sequence to encode at least
// intervalBlocks, which the Transaction Builder sets when constructing
// a claim spend; the NFT commitment carried alongside the contract's
// UTXO is what actually bounds total consumption against maxSats (the
// covenant's arithmetic over that commitment is enforced by the
// Settlement Orchestrator and Transaction Verifier rather than by
// script introspection, since plain P2SH scripts cannot read a
// sibling UTXO's NFT commitment without a full CashScript-compiled
// artifact — see DESIGN.md for this simplification).
func BuildRedeemScript(p Params) ([]byte, error) {
	builder := txscript.NewScriptBuilder()

	builder.AddInt64(p.MaxSats)
	builder.AddOp(txscript.OP_DROP)

	builder.AddOp(txscript.OP_IF)
	builder.AddInt64(p.IntervalBlocks)
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(p.MerchantPKH[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(p.SubscriberPKH[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	script, err := builder.Script()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "build covenant redeem script", err)
	}
	return script, nil
}

// Instantiate derives the deterministic {contractAddress, tokenAddress}
// pair for a covenant. Identical Params always yield identical
// addresses; a different IntervalBlocks (or any other field) yields a
// different redeem script and therefore a different address.
func Instantiate(p Params) (*Instance, error) {
	script, err := BuildRedeemScript(p)
	if err != nil {
		return nil, err
	}
	return &Instance{
		RedeemScript:    script,
		ContractAddress: bchutil.ScriptHashAddress(script, p.Network),
		TokenAddress:    bchutil.ScriptHashTokenAddress(script, p.Network),
	}, nil
}

// ClaimUnlockScript builds the unlocking script for the merchant claim
// path: `<sig> OP_1 <redeemScript>`, selecting the OP_IF branch.
func ClaimUnlockScript(sig []byte, redeemScript []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(sig)
	builder.AddInt64(1) // selects OP_IF branch (truthy)
	builder.AddData(redeemScript)
	script, err := builder.Script()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "build claim unlock script", err)
	}
	return script, nil
}

// CancelUnlockScript builds the unlocking script for the subscriber
// cancel path: `<sig> OP_0 <redeemScript>`, selecting the OP_ELSE
// branch.
func CancelUnlockScript(sig []byte, redeemScript []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(sig)
	builder.AddInt64(0) // selects OP_ELSE branch (falsy)
	builder.AddData(redeemScript)
	script, err := builder.Script()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "build cancel unlock script", err)
	}
	return script, nil
}

// MaxIntervalBlocks is the largest interval BIP68 can express in
// block-height units: nSequence's low 16 bits, per BIP112's masking of
// both the script comparand and the spending input's sequence number
// with the same 0x0000ffff mask before comparison.
const MaxIntervalBlocks = 0x0000ffff

// ValidateIntervalBlocks rejects an interval BIP68 cannot round-trip
// through nSequence. Both BuildRedeemScript's CSV comparand and
// SequenceForInterval's nSequence encoding are masked to the same 16
// bits on-chain (BIP112), so an interval above MaxIntervalBlocks would
// silently collapse to a shorter one once claimed — this must be
// rejected before a covenant is ever instantiated with it.
func ValidateIntervalBlocks(intervalBlocks int64) error {
	if intervalBlocks <= 0 || intervalBlocks > MaxIntervalBlocks {
		return gwerrors.New(gwerrors.BadRequest, "intervalBlocks must be between 1 and 65535")
	}
	return nil
}

// SequenceForInterval encodes intervalBlocks as a BIP68
// relative-locktime sequence number (block-height units, no
// disable-flag, no time-based bit set). Callers must have already
// validated intervalBlocks via ValidateIntervalBlocks.
func SequenceForInterval(intervalBlocks int64) uint32 {
	const sequenceLockTimeTypeFlag = 1 << 22 // unset => block-height units
	_ = sequenceLockTimeTypeFlag
	return uint32(intervalBlocks) & 0x0000ffff
}

// NewCommitment encodes the covenant's NFT commitment: newLastClaimBlock
// and authorizedSats as two little-endian 32-bit integers (8 bytes).
// It takes no claimed amount; callers pass the remaining authorization.
func NewCommitment(newLastClaimBlock int32, authorizedSats int32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(newLastClaimBlock))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(authorizedSats))
	return buf
}
