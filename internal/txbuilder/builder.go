package txbuilder

import (
	"bytes"
	"encoding/hex"

	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchd/wire"
)

// DustThresholdSats is the minimum value a non-token output may carry
// before it is considered uneconomical to relay, per spec §4.13/§8.
const DustThresholdSats = 546

// UTXO is a spendable output the Transaction Builder selects inputs
// from, matching the shape the Chain Adapter's getUtxos returns.
type UTXO struct {
	Txid   string
	Vout   uint32
	Sats   int64
	Script []byte // locking script of the UTXO being spent
	// Token, if non-nil, marks this UTXO as CashToken-bearing; the
	// naive UTXO selector in SelectUTXOs skips these (spec §4.13 step 1:
	// "pick the first non-token one").
	Token *TokenData
}

// TokenData mirrors the heterogeneous CashToken output shape a verbose
// Electrum transaction may carry, per spec §9's tagged-variant note.
type TokenData struct {
	Category string
	Amount   int64
	NFT      *NFTData
}

// NFTData describes a CashToken's optional non-fungible component.
type NFTData struct {
	Capability string // "none" | "mutable" | "minting"
	Commitment []byte
}

// Output describes one destination of an assembled transaction.
type Output struct {
	Script []byte
	Value  int64
}

// Build assembles an unsigned v2 wire.MsgTx spending the given inputs
// to the given outputs. The caller is responsible for input/output
// ordering (covenant spends require exact positions).
func Build(selected []UTXO, outputs []Output, lockTime uint32) (*wire.MsgTx, error) {
	if len(selected) == 0 {
		return nil, gwerrors.New(gwerrors.BadRequest, "no inputs selected")
	}
	tx := wire.NewMsgTx(2)
	tx.LockTime = lockTime

	for _, u := range selected {
		hash, err := chainhash.NewHashFromStr(u.Txid)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.BadRequest, "invalid outpoint", err)
		}
		in := wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil)
		tx.AddTxIn(in)
	}
	for _, o := range outputs {
		tx.AddTxOut(wire.NewTxOut(o.Value, o.Script))
	}
	return tx, nil
}

// PreimageInputsFor builds the PreimageInputs slice ComputeSighash
// needs from the UTXOs a transaction spends, pairing each with the
// scriptCode it must be satisfied against (ordinarily the UTXO's own
// locking script, or a covenant's redeem script for covenant spends).
func PreimageInputsFor(tx *wire.MsgTx, selected []UTXO, scriptCodes [][]byte) PreimageInputs {
	inputs := make(PreimageInputs, len(selected))
	for i, u := range selected {
		inputs[i] = Input{
			Outpoint: tx.TxIn[i].PreviousOutPoint,
			Sequence: tx.TxIn[i].Sequence,
			Value:    u.Sats,
			Script:   scriptCodes[i],
		}
	}
	return inputs
}

// SelectUTXOs accumulates non-token UTXOs until their total value
// meets or exceeds needed, matching
// src/chainadapter/bitcoin/builder.go's naive accumulate-until-enough
// strategy (its own comment mentions Branch and Bound as a future
// improvement; this gateway inherits the same simplification since
// spec §4.13 only ever needs a single qualifying UTXO for genesis
// funding, not general-purpose coin selection).
func SelectUTXOs(utxos []UTXO, needed int64) ([]UTXO, int64, error) {
	var selected []UTXO
	var total int64
	for _, u := range utxos {
		if u.Token != nil {
			continue
		}
		selected = append(selected, u)
		total += u.Sats
		if total >= needed {
			return selected, total, nil
		}
	}
	return nil, 0, gwerrors.Newf(gwerrors.PaymentRequired, "insufficient funds: need %d, have %d", needed, total)
}

// Serialize returns the raw transaction bytes.
func Serialize(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "serialize transaction", err)
	}
	return buf.Bytes(), nil
}

// SerializeHex returns the raw transaction as lowercase hex, the form
// the Chain Adapter's broadcast expects.
func SerializeHex(tx *wire.MsgTx) (string, error) {
	raw, err := Serialize(tx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Txid returns the transaction's id in display (big-endian) order.
func Txid(tx *wire.MsgTx) string {
	return tx.TxHash().String()
}
