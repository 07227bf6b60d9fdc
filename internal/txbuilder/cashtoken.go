// Package txbuilder assembles, signs, and serializes BCH transactions,
// including CashToken prefix outputs, per spec §4.3.
//
// Grounded on src/chainadapter/bitcoin/builder.go's TransactionBuilder
// shape (fee = size*rate, OP_RETURN memo support, deterministic txid)
// and other_examples/2bd6f79b_Fantasim-hdpay's SignBTCTx (one
// NewTxSigHashes computed once per transaction, per-input signing,
// explicit private-key zeroing after use).
package txbuilder

import (
	"encoding/hex"

	"github.com/cashflow402/gateway/internal/gwerrors"
)

// Capability bitfield values for the CashToken prefix, per spec §4.3.
const (
	capHasNFT        = 0x02
	capMutable       = 0x10
	capHasCommitment = 0x40
)

// NFTCashTokenPrefix builds the CashToken output prefix for a mutable
// NFT carrying an optional commitment, per spec §4.3:
//
//	0xEF || category_txid_LE(32) || bitfield || varint(len) || commitment
func NFTCashTokenPrefix(categoryTxidHex string, commitment []byte) ([]byte, error) {
	categoryLE, err := categoryToLittleEndian(categoryTxidHex)
	if err != nil {
		return nil, err
	}

	bitfield := byte(capHasNFT | capMutable)
	if len(commitment) > 0 {
		bitfield |= capHasCommitment
	}

	out := make([]byte, 0, 1+32+1+1+len(commitment))
	out = append(out, 0xEF)
	out = append(out, categoryLE...)
	out = append(out, bitfield)
	out = append(out, encodeVarInt(uint64(len(commitment)))...)
	out = append(out, commitment...)
	return out, nil
}

// categoryToLittleEndian converts a display-order (big-endian) txid
// hex string into the little-endian 32 bytes the CashToken prefix
// requires.
func categoryToLittleEndian(txidHex string) ([]byte, error) {
	raw, err := hex.DecodeString(txidHex)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BadRequest, "invalid token category", err)
	}
	if len(raw) != 32 {
		return nil, gwerrors.Newf(gwerrors.BadRequest, "token category must be 32 bytes, got %d", len(raw))
	}
	out := make([]byte, 32)
	for i, b := range raw {
		out[31-i] = b
	}
	return out, nil
}

// encodeVarInt writes a Bitcoin-style compact size integer.
func encodeVarInt(v uint64) []byte {
	switch {
	case v < 0xfd:
		return []byte{byte(v)}
	case v <= 0xffff:
		return []byte{0xfd, byte(v), byte(v >> 8)}
	case v <= 0xffffffff:
		return []byte{0xfe, byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	default:
		return []byte{0xff,
			byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
			byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
		}
	}
}
