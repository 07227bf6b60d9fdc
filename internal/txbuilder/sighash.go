package txbuilder

import (
	"encoding/binary"

	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchd/wire"
)

// SighashAllForkID is SIGHASH_ALL (0x01) with the BCH FORKID flag
// (0x40) set, per spec §4.3.
const SighashAllForkID uint32 = 0x41

// Input describes one transaction input's previous-output context,
// needed to compute its BIP143-style sighash preimage.
type Input struct {
	Outpoint wire.OutPoint
	Sequence uint32
	Value    int64  // satoshis locked in the spent output
	Script   []byte // scriptCode (the locking script or covenant branch being satisfied)
}

// PreimageInputs bundles every input across the transaction, needed
// to compute hashPrevouts/hashSequence once per transaction.
type PreimageInputs []Input

// ComputeSighash returns the BIP143-style BCH sighash preimage hash
// for input index idx, per spec §4.3:
//
//	version || hashPrevouts || hashSequence || outpoint || scriptCode ||
//	inputValue || inputSequence || hashOutputs || locktime || sighashType
//
// each field consensus-encoded, hash256 throughout. Output hashing in
// hashOutputs naturally includes any CashToken prefix bytes because
// they are baked directly into each TxOut.PkScript.
func ComputeSighash(tx *wire.MsgTx, inputs PreimageInputs, idx int, sighashType uint32) (chainhash.Hash, error) {
	hashPrevouts := hashPrevOuts(inputs)
	hashSequence := hashSequences(inputs)
	hashOutputs := hashTxOutputs(tx.TxOut)

	in := inputs[idx]

	buf := make([]byte, 0, 4+32+32+36+9+len(in.Script)+8+4+32+4+4)

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(tx.Version))
	buf = append(buf, scratch[:]...)

	buf = append(buf, hashPrevouts[:]...)
	buf = append(buf, hashSequence[:]...)

	buf = append(buf, in.Outpoint.Hash[:]...)
	binary.LittleEndian.PutUint32(scratch[:], in.Outpoint.Index)
	buf = append(buf, scratch[:]...)

	buf = append(buf, encodeVarInt(uint64(len(in.Script)))...)
	buf = append(buf, in.Script...)

	var valueBuf [8]byte
	binary.LittleEndian.PutUint64(valueBuf[:], uint64(in.Value))
	buf = append(buf, valueBuf[:]...)

	binary.LittleEndian.PutUint32(scratch[:], in.Sequence)
	buf = append(buf, scratch[:]...)

	buf = append(buf, hashOutputs[:]...)

	binary.LittleEndian.PutUint32(scratch[:], tx.LockTime)
	buf = append(buf, scratch[:]...)

	binary.LittleEndian.PutUint32(scratch[:], sighashType)
	buf = append(buf, scratch[:]...)

	return chainhash.DoubleHashH(buf), nil
}

func hashPrevOuts(inputs PreimageInputs) chainhash.Hash {
	buf := make([]byte, 0, 36*len(inputs))
	var scratch [4]byte
	for _, in := range inputs {
		buf = append(buf, in.Outpoint.Hash[:]...)
		binary.LittleEndian.PutUint32(scratch[:], in.Outpoint.Index)
		buf = append(buf, scratch[:]...)
	}
	return chainhash.DoubleHashH(buf)
}

func hashSequences(inputs PreimageInputs) chainhash.Hash {
	buf := make([]byte, 0, 4*len(inputs))
	var scratch [4]byte
	for _, in := range inputs {
		binary.LittleEndian.PutUint32(scratch[:], in.Sequence)
		buf = append(buf, scratch[:]...)
	}
	return chainhash.DoubleHashH(buf)
}

func hashTxOutputs(outs []*wire.TxOut) chainhash.Hash {
	buf := make([]byte, 0)
	var valueBuf [8]byte
	for _, out := range outs {
		binary.LittleEndian.PutUint64(valueBuf[:], uint64(out.Value))
		buf = append(buf, valueBuf[:]...)
		buf = append(buf, encodeVarInt(uint64(len(out.PkScript)))...)
		buf = append(buf, out.PkScript...)
	}
	return chainhash.DoubleHashH(buf)
}
