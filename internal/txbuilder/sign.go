package txbuilder

import (
	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/txscript"
	"github.com/gcash/bchd/wire"
)

// SignP2PKHInput signs input idx of tx against its scriptCode and
// appends the sighash type byte, producing the unlocking script
// `<sig||sighashType> <pubkey>` spec §4.3 requires for plain P2PKH
// inputs.
//
// Signing uses bchec's Schnorr signer, per spec §4.3's "Signing uses
// Schnorr".
func SignP2PKHInput(tx *wire.MsgTx, inputs PreimageInputs, idx int, priv *bchec.PrivateKey) ([]byte, error) {
	sigHash, err := ComputeSighash(tx, inputs, idx, SighashAllForkID)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "compute sighash", err)
	}

	sigBytes, err := SchnorrSignWithHashType(priv, sigHash[:], SighashAllForkID)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	builder := txscript.NewScriptBuilder()
	builder.AddData(sigBytes)
	builder.AddData(priv.PubKey().SerializeCompressed())
	return builder.Script()
}

// SchnorrSignWithHashType produces a Schnorr signature over sigHash and
// appends the sighash type byte, the shape every covenant spend (claim,
// cancel) and every P2PKH input needs, per spec §4.3/§4.12 ("Compute
// sighash, Schnorr-sign, assemble, broadcast").
func SchnorrSignWithHashType(priv *bchec.PrivateKey, sigHash []byte, hashType txscript.SigHashType) ([]byte, error) {
	sig, err := bchec.SignSchnorr(priv, sigHash)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "schnorr-sign input", err)
	}
	return append(sig.Serialize(), byte(hashType)), nil
}

// ZeroAll wipes every input's signing key from memory once a
// transaction is fully signed, mirroring the key-zeroing discipline in
// other_examples/2bd6f79b_Fantasim-hdpay's SignBTCTx.
func ZeroAll(privs []*bchec.PrivateKey) {
	for _, p := range privs {
		if p != nil {
			p.Zero()
		}
	}
}
