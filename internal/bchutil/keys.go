// Package bchutil implements the Key & Address Utilities component:
// keypair generation, WIF encode/decode, PKH derivation, cash-address
// handling, scripthash encoding, and NFT-commitment (de)serialization.
//
// Grounded on src/chainadapter/bitcoin/signer.go's key-wrapper shape
// and doc-comment idiom, adapted from btcsuite/btcd's ECDSA signer to
// gcash/bchd's Schnorr-capable bchec key types.
package bchutil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchd/txscript"
	"github.com/gcash/bchutil"
)

// NetParams resolves a BCH_NETWORK config string ("chipnet"|"mainnet")
// to the chaincfg.Params the rest of the gateway signs and addresses
// against. Chipnet shares testnet3's address prefix and opcodes.
func NetParams(network string) *chaincfg.Params {
	if network == "mainnet" {
		return &chaincfg.MainNetParams
	}
	return &chaincfg.TestNet3Params
}

// Keypair is the result of generateKeypair and wifToKeypair.
type Keypair struct {
	Priv    *bchec.PrivateKey
	Pub     *bchec.PublicKey
	PKH     [20]byte
	Address string
	WIF     string
}

// GenerateKeypair creates a fresh secp256k1 keypair from a CSPRNG and
// derives its PKH, cash address, and WIF for the given network.
//
// Contract:
// - Returns a non-nil *Keypair with all fields populated on success.
// - Errors only if the underlying CSPRNG read fails.
func GenerateKeypair(network string) (*Keypair, error) {
	params := NetParams(network)
	priv, err := bchec.NewPrivateKey(bchec.S256())
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "generate keypair", err)
	}
	return keypairFromPrivate(priv, params)
}

func keypairFromPrivate(priv *bchec.PrivateKey, params *chaincfg.Params) (*Keypair, error) {
	pub := priv.PubKey()
	pkh := Hash160(pub.SerializeCompressed())

	addr, err := bchutil.NewAddressPubKeyHash(pkh[:], params)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "derive address", err)
	}

	wif, err := bchutil.NewWIF(priv, params, true)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "encode wif", err)
	}

	return &Keypair{
		Priv:    priv,
		Pub:     pub,
		PKH:     pkh,
		Address: addr.EncodeAddress(),
		WIF:     wif.String(),
	}, nil
}

// WifToKeypair decodes a WIF-encoded private key and rederives its
// public components for the given network.
func WifToKeypair(wif string, network string) (*Keypair, error) {
	params := NetParams(network)
	decoded, err := bchutil.DecodeWIF(wif)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BadRequest, "invalid WIF", err).WithHint("InvalidWIF")
	}
	return keypairFromPrivate(decoded.PrivKey, params)
}

// AddressToPKH decodes a cash address and returns its 20-byte hash160.
func AddressToPKH(address string, network string) ([20]byte, error) {
	params := NetParams(network)
	decoded, err := bchutil.DecodeAddress(address, params)
	if err != nil {
		return [20]byte{}, gwerrors.Wrap(gwerrors.BadRequest, "invalid address", err).WithHint("InvalidAddress")
	}
	pkhAddr, ok := decoded.(*bchutil.AddressPubKeyHash)
	if !ok {
		return [20]byte{}, gwerrors.New(gwerrors.BadRequest, "address is not a P2PKH address").WithHint("InvalidAddress")
	}
	var out [20]byte
	copy(out[:], pkhAddr.Hash160()[:])
	return out, nil
}

// AddressToLockingBytecode returns the locking script for a cash
// address: P2PKH for a pubkey-hash address, P2SH for a script-hash one.
func AddressToLockingBytecode(address string, network string) ([]byte, error) {
	params := NetParams(network)
	decoded, err := bchutil.DecodeAddress(address, params)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BadRequest, "invalid address", err).WithHint("InvalidAddress")
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BadRequest, "build locking script", err).WithHint("InvalidAddress")
	}
	return script, nil
}

// AddressToScripthash computes the Electrum-protocol scripthash for a
// cash address: SHA-256 of the locking bytecode, byte-reversed, hex
// encoded for little-endian display.
func AddressToScripthash(address string, network string) (string, error) {
	script, err := AddressToLockingBytecode(address, network)
	if err != nil {
		return "", err
	}
	return ScripthashFromScript(script), nil
}

// ScripthashFromScript computes the Electrum scripthash for an
// arbitrary locking script.
func ScripthashFromScript(script []byte) string {
	sum := sha256.Sum256(script)
	reversed := reverseBytes(sum[:])
	return hex.EncodeToString(reversed)
}

// Hash160 computes RIPEMD160(SHA256(data)), the public-key hash
// algorithm cash addresses are built from.
func Hash160(data []byte) [20]byte {
	var out [20]byte
	copy(out[:], bchutil.Hash160(data))
	return out
}

func reverseBytes(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out
}

// NFTCommitment is the parsed form of the covenant's mutable-NFT
// commitment bytes.
type NFTCommitment struct {
	LastClaimBlock int32
	AuthorizedSats int32
}

// BuildNftCommitment serializes the commitment per spec §3/§4.3: an
// 8-byte little-endian record, lastClaimBlock then authorizedSats.
func BuildNftCommitment(lastClaimBlock, authorizedSats int32) string {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(lastClaimBlock))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(authorizedSats))
	return hex.EncodeToString(buf)
}

// ParseNftCommitment decodes an 8-byte-hex commitment back into its
// fields. Errors with InvalidCommitment for any length other than 8
// raw bytes.
func ParseNftCommitment(commitmentHex string) (*NFTCommitment, error) {
	buf, err := hex.DecodeString(commitmentHex)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BadRequest, "invalid commitment hex", err).WithHint("InvalidCommitment")
	}
	if len(buf) != 8 {
		return nil, gwerrors.Newf(gwerrors.BadRequest, "commitment must be 8 bytes, got %d", len(buf)).WithHint("InvalidCommitment")
	}
	return &NFTCommitment{
		LastClaimBlock: int32(binary.LittleEndian.Uint32(buf[0:4])),
		AuthorizedSats: int32(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}
