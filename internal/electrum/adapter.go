package electrum

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"reflect"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/gwerrors"
	"github.com/cashflow402/gateway/internal/txbuilder"
)

// ScriptPubKeyResult mirrors an Electrum verbose output's scriptPubKey
// shape, extended with CashToken fields per spec §9's tagged-variant
// design note, grounded on
// other_examples/1de3360a_square-beancounter's ScriptPubKeyResult.
type ScriptPubKeyResult struct {
	Hex       string     `json:"hex"`
	Addresses []string   `json:"addresses,omitempty"`
	TokenData *TokenData `json:"token_data,omitempty"`
}

// TokenData is the CashToken payload of a verbose output, present only
// when the output carries a token (spec §9's tagged-variant design).
type TokenData struct {
	Category string   `json:"category"`
	Amount   string   `json:"amount,omitempty"`
	NFT      *NFTData `json:"nft,omitempty"`
}

// NFTData is the non-fungible component of a TokenData payload.
type NFTData struct {
	Capability string `json:"capability"`
	Commitment string `json:"commitment,omitempty"`
}

// Vout is one output of a verbose transaction.
type Vout struct {
	Value        int64              `json:"value"` // satoshis
	N            uint32             `json:"n"`
	ScriptPubKey ScriptPubKeyResult `json:"scriptPubKey"`
}

// VerboseTx is the subset of an Electrum verbose transaction this
// gateway needs.
type VerboseTx struct {
	Txid          string `json:"txid"`
	Hex           string `json:"hex"`
	Confirmations int    `json:"confirmations"`
	Vout          []Vout `json:"vout"`
}

// GetRawTx fetches a verbose transaction by txid. Returns a
// NotFound-classified error when the remote reports it missing, per
// spec §4.1.
func (c *Client) GetRawTx(ctx context.Context, txid string) (*VerboseTx, error) {
	result, err := c.Call(ctx, "blockchain.transaction.get", []interface{}{txid, true})
	if err != nil {
		return nil, err
	}
	var tx VerboseTx
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "decode verbose transaction", err)
	}
	return &tx, nil
}

// UtxoEntry is one entry returned by GetUtxos.
type UtxoEntry struct {
	Txid  string `json:"tx_hash"`
	Vout  uint32 `json:"tx_pos"`
	Value int64  `json:"value"`
}

// GetUtxos lists unspent outputs at a cash address.
func (c *Client) GetUtxos(ctx context.Context, address, network string) ([]txbuilder.UTXO, error) {
	scripthash, err := scripthashFor(address, network)
	if err != nil {
		return nil, err
	}
	result, err := c.Call(ctx, "blockchain.scripthash.listunspent", []interface{}{scripthash})
	if err != nil {
		return nil, err
	}
	var entries []UtxoEntry
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "decode utxo list", err)
	}

	// listunspent never echoes back the locking script; every entry
	// shares the queried address's locking script, so derive it once.
	lockingScript, err := bchutil.AddressToLockingBytecode(address, network)
	if err != nil {
		return nil, err
	}

	utxos := make([]txbuilder.UTXO, 0, len(entries))
	for _, e := range entries {
		utxos = append(utxos, txbuilder.UTXO{Txid: e.Txid, Vout: e.Vout, Sats: e.Value, Script: lockingScript})
	}
	return utxos, nil
}

// ContractUTXO is the covenant's current on-chain UTXO, carrying the
// NFT commitment the Settlement Orchestrator must read before building
// a claim or cancel spend.
type ContractUTXO struct {
	Txid          string
	Vout          uint32
	Sats          int64
	TokenCategory string
	Commitment    []byte
}

// GetContractUTXO locates the single UTXO currently sitting at a
// covenant's token address and decodes its CashToken commitment,
// combining GetUtxos (for the outpoint) with GetRawTx (for the
// verbose scriptPubKey.token_data Electrum's listunspent does not
// itself carry), per spec §4.4's "reads its existing commitment" step.
func (c *Client) GetContractUTXO(ctx context.Context, tokenAddress, network string) (*ContractUTXO, error) {
	utxos, err := c.GetUtxos(ctx, tokenAddress, network)
	if err != nil {
		return nil, err
	}
	for _, u := range utxos {
		tx, err := c.GetRawTx(ctx, u.Txid)
		if err != nil {
			continue
		}
		for _, vout := range tx.Vout {
			if vout.N != u.Vout || vout.ScriptPubKey.TokenData == nil || vout.ScriptPubKey.TokenData.NFT == nil {
				continue
			}
			commitment, err := hex.DecodeString(vout.ScriptPubKey.TokenData.NFT.Commitment)
			if err != nil {
				return nil, gwerrors.Wrap(gwerrors.ServerError, "decode contract commitment", err)
			}
			return &ContractUTXO{
				Txid:          u.Txid,
				Vout:          u.Vout,
				Sats:          u.Value,
				TokenCategory: vout.ScriptPubKey.TokenData.Category,
				Commitment:    commitment,
			}, nil
		}
	}
	return nil, gwerrors.New(gwerrors.NotFound, "contract utxo missing").WithHint("ContractUtxoMissing")
}

// GetBlockHeight returns the current chain tip height.
func (c *Client) GetBlockHeight(ctx context.Context) (int64, error) {
	result, err := c.Call(ctx, "blockchain.headers.subscribe", []interface{}{})
	if err != nil {
		return 0, err
	}
	var header struct {
		Height int64 `json:"height"`
	}
	if err := json.Unmarshal(result, &header); err != nil {
		return 0, gwerrors.Wrap(gwerrors.ServerError, "decode block header", err)
	}
	return header.Height, nil
}

// Broadcast relays a raw signed transaction and returns its txid.
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	result, err := c.Call(ctx, "blockchain.transaction.broadcast", []interface{}{rawHex})
	if err != nil {
		return "", err
	}
	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", gwerrors.Wrap(gwerrors.ServerError, "decode broadcast response", err)
	}
	return txid, nil
}

// SubscribeAddress registers cb against a cash address's scripthash.
// One remote subscription is shared across every local subscriber of
// the same scripthash: the first subscriber performs the remote
// `blockchain.scripthash.subscribe`; later subscribers are appended to
// the existing callback set, per spec §4.1/§9.
func (c *Client) SubscribeAddress(ctx context.Context, address, network string, cb func(json.RawMessage)) (func(), error) {
	scripthash, err := scripthashFor(address, network)
	if err != nil {
		return nil, err
	}

	c.subsMu.Lock()
	_, alreadySubscribed := c.subscriptions[scripthash]
	c.subscriptions[scripthash] = append(c.subscriptions[scripthash], cb)
	c.subsMu.Unlock()

	if !alreadySubscribed {
		if _, err := c.Call(ctx, "blockchain.scripthash.subscribe", []interface{}{scripthash}); err != nil {
			return nil, err
		}
	}

	unsubscribe := func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		callbacks := c.subscriptions[scripthash]
		for i, registered := range callbacks {
			if funcPointersEqual(registered, cb) {
				callbacks = append(callbacks[:i], callbacks[i+1:]...)
				break
			}
		}
		if len(callbacks) == 0 {
			delete(c.subscriptions, scripthash)
			go func() {
				_, _ = c.Call(context.Background(), "blockchain.scripthash.unsubscribe", []interface{}{scripthash})
			}()
		} else {
			c.subscriptions[scripthash] = callbacks
		}
	}
	return unsubscribe, nil
}

func scripthashFor(address, network string) (string, error) {
	return bchutil.AddressToScripthash(address, network)
}

func funcPointersEqual(a, b func(json.RawMessage)) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
