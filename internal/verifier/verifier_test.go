package verifier

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/electrum"
	"github.com/stretchr/testify/require"
)

type stubChain struct {
	tx *electrum.VerboseTx
}

func (s *stubChain) GetRawTx(ctx context.Context, txid string) (*electrum.VerboseTx, error) {
	return s.tx, nil
}

const testNetwork = "chipnet"

func merchantScriptHex(t *testing.T, address string) string {
	t.Helper()
	script, err := bchutil.AddressToLockingBytecode(address, testNetwork)
	require.NoError(t, err)
	return hex.EncodeToString(script)
}

func TestVerifyPerCallFindsMatchingOutput(t *testing.T) {
	kp, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)
	scriptHex := merchantScriptHex(t, kp.Address)

	chain := &stubChain{tx: &electrum.VerboseTx{
		Txid: "abc",
		Vout: []electrum.Vout{
			{Value: 100, ScriptPubKey: electrum.ScriptPubKeyResult{Hex: scriptHex}},
		},
	}}
	v := New(chain, testNetwork)

	result, err := v.VerifyPerCall(context.Background(), "abc", kp.Address, 100)
	require.NoError(t, err)
	require.True(t, result.Verified)
	require.Equal(t, int64(100), result.AmountSats)
}

func TestVerifyPerCallRejectsInsufficientValue(t *testing.T) {
	kp, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)
	scriptHex := merchantScriptHex(t, kp.Address)

	chain := &stubChain{tx: &electrum.VerboseTx{
		Vout: []electrum.Vout{
			{Value: 50, ScriptPubKey: electrum.ScriptPubKeyResult{Hex: scriptHex}},
		},
	}}
	v := New(chain, testNetwork)

	result, err := v.VerifyPerCall(context.Background(), "abc", kp.Address, 100)
	require.NoError(t, err)
	require.False(t, result.Verified)
}

func TestVerifySubscriptionFundingHappyPath(t *testing.T) {
	kp, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)
	scriptHex := merchantScriptHex(t, kp.Address)

	chain := &stubChain{tx: &electrum.VerboseTx{
		Vout: []electrum.Vout{
			{Value: 20000, ScriptPubKey: electrum.ScriptPubKeyResult{
				Hex: scriptHex,
				TokenData: &electrum.TokenData{
					Category: "CAT123",
					NFT:      &electrum.NFTData{Capability: "mutable", Commitment: "deadbeefcafebabe"},
				},
			}},
		},
	}}
	v := New(chain, testNetwork)

	result, err := v.VerifySubscriptionFunding(context.Background(), "abc", kp.Address, "cat123", 20000)
	require.NoError(t, err)
	require.True(t, result.Verified)
	require.Equal(t, "deadbeefcafebabe", result.Commitment)
}

func TestVerifySubscriptionFundingRejectsCategoryMismatch(t *testing.T) {
	kp, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)
	scriptHex := merchantScriptHex(t, kp.Address)

	chain := &stubChain{tx: &electrum.VerboseTx{
		Vout: []electrum.Vout{
			{Value: 20000, ScriptPubKey: electrum.ScriptPubKeyResult{
				Hex: scriptHex,
				TokenData: &electrum.TokenData{
					Category: "othercat",
					NFT:      &electrum.NFTData{Capability: "mutable"},
				},
			}},
		},
	}}
	v := New(chain, testNetwork)

	_, err = v.VerifySubscriptionFunding(context.Background(), "abc", kp.Address, "cat123", 20000)
	require.Error(t, err)
}

func TestVerifySubscriptionFundingRejectsNonMutableNFT(t *testing.T) {
	kp, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)
	scriptHex := merchantScriptHex(t, kp.Address)

	chain := &stubChain{tx: &electrum.VerboseTx{
		Vout: []electrum.Vout{
			{Value: 20000, ScriptPubKey: electrum.ScriptPubKeyResult{
				Hex: scriptHex,
				TokenData: &electrum.TokenData{
					Category: "cat123",
					NFT:      &electrum.NFTData{Capability: "minting"},
				},
			}},
		},
	}}
	v := New(chain, testNetwork)

	_, err = v.VerifySubscriptionFunding(context.Background(), "abc", kp.Address, "cat123", 20000)
	require.Error(t, err)
}

func TestVerifySubscriptionFundingDiscoversCategoryWhenExpectedIsEmpty(t *testing.T) {
	kp, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)
	scriptHex := merchantScriptHex(t, kp.Address)

	chain := &stubChain{tx: &electrum.VerboseTx{
		Vout: []electrum.Vout{
			{Value: 20000, ScriptPubKey: electrum.ScriptPubKeyResult{
				Hex: scriptHex,
				TokenData: &electrum.TokenData{
					Category: "discoveredcat",
					NFT:      &electrum.NFTData{Capability: "mutable", Commitment: "deadbeefcafebabe"},
				},
			}},
		},
	}}
	v := New(chain, testNetwork)

	result, err := v.VerifySubscriptionFunding(context.Background(), "abc", kp.Address, "", 20000)
	require.NoError(t, err)
	require.True(t, result.Verified)
	require.Equal(t, "discoveredcat", result.Category)
}

func TestVerifySubscriptionFundingRejectsMissingTokenData(t *testing.T) {
	kp, err := bchutil.GenerateKeypair(testNetwork)
	require.NoError(t, err)
	scriptHex := merchantScriptHex(t, kp.Address)

	chain := &stubChain{tx: &electrum.VerboseTx{
		Vout: []electrum.Vout{
			{Value: 20000, ScriptPubKey: electrum.ScriptPubKeyResult{Hex: scriptHex}},
		},
	}}
	v := New(chain, testNetwork)

	_, err = v.VerifySubscriptionFunding(context.Background(), "abc", kp.Address, "cat123", 20000)
	require.Error(t, err)
}
