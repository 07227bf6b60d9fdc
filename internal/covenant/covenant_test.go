package covenant

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleParams(interval int64) Params {
	return Params{
		MerchantPKH:    [20]byte{0x00},
		SubscriberPKH:  [20]byte{0xff},
		IntervalBlocks: interval,
		MaxSats:        20000,
		Network:        "chipnet",
	}
}

func TestInstantiateIsDeterministic(t *testing.T) {
	a, err := Instantiate(sampleParams(144))
	require.NoError(t, err)
	b, err := Instantiate(sampleParams(144))
	require.NoError(t, err)
	require.Equal(t, a.ContractAddress, b.ContractAddress)
	require.Equal(t, a.TokenAddress, b.TokenAddress)
}

func TestInstantiateDiffersByInterval(t *testing.T) {
	a, err := Instantiate(sampleParams(144))
	require.NoError(t, err)
	b, err := Instantiate(sampleParams(1008))
	require.NoError(t, err)
	require.NotEqual(t, a.ContractAddress, b.ContractAddress)
}

func TestContractAddressUsesBchtestPrefix(t *testing.T) {
	inst, err := Instantiate(sampleParams(144))
	require.NoError(t, err)
	require.Contains(t, inst.ContractAddress, "bchtest:")
}

func TestContractAndTokenAddressDiffer(t *testing.T) {
	inst, err := Instantiate(sampleParams(144))
	require.NoError(t, err)
	require.NotEqual(t, inst.ContractAddress, inst.TokenAddress)
}

func TestClaimAndCancelUnlockScriptsDiffer(t *testing.T) {
	inst, err := Instantiate(sampleParams(144))
	require.NoError(t, err)

	claim, err := ClaimUnlockScript([]byte{0x01}, inst.RedeemScript)
	require.NoError(t, err)
	cancel, err := CancelUnlockScript([]byte{0x01}, inst.RedeemScript)
	require.NoError(t, err)
	require.NotEqual(t, claim, cancel)
}

func TestValidateIntervalBlocksRejectsAboveBIP68Range(t *testing.T) {
	require.NoError(t, ValidateIntervalBlocks(144))
	require.NoError(t, ValidateIntervalBlocks(MaxIntervalBlocks))
	require.Error(t, ValidateIntervalBlocks(MaxIntervalBlocks+1))
	require.Error(t, ValidateIntervalBlocks(0))
	require.Error(t, ValidateIntervalBlocks(-1))
}

func TestSequenceForIntervalMatchesValidatedValueExactly(t *testing.T) {
	require.NoError(t, ValidateIntervalBlocks(1008))
	require.Equal(t, uint32(1008), SequenceForInterval(1008))
}
