package bchutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeypairRoundTripsThroughWIF(t *testing.T) {
	kp, err := GenerateKeypair("chipnet")
	require.NoError(t, err)
	require.NotEmpty(t, kp.Address)
	require.NotEmpty(t, kp.WIF)

	reloaded, err := WifToKeypair(kp.WIF, "chipnet")
	require.NoError(t, err)
	require.Equal(t, kp.Address, reloaded.Address)
	require.Equal(t, kp.WIF, reloaded.WIF)
}

func TestAddressToPKHRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair("chipnet")
	require.NoError(t, err)

	pkh, err := AddressToPKH(kp.Address, "chipnet")
	require.NoError(t, err)
	require.Equal(t, kp.PKH, pkh)
}

func TestAddressToScripthashIsDeterministic(t *testing.T) {
	kp, err := GenerateKeypair("chipnet")
	require.NoError(t, err)

	a, err := AddressToScripthash(kp.Address, "chipnet")
	require.NoError(t, err)
	b, err := AddressToScripthash(kp.Address, "chipnet")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 64) // 32 bytes hex-encoded
}

func TestNftCommitmentRoundTrip(t *testing.T) {
	encoded := BuildNftCommitment(1000, 20000)
	require.Len(t, encoded, 16) // 8 bytes hex-encoded

	decoded, err := ParseNftCommitment(encoded)
	require.NoError(t, err)
	require.Equal(t, int32(1000), decoded.LastClaimBlock)
	require.Equal(t, int32(20000), decoded.AuthorizedSats)
}

func TestParseNftCommitmentRejectsWrongLength(t *testing.T) {
	_, err := ParseNftCommitment("abcd")
	require.Error(t, err)
}

func TestInvalidAddressRejected(t *testing.T) {
	_, err := AddressToPKH("not-an-address", "chipnet")
	require.Error(t, err)
}

func TestInvalidWIFRejected(t *testing.T) {
	_, err := WifToKeypair("not-a-wif", "chipnet")
	require.Error(t, err)
}
