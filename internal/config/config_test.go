package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ELECTRUM_HOST", "fulcrum.example.com")
	t.Setenv("MERCHANT_WIF", "cN...")
	t.Setenv("MERCHANT_ADDRESS", "bchtest:qpum...shj478")
	t.Setenv("JWT_SECRET", "super-secret")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8402, cfg.Port)
	require.Equal(t, "chipnet", cfg.BCHNetwork)
	require.Equal(t, int64(100), cfg.DefaultPerCallRateSats)
}

func TestLoadRejectsBadNetwork(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BCH_NETWORK", "testnet3")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresElectrumHost(t *testing.T) {
	t.Setenv("MERCHANT_WIF", "cN...")
	t.Setenv("MERCHANT_ADDRESS", "bchtest:qpum...shj478")
	t.Setenv("JWT_SECRET", "super-secret")
	_, err := Load()
	require.Error(t, err)
}
