package swapcfg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesSpecConstants(t *testing.T) {
	cfg := DefaultConfig()
	require.EqualValues(t, 136, cfg.ClaimFeeSize)
	require.EqualValues(t, 153, cfg.LockupFeeSize)
	require.EqualValues(t, 60, cfg.MinLocktimeDelta)
	require.EqualValues(t, 144, cfg.MaxServerLocktimeWindow)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	cfg, err := LoadConfig([]string{
		"--percentagefee=25",
		"--minamount=5000",
		"--swapserverurl=http://127.0.0.1:9999",
	})
	require.NoError(t, err)
	require.EqualValues(t, 25, cfg.PercentageFee)
	require.EqualValues(t, 5000, cfg.MinAmount)
	require.Equal(t, "http://127.0.0.1:9999", cfg.SwapServerURL)

	// Untouched fields keep their defaults.
	require.EqualValues(t, defaultMaxServerLocktimeWindow, cfg.MaxServerLocktimeWindow)
}

func TestFeeCalculatorConvertsPercentageToPPM(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PercentageFee = 50
	calc := cfg.FeeCalculator()
	require.EqualValues(t, 5_000, calc.PercentagePPM)
}

func TestCleanAndExpandPathExpandsHome(t *testing.T) {
	expanded := cleanAndExpandPath("~/data")
	require.NotContains(t, expanded, "~")
}
