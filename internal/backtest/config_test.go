package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateRejectsNegativeRates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommissionRate = decimal.NewFromFloat(-0.001)
	require.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsUnknownExecutionMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExecutionMode = "twap"
	require.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsStartAfterEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Start = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	cfg.End = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsNonPositiveCash(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cash = decimal.Zero
	require.Error(t, cfg.Validate())

	cfg.Cash = decimal.NewFromInt(-1)
	require.Error(t, cfg.Validate())
}

func TestConfigIsT0(t *testing.T) {
	cfg := DefaultConfig()
	cfg.T0Symbols = map[Symbol]bool{"588000": true}
	require.True(t, cfg.IsT0("588000"))
	require.False(t, cfg.IsT0("600000"))
}

func TestConfigDefaultsAreValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}
