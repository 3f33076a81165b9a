package backtest

import (
	"testing"

	"github.com/ashare-quant/backtest/internal/diagnostics"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func barAt(price float64) Bar {
	p := decimal.NewFromFloat(price)
	return Bar{Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1000)}
}

func TestExecutionSellsBeforeBuysRegardlessOfEnqueueOrder(t *testing.T) {
	cfg := newTestConfig()
	diag := diagnostics.New(nil)
	p := NewPortfolioState(cfg)
	_, err := p.ApplyBuy("A", 500, decimal.NewFromInt(10), decimal.NewFromFloat(5), decimal.NewFromInt(5000), "2024-01-01", 0)
	require.NoError(t, err)
	p.RollDay("2024-01-02")

	exec := NewExecutionEngine(cfg, diag)
	exec.Enqueue("B", SideBuy, QtyTypeCount, decimal.NewFromInt(100))
	exec.Enqueue("A", SideSell, QtyTypeCount, decimal.NewFromInt(500))

	bars := map[Symbol]Bar{"A": barAt(10), "B": barAt(10)}
	fills, err := exec.DrainAndExecute(1, bars, p, "2024-01-02")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	require.Equal(t, SideSell, fills[0].Side, "sell must commit before buy even though buy was enqueued first")
	require.Equal(t, SideBuy, fills[1].Side)
}

func TestExecutionWeightRebalanceBuysToTarget(t *testing.T) {
	cfg := newTestConfig()
	cfg.Cash = decimal.NewFromInt(100000)
	diag := diagnostics.New(nil)
	p := NewPortfolioState(cfg)
	exec := NewExecutionEngine(cfg, diag)

	exec.Enqueue("A", SideBuy, QtyTypeWeight, decimal.NewFromFloat(0.3))
	bars := map[Symbol]Bar{"A": barAt(50)}
	fills, err := exec.DrainAndExecute(0, bars, p, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	// target value = 0.3 * 100000 = 30000; at price 50 that is 600 shares, already lot aligned.
	require.Equal(t, int64(600), fills[0].Shares)
}

func TestExecutionBuyDownsizesOnInsufficientCash(t *testing.T) {
	cfg := newTestConfig()
	cfg.Cash = decimal.NewFromInt(1030) // just over 100 shares at 10 + fees, short of 200
	diag := diagnostics.New(nil)
	p := NewPortfolioState(cfg)
	exec := NewExecutionEngine(cfg, diag)

	exec.Enqueue("A", SideBuy, QtyTypeCount, decimal.NewFromInt(200))
	bars := map[Symbol]Bar{"A": barAt(10)}
	fills, err := exec.DrainAndExecute(0, bars, p, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, int64(100), fills[0].Shares, "order downsizes by a full lot until affordable")
}

func TestExecutionNakedShortIsDroppedNotNegative(t *testing.T) {
	cfg := newTestConfig()
	diag := diagnostics.New(nil)
	p := NewPortfolioState(cfg)
	exec := NewExecutionEngine(cfg, diag)

	exec.Enqueue("A", SideSell, QtyTypeCount, decimal.NewFromInt(100))
	bars := map[Symbol]Bar{"A": barAt(10)}
	fills, err := exec.DrainAndExecute(0, bars, p, "2024-01-01")
	require.NoError(t, err)
	require.Empty(t, fills, "selling a symbol never held produces no fill")
	require.NotEmpty(t, diag.Warnings())
}

func TestExecutionDropsOrderForNonTradableSymbol(t *testing.T) {
	cfg := newTestConfig()
	diag := diagnostics.New(nil)
	p := NewPortfolioState(cfg)
	exec := NewExecutionEngine(cfg, diag)

	exec.Enqueue("A", SideBuy, QtyTypeCount, decimal.NewFromInt(100))
	fills, err := exec.DrainAndExecute(0, map[Symbol]Bar{}, p, "2024-01-01")
	require.NoError(t, err)
	require.Empty(t, fills)
}
