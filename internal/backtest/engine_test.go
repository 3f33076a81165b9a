package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func buildEngine(t *testing.T, closes []float64, strategy Strategy) *Engine {
	t.Helper()
	cfg := newTestConfig()
	cfg.Cash = decimal.NewFromInt(100000)
	engine := NewEngine(cfg, strategy, nil)

	bench := make([]Bar, len(closes))
	for i, c := range closes {
		bench[i] = barOn(day(i+1), c)
	}
	require.NoError(t, engine.Feed.SetBenchmark(bench))
	engine.Feed.AddMarketData("A", bench)
	return engine
}

func TestEngineRunBuysOnceAndRecordsEquityEveryBar(t *testing.T) {
	var started, stopped int
	var tradeCount int

	strategy := Strategy{
		OnStart: func(ctx *BarContext) { started++ },
		OnBar: func(ctx *BarContext) {
			if ctx.Timestamp.Equal(day(1)) {
				ctx.Order().Buy("A", decimal.NewFromInt(100), QtyTypeCount)
			}
		},
		OnTrade: func(ctx *BarContext, fill Fill) { tradeCount++ },
		OnStop:  func(ctx *BarContext) { stopped++ },
	}

	engine := buildEngine(t, []float64{10, 11, 12, 13, 14}, strategy)
	result, err := engine.Run()
	require.NoError(t, err)

	require.Equal(t, 1, started)
	require.Equal(t, 1, stopped)
	require.Equal(t, 1, tradeCount)
	require.Len(t, result.EquityCurve, 6, "E_0 seed plus one equity sample per bar")
	require.True(t, result.EquityCurve[0].Equity.Equal(decimal.NewFromInt(100000)), "E_0 must equal initial cash")
	require.Len(t, result.Fills, 1)
	require.NotEmpty(t, result.Fills[0].ID, "fills are stamped with an id")

	last := result.EquityCurve[len(result.EquityCurve)-1].Equity
	require.True(t, last.GreaterThan(decimal.NewFromInt(100000)), "position should have appreciated, got %s", last)
}

func TestEngineRunIsDeterministicAcrossRepeatedRuns(t *testing.T) {
	strategy := Strategy{
		OnBar: func(ctx *BarContext) {
			ctx.Order().Target(map[Symbol]decimal.Decimal{"A": decimal.NewFromFloat(0.5)})
		},
	}

	run := func() Result {
		engine := buildEngine(t, []float64{10, 11, 9, 12, 13, 8, 15}, strategy)
		result, err := engine.Run()
		require.NoError(t, err)
		return result
	}

	a := run()
	b := run()

	require.Equal(t, len(a.Fills), len(b.Fills))
	for i := range a.Fills {
		require.Equal(t, a.Fills[i].Shares, b.Fills[i].Shares)
		require.True(t, a.Fills[i].Price.Equal(b.Fills[i].Price))
	}
	require.Equal(t, a.Stats, b.Stats)
}

func TestEngineStrategyPanicIsReturnedAsStrategyError(t *testing.T) {
	strategy := Strategy{
		OnBar: func(ctx *BarContext) { panic("boom") },
	}
	engine := buildEngine(t, []float64{10, 11}, strategy)
	_, err := engine.Run()
	require.Error(t, err)
	var strategyErr *StrategyError
	require.ErrorAs(t, err, &strategyErr)
}

func TestEngineTotalReturnIsMeasuredAgainstInitialCash(t *testing.T) {
	// Buy 500 shares on bar 0, sell all 500 once they're available on
	// bar 1, at a price that nets a loss. total_return must be measured
	// from E_0 = initial_cash, not from whatever equity bar 0 leaves
	// behind.
	strategy := Strategy{
		OnBar: func(ctx *BarContext) {
			if ctx.Timestamp.Equal(day(1)) {
				ctx.Order().Buy("A", decimal.NewFromInt(500), QtyTypeCount)
			}
			if ctx.Timestamp.Equal(day(2)) {
				ctx.Order().Sell("A", decimal.NewFromInt(500), QtyTypeCount)
			}
		},
	}

	engine := buildEngine(t, []float64{10, 9}, strategy)
	result, err := engine.Run()
	require.NoError(t, err)

	require.InDelta(t, -0.039111, result.Stats.TotalReturn, 1e-6, "got %v", result.Stats.TotalReturn)
}

func TestEngineBenchmarkCurveIsBuyAndHoldScaledToInitialCash(t *testing.T) {
	engine := buildEngine(t, []float64{10, 20}, Strategy{})
	result, err := engine.Run()
	require.NoError(t, err)
	require.Len(t, result.BenchmarkCurve, 2)
	require.True(t, result.BenchmarkCurve[0].Equity.Equal(decimal.NewFromInt(100000)))
	require.True(t, result.BenchmarkCurve[1].Equity.Equal(decimal.NewFromInt(200000)), "price doubled, buy-and-hold equity doubles")
}
