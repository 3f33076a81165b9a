package backtest

import (
	"testing"

	"github.com/ashare-quant/backtest/internal/diagnostics"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func closesFeed(t *testing.T, closes []float64) *DataFeed {
	t.Helper()
	feed := NewDataFeed(diagnostics.New(nil))
	bench := make([]Bar, len(closes))
	for i := range closes {
		bench[i] = barOn(day(i+1), closes[i])
	}
	require.NoError(t, feed.SetBenchmark(bench))
	feed.AddMarketData("A", bench)
	return feed
}

func TestIndicatorSMAWindowFillsOnceEnoughHistory(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	feed := closesFeed(t, closes)

	ind := NewIndicatorEngine(diagnostics.New(nil))
	require.NoError(t, ind.Register(IndicatorDef{Name: "sma3", Kind: BuiltinSMA, Field: FieldClose, Period: 3}))
	require.NoError(t, ind.Precompute(feed))

	ind.SetCursor(3) // closes[1..3] = 2,3,4 -> mean 3... wait index 3 is closes[3]=4, window is closes[1],[2],[3]=2,3,4
	v, ok := ind.Value("sma3", "A")
	require.True(t, ok)
	require.InDelta(t, 3.0, v, 1e-9)

	ind.SetCursor(0)
	_, ok = ind.Value("sma3", "A")
	require.False(t, ok, "not enough history for the window yet")

	ind.SetCursor(9)
	seq, okSeq := ind.Values("sma3", "A", 10)
	require.Len(t, seq, 10)
	require.False(t, okSeq[0], "first two slots still lack a full window")
	require.False(t, okSeq[1])
	require.True(t, okSeq[2])
}

func TestIndicatorAntiLookAheadNeverReadsPastCursor(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	feed := closesFeed(t, closes)

	ind := NewIndicatorEngine(diagnostics.New(nil))
	require.NoError(t, ind.Register(IndicatorDef{Name: "sma2", Kind: BuiltinSMA, Field: FieldClose, Period: 2}))
	require.NoError(t, ind.Precompute(feed))

	ind.SetCursor(1)
	seq, ok := ind.Values("sma2", "A", 10)
	require.Len(t, seq, 2, "a count larger than the cursor clamps to [0, cursor]")
	require.True(t, ok[1])
}

func TestIndicatorUserFuncReceivesOnlyPresentHistoricalWindow(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	feed := closesFeed(t, closes)

	ind := NewIndicatorEngine(diagnostics.New(nil))
	var sawLens []int
	require.NoError(t, ind.Register(IndicatorDef{
		Name:     "custom",
		Lookback: 2,
		UserFunc: func(window []Bar) (float64, bool) {
			sawLens = append(sawLens, len(window))
			return window[len(window)-1].Close.InexactFloat64(), false
		},
	}))
	require.NoError(t, ind.Precompute(feed))

	ind.SetCursor(4)
	v, ok := ind.Value("custom", "A")
	require.True(t, ok)
	require.InDelta(t, 5.0, v, 1e-9)
	require.Equal(t, 2, sawLens[len(sawLens)-1])
}

func TestIndicatorRegisterAfterPrecomputeIsRejected(t *testing.T) {
	feed := closesFeed(t, []float64{1, 2, 3})
	ind := NewIndicatorEngine(diagnostics.New(nil))
	require.NoError(t, ind.Precompute(feed))
	err := ind.Register(IndicatorDef{Name: "late", Kind: BuiltinSMA, Period: 1})
	require.Error(t, err)
}

func TestIndicatorDuplicateNameRejected(t *testing.T) {
	ind := NewIndicatorEngine(diagnostics.New(nil))
	require.NoError(t, ind.Register(IndicatorDef{Name: "x", Kind: BuiltinSMA, Period: 1}))
	err := ind.Register(IndicatorDef{Name: "x", Kind: BuiltinSMA, Period: 1})
	require.Error(t, err)
}

func TestFloorToLot(t *testing.T) {
	require.Equal(t, int64(0), FloorToLot(decimal.NewFromInt(99)))
	require.Equal(t, int64(100), FloorToLot(decimal.NewFromInt(100)))
	require.Equal(t, int64(200), FloorToLot(decimal.NewFromInt(299)))
	require.Equal(t, int64(0), FloorToLot(decimal.NewFromInt(-50)))
}
