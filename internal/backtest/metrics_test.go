package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMetricsTotalReturn(t *testing.T) {
	m := NewMetricsRecorder(ScaleUnknown)
	m.RecordEquity(day(1), decimal.NewFromInt(100000))
	m.RecordEquity(day(2), decimal.NewFromInt(110000))

	stats := m.Finalize()
	require.InDelta(t, 0.1, stats.TotalReturn, 1e-9)
	require.False(t, stats.AnnualizationAvailable, "scale 0 disables annualization")
}

func TestMetricsMaxDrawdown(t *testing.T) {
	m := NewMetricsRecorder(ScaleUnknown)
	for i, v := range []int64{100, 120, 90, 150, 80} {
		m.RecordEquity(day(i+1), decimal.NewFromInt(v))
	}
	stats := m.Finalize()
	// peak 120 -> trough 90: dd = 30/120 = 0.25; later peak 150 -> trough 80: dd = 70/150 = 0.4667
	require.InDelta(t, 70.0/150.0, stats.MaxDrawdown, 1e-6)
}

func TestMetricsWinRateAndPLRatio(t *testing.T) {
	m := NewMetricsRecorder(ScaleUnknown)
	ts := day(1)

	buy := Fill{Symbol: "A", Side: SideBuy, Shares: 100, GrossAmount: decimal.NewFromInt(1000), Commission: decimal.NewFromInt(5), Timestamp: ts}
	sellWin := Fill{Symbol: "A", Side: SideSell, Shares: 50, GrossAmount: decimal.NewFromInt(600), Commission: decimal.NewFromInt(3), StampTax: decimal.NewFromInt(1), Timestamp: ts}
	sellLoss := Fill{Symbol: "A", Side: SideSell, Shares: 50, GrossAmount: decimal.NewFromInt(400), Commission: decimal.NewFromInt(2), StampTax: decimal.NewFromInt(1), Timestamp: ts}

	m.RecordFill(buy)
	m.RecordFill(sellWin)
	m.RecordFill(sellLoss)
	m.RecordEquity(ts, decimal.NewFromInt(100000))

	stats := m.Finalize()
	require.Equal(t, 2, stats.ClosedTrades)
	require.InDelta(t, 0.5, stats.WinRate, 1e-9)
	require.Greater(t, stats.ProfitLossRatio, 0.0)
}

func TestBuyAndHoldCurveScalesToInitialCash(t *testing.T) {
	bars := []Bar{
		{Timestamp: day(1), Close: decimal.NewFromInt(10)},
		{Timestamp: day(2), Close: decimal.NewFromInt(15)},
	}
	curve := BuyAndHoldCurve(bars, decimal.NewFromInt(1000))
	require.True(t, curve[0].Equity.Equal(decimal.NewFromInt(1000)))
	require.True(t, curve[1].Equity.Equal(decimal.NewFromInt(1500)))
}

func TestMetricsEmptyCurveFinalizesToZeroStats(t *testing.T) {
	m := NewMetricsRecorder(ScaleDaily)
	stats := m.Finalize()
	require.Equal(t, Stats{}, stats)
	_ = time.Time{}
}
