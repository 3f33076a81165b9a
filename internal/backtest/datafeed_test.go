package backtest

import (
	"testing"
	"time"

	"github.com/ashare-quant/backtest/internal/diagnostics"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func barOn(ts time.Time, close float64) Bar {
	c := decimal.NewFromFloat(close)
	return Bar{Timestamp: ts, Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(100)}
}

func TestDataFeedAdvanceStartsAtFirstBar(t *testing.T) {
	feed := NewDataFeed(diagnostics.New(nil))
	require.NoError(t, feed.SetBenchmark([]Bar{barOn(day(1), 1), barOn(day(2), 1), barOn(day(3), 1)}))

	require.Equal(t, -1, feed.CurrentIndex())
	require.True(t, feed.Advance())
	require.Equal(t, 0, feed.CurrentIndex())
	require.True(t, feed.Advance())
	require.True(t, feed.Advance())
	require.False(t, feed.Advance(), "exhausted after 3 benchmark steps")
}

func TestDataFeedAlignmentDropsOutOfTimelineBars(t *testing.T) {
	diag := diagnostics.New(nil)
	feed := NewDataFeed(diag)
	require.NoError(t, feed.SetBenchmark([]Bar{barOn(day(1), 1), barOn(day(3), 1)}))

	// day(2) has no matching benchmark slot and must be dropped with a warning.
	feed.AddMarketData("A", []Bar{barOn(day(1), 10), barOn(day(2), 11), barOn(day(3), 12)})

	require.NotEmpty(t, diag.Warnings())
	feed.Advance()
	bars := feed.CurrentBars()
	require.Contains(t, bars, Symbol("A"))
	require.True(t, bars["A"].Close.Equal(decimal.NewFromFloat(10)))

	feed.Advance()
	bars = feed.CurrentBars()
	require.True(t, bars["A"].Close.Equal(decimal.NewFromFloat(12)))
}

func TestDataFeedAbsentSlotIsNotTradable(t *testing.T) {
	diag := diagnostics.New(nil)
	feed := NewDataFeed(diag)
	require.NoError(t, feed.SetBenchmark([]Bar{barOn(day(1), 1), barOn(day(2), 1)}))
	feed.AddMarketData("A", []Bar{barOn(day(1), 10)}) // no bar for day(2)

	feed.Advance()
	require.True(t, feed.IsTradable("A"))
	feed.Advance()
	require.False(t, feed.IsTradable("A"), "missing slot means not tradable")
	_, present := feed.CurrentBars()["A"]
	require.False(t, present)
}

func TestDataFeedGetBarsReturnsOldestFirstPresentOnly(t *testing.T) {
	diag := diagnostics.New(nil)
	feed := NewDataFeed(diag)
	require.NoError(t, feed.SetBenchmark([]Bar{barOn(day(1), 1), barOn(day(2), 1), barOn(day(3), 1)}))
	feed.AddMarketData("A", []Bar{barOn(day(1), 10), barOn(day(3), 12)}) // day(2) absent

	feed.Advance()
	feed.Advance()
	feed.Advance()

	bars := feed.GetBars("A", 5)
	require.Len(t, bars, 2, "absent day(2) slot is skipped, not zero-filled")
	require.True(t, bars[0].Close.Equal(decimal.NewFromFloat(10)))
	require.True(t, bars[1].Close.Equal(decimal.NewFromFloat(12)))
}

func TestDataFeedSetBenchmarkRejectsNonMonotonic(t *testing.T) {
	feed := NewDataFeed(diagnostics.New(nil))
	err := feed.SetBenchmark([]Bar{barOn(day(2), 1), barOn(day(1), 1)})
	require.Error(t, err)
}

func TestDataFeedSetBenchmarkRejectsEmpty(t *testing.T) {
	feed := NewDataFeed(diagnostics.New(nil))
	err := feed.SetBenchmark(nil)
	require.Error(t, err)
}
