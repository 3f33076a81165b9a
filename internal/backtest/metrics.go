package backtest

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// Stats is the terminal summary computed by MetricsRecorder.Finalize.
type Stats struct {
	TotalReturn             float64
	AnnualizedReturn        float64
	AnnualizationAvailable  bool
	MaxDrawdown             float64
	Sharpe                  float64
	WinRate                 float64
	ProfitLossRatio         float64
	ClosedTrades            int
}

// BarsPerYearScale selects the annualization scale for Stats; daily
// bars use 252, intraday bars multiply by bars-per-day. Zero means
// "unknown", which disables annualization per the engine spec.
type BarsPerYearScale float64

const (
	ScaleUnknown BarsPerYearScale = 0
	ScaleDaily   BarsPerYearScale = 252
)

// MetricsRecorder appends the equity curve and fills during the main
// loop and computes the terminal Stats once the run ends.
type MetricsRecorder struct {
	equity    []EquityPoint
	fills     []Fill
	scale     BarsPerYearScale

	// Optional Prometheus instrumentation; nil registry disables it.
	registry  *prometheus.Registry
	gEquity   prometheus.Gauge
	gDrawdown prometheus.Gauge
	cFills    *prometheus.CounterVec

	peak decimal.Decimal
}

// NewMetricsRecorder constructs a recorder with the given annualization
// scale. Prometheus instrumentation is off by default; call
// EnablePrometheus to turn it on.
func NewMetricsRecorder(scale BarsPerYearScale) *MetricsRecorder {
	return &MetricsRecorder{scale: scale, peak: decimal.Zero}
}

// EnablePrometheus registers backtest_equity, backtest_drawdown, and
// backtest_fills_total on a fresh registry and returns it so a caller
// can expose it on an HTTP handler. This has no effect on simulation
// state or determinism — it is a side channel for live observability
// during a long-running backtest.
func (m *MetricsRecorder) EnablePrometheus() *prometheus.Registry {
	m.registry = prometheus.NewRegistry()
	m.gEquity = prometheus.NewGauge(prometheus.GaugeOpts{Name: "backtest_equity", Help: "Current portfolio equity."})
	m.gDrawdown = prometheus.NewGauge(prometheus.GaugeOpts{Name: "backtest_drawdown", Help: "Current drawdown from running peak equity."})
	m.cFills = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "backtest_fills_total", Help: "Total fills by side."}, []string{"side"})
	m.registry.MustRegister(m.gEquity, m.gDrawdown, m.cFills)
	return m.registry
}

// RecordEquity appends one equity sample. Called once per bar, after execution.
func (m *MetricsRecorder) RecordEquity(ts time.Time, equity decimal.Decimal) {
	m.equity = append(m.equity, EquityPoint{Timestamp: ts, Equity: equity})
	if equity.GreaterThan(m.peak) {
		m.peak = equity
	}
	if m.gEquity != nil {
		f, _ := equity.Float64()
		m.gEquity.Set(f)
		if m.peak.IsPositive() {
			dd := m.peak.Sub(equity).Div(m.peak)
			ddf, _ := dd.Float64()
			m.gDrawdown.Set(ddf)
		}
	}
}

// RecordFill appends one fill. Called for every fill the execution
// engine produces.
func (m *MetricsRecorder) RecordFill(f Fill) {
	m.fills = append(m.fills, f)
	if m.cFills != nil {
		m.cFills.WithLabelValues(string(f.Side)).Inc()
	}
}

// EquityCurve returns every recorded equity sample, in recording order.
func (m *MetricsRecorder) EquityCurve() []EquityPoint {
	out := make([]EquityPoint, len(m.equity))
	copy(out, m.equity)
	return out
}

// Fills returns every recorded fill, in recording order.
func (m *MetricsRecorder) Fills() []Fill {
	out := make([]Fill, len(m.fills))
	copy(out, m.fills)
	return out
}

// Finalize computes the terminal Stats from the recorded equity curve
// and fill log, per the engine spec's formulas.
func (m *MetricsRecorder) Finalize() Stats {
	var stats Stats
	if len(m.equity) == 0 {
		return stats
	}

	e0 := m.equity[0].Equity
	eT := m.equity[len(m.equity)-1].Equity
	if e0.IsZero() {
		return stats
	}
	ratio, _ := eT.Div(e0).Float64()
	stats.TotalReturn = ratio - 1

	if m.scale > 0 && len(m.equity) > 1 {
		years := float64(len(m.equity)-1) / float64(m.scale)
		if years > 0 {
			stats.AnnualizedReturn = math.Pow(ratio, 1/years) - 1
			stats.AnnualizationAvailable = true
		}
	} else {
		stats.AnnualizedReturn = stats.TotalReturn
		stats.AnnualizationAvailable = false
	}

	stats.MaxDrawdown = maxDrawdown(m.equity)
	stats.Sharpe = sharpe(m.equity, float64(m.scale))

	closed := pairClosedTrades(m.fills)
	stats.ClosedTrades = len(closed)
	stats.WinRate, stats.ProfitLossRatio = winRateAndPLRatio(closed)

	return stats
}

func maxDrawdown(curve []EquityPoint) float64 {
	var peak, maxDD float64
	for i, p := range curve {
		v, _ := p.Equity.Float64()
		if i == 0 || v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func sharpe(curve []EquityPoint, scale float64) float64 {
	if len(curve) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Equity.Float64()
		cur, _ := curve[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, cur/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	sd := math.Sqrt(variance)
	if sd == 0 {
		return 0
	}
	if scale <= 0 {
		scale = 1
	}
	return (mean / sd) * math.Sqrt(scale)
}

// closedTrade is a FIFO-paired buy/sell of the same symbol for the
// shares common to both legs.
type closedTrade struct {
	symbol   Symbol
	shares   int64
	pl       decimal.Decimal
}

// pairClosedTrades FIFO-pairs buy and sell fills per symbol: each sell
// leg consumes the oldest unmatched buy lots first, producing one
// closedTrade per matched chunk. P/L = sell_net - buy_net for the
// paired shares.
func pairClosedTrades(fills []Fill) []closedTrade {
	type lot struct {
		shares int64
		netPerShare decimal.Decimal
	}
	buys := make(map[Symbol][]lot)
	var closed []closedTrade

	for _, f := range fills {
		switch f.Side {
		case SideBuy:
			netPerShare := f.GrossAmount.Add(f.Commission).Div(decimal.NewFromInt(f.Shares))
			buys[f.Symbol] = append(buys[f.Symbol], lot{shares: f.Shares, netPerShare: netPerShare})
		case SideSell:
			remaining := f.Shares
			sellNetPerShare := f.GrossAmount.Sub(f.Commission).Sub(f.StampTax).Div(decimal.NewFromInt(f.Shares))
			queue := buys[f.Symbol]
			for remaining > 0 && len(queue) > 0 {
				b := &queue[0]
				matched := minInt64(remaining, b.shares)
				pl := sellNetPerShare.Sub(b.netPerShare).Mul(decimal.NewFromInt(matched))
				closed = append(closed, closedTrade{symbol: f.Symbol, shares: matched, pl: pl})
				b.shares -= matched
				remaining -= matched
				if b.shares == 0 {
					queue = queue[1:]
				}
			}
			buys[f.Symbol] = queue
		}
	}
	return closed
}

func winRateAndPLRatio(trades []closedTrade) (winRate, plRatio float64) {
	if len(trades) == 0 {
		return 0, 0
	}
	var wins, losses int
	var winSum, lossSum decimal.Decimal
	for _, t := range trades {
		if t.pl.IsPositive() {
			wins++
			winSum = winSum.Add(t.pl)
		} else if t.pl.IsNegative() {
			losses++
			lossSum = lossSum.Add(t.pl.Abs())
		}
	}
	winRate = float64(wins) / float64(len(trades))
	if losses == 0 || lossSum.IsZero() {
		if wins > 0 {
			return winRate, math.Inf(1)
		}
		return winRate, 0
	}
	avgWin := decimal.Zero
	if wins > 0 {
		avgWin = winSum.Div(decimal.NewFromInt(int64(wins)))
	}
	avgLoss := lossSum.Div(decimal.NewFromInt(int64(losses)))
	ratio, _ := avgWin.Div(avgLoss).Float64()
	return winRate, ratio
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// BuyAndHoldCurve computes a buy-and-hold equity trajectory of a
// benchmark bar series, scaled so its first value equals initialCash.
// This resolves the engine spec's open question on benchmark dual-role:
// the benchmark timeline is the simulation clock; this curve is the
// secondary buy-and-hold comparison reported in the run result.
func BuyAndHoldCurve(bars []Bar, initialCash decimal.Decimal) []EquityPoint {
	if len(bars) == 0 {
		return nil
	}
	base := bars[0].Close
	out := make([]EquityPoint, len(bars))
	for i, b := range bars {
		if base.IsZero() {
			out[i] = EquityPoint{Timestamp: b.Timestamp, Equity: initialCash}
			continue
		}
		ratio := b.Close.Div(base)
		out[i] = EquityPoint{Timestamp: b.Timestamp, Equity: initialCash.Mul(ratio)}
	}
	return out
}
