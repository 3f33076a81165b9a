package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/ashare-quant/backtest/internal/diagnostics"
)

// DataFeed owns the immutable bar arrays per symbol and the benchmark
// timeline they are aligned against. Each symbol is aligned once, when
// AddMarketData registers it, and then only the cursor (current_index)
// advances through the main loop.
type DataFeed struct {
	diag *diagnostics.Sink

	timeline BenchmarkTimeline
	series   map[Symbol][]AlignedBar // symbol -> per-benchmark-index slot
	symbols  []Symbol                // deterministic iteration order

	index int
}

// NewDataFeed constructs a DataFeed bound to a diagnostics sink used to
// report dropped out-of-timeline bars during alignment.
func NewDataFeed(diag *diagnostics.Sink) *DataFeed {
	if diag == nil {
		diag = diagnostics.New(nil)
	}
	return &DataFeed{
		diag:   diag,
		series: make(map[Symbol][]AlignedBar),
		index:  -1,
	}
}

// SetBenchmark fixes the benchmark timeline. Must be called exactly
// once, before any AddMarketData call. A non-monotonic or empty
// sequence is a fatal configuration error.
func (f *DataFeed) SetBenchmark(bars []Bar) error {
	if len(bars) == 0 {
		return &ConfigError{Field: "benchmark", Detail: "must not be empty"}
	}
	timeline := make(BenchmarkTimeline, len(bars))
	for i, b := range bars {
		if i > 0 && !timeline[i-1].Before(b.Timestamp) {
			return &ConfigError{Field: "benchmark", Detail: "timestamps must be strictly increasing"}
		}
		timeline[i] = b.Timestamp
	}
	f.timeline = timeline
	return nil
}

// AddMarketData registers a symbol's raw bar sequence and aligns it
// against the benchmark timeline immediately, so SetBenchmark must
// already have been called.
func (f *DataFeed) AddMarketData(symbol Symbol, bars []Bar) {
	aligned := f.alignSeries(symbol, bars)
	f.series[symbol] = aligned
	f.symbols = append(f.symbols, symbol)
	sort.Slice(f.symbols, func(i, j int) bool { return f.symbols[i] < f.symbols[j] })
}

// alignSeries implements the alignment algorithm from the engine spec:
// walk the benchmark timestamps and the symbol's bars in lockstep,
// placing a bar at its matching index and leaving every other slot
// absent. Symbol bars whose timestamp is not on the benchmark are
// dropped with a recorded warning.
func (f *DataFeed) alignSeries(symbol Symbol, bars []Bar) []AlignedBar {
	out := make([]AlignedBar, len(f.timeline))

	bi := 0
	for ti, ts := range f.timeline {
		for bi < len(bars) && bars[bi].Timestamp.Before(ts) {
			f.diag.Warn(diagnostics.KindDataWarning, "datafeed", ti, string(symbol),
				"bar at %s has no matching benchmark timestamp, dropped", bars[bi].Timestamp)
			bi++
		}
		if bi < len(bars) && bars[bi].Timestamp.Equal(ts) {
			out[ti] = AlignedBar{Bar: bars[bi], Present: true}
			bi++
		}
	}
	for ; bi < len(bars); bi++ {
		f.diag.Warn(diagnostics.KindDataWarning, "datafeed", len(f.timeline)-1, string(symbol),
			"bar at %s is after the benchmark timeline, dropped", bars[bi].Timestamp)
	}
	return out
}

// CurrentIndex returns the cursor, starting at -1 before the first Advance.
func (f *DataFeed) CurrentIndex() int {
	return f.index
}

// Len returns the number of benchmark steps.
func (f *DataFeed) Len() int {
	return len(f.timeline)
}

// Advance moves the cursor forward one benchmark step. Returns false
// once the timeline is exhausted.
func (f *DataFeed) Advance() bool {
	if f.index+1 >= len(f.timeline) {
		return false
	}
	f.index++
	return true
}

// CurrentTimestamp returns the benchmark timestamp at the cursor, or
// the zero time before the first Advance.
func (f *DataFeed) CurrentTimestamp() time.Time {
	if f.index < 0 {
		return time.Time{}
	}
	return f.timeline[f.index]
}

// CurrentBars returns only the symbols whose aligned slot at the
// cursor is present and not suspended, keyed by symbol (the map itself
// has no iteration order; use Symbols for a sorted order). A suspended symbol has no current bar as far as trading is
// concerned: it is neither tradable nor a valid execution reference.
func (f *DataFeed) CurrentBars() map[Symbol]Bar {
	out := make(map[Symbol]Bar)
	if f.index < 0 {
		return out
	}
	for _, s := range f.symbols {
		slot := f.series[s][f.index]
		if slot.Present && !slot.Bar.SuspendFlag {
			out[s] = slot.Bar
		}
	}
	return out
}

// GetBars returns up to count most recent aligned-present bars at
// indices in [0, current_index], oldest first. count < 1 is a fatal
// programmer error, matching the spec's documented contract.
func (f *DataFeed) GetBars(symbol Symbol, count int) []Bar {
	if count < 1 {
		panic(fmt.Sprintf("datafeed: GetBars count must be >= 1, got %d", count))
	}
	series, ok := f.series[symbol]
	if !ok {
		return nil
	}
	var out []Bar
	for i := f.index; i >= 0 && len(out) < count; i-- {
		if series[i].Present {
			out = append(out, series[i].Bar)
		}
	}
	// out is newest-first; reverse to oldest-first.
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// IsTradable reports whether the symbol has a present, non-suspended
// bar at the cursor.
func (f *DataFeed) IsTradable(symbol Symbol) bool {
	series, ok := f.series[symbol]
	if !ok || f.index < 0 {
		return false
	}
	slot := series[f.index]
	return slot.Present && !slot.Bar.SuspendFlag
}

// Symbols returns every symbol registered via AddMarketData, in
// deterministic order.
func (f *DataFeed) Symbols() []Symbol {
	out := make([]Symbol, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Timeline exposes the benchmark timeline read-only.
func (f *DataFeed) Timeline() BenchmarkTimeline {
	return f.timeline
}
