package backtest

import (
	"math"

	"github.com/ashare-quant/backtest/internal/diagnostics"
	"github.com/shopspring/decimal"
)

// BuiltinKind tags a built-in indicator implementation. IndicatorDef is
// a tagged variant per the engine's "no inheritance" design note:
// dispatch happens on Kind in precompute, never through an interface
// hierarchy of indicator types.
type BuiltinKind string

const (
	BuiltinSMA       BuiltinKind = "sma"
	BuiltinEMA       BuiltinKind = "ema"
	BuiltinRSI       BuiltinKind = "rsi"
	BuiltinMACD      BuiltinKind = "macd"
	BuiltinBollinger BuiltinKind = "bollinger"
)

// Field selects which OHLCV value a builtin indicator reads.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

func fieldValue(b Bar, f Field) float64 {
	switch f {
	case FieldOpen:
		return b.Open.InexactFloat64()
	case FieldHigh:
		return b.High.InexactFloat64()
	case FieldLow:
		return b.Low.InexactFloat64()
	case FieldVolume:
		return b.Volume.InexactFloat64()
	default:
		return b.Close.InexactFloat64()
	}
}

// UserIndicatorFunc is a user-callable indicator: given the historical,
// present-only window of bars ending at the current index (oldest
// first), return a value or report missing.
type UserIndicatorFunc func(window []Bar) (value float64, missing bool)

// IndicatorDef describes one registered indicator.
type IndicatorDef struct {
	Name     string
	Kind     BuiltinKind // empty if UserFunc is set
	Field    Field
	Period   int // sma/ema/rsi window, or bollinger period
	Fast     int // macd fast period
	Slow     int // macd slow period
	Signal   int // macd signal period
	K        float64 // bollinger band width multiplier
	Lookback int     // required for user-callable defs

	UserFunc UserIndicatorFunc
}

// seriesNames returns the sub-series this def produces. Most builtins
// emit one named series (their own name); macd and bollinger emit
// three, suffixed per the engine spec.
func (d IndicatorDef) seriesNames() []string {
	switch d.Kind {
	case BuiltinMACD:
		return []string{d.Name + ".line", d.Name + ".signal", d.Name + ".hist"}
	case BuiltinBollinger:
		return []string{d.Name + ".mid", d.Name + ".upper", d.Name + ".lower"}
	default:
		return []string{d.Name}
	}
}

// value is one slot in a precomputed indicator series: missing or present.
type value struct {
	v       float64
	present bool
}

// IndicatorEngine precomputes every registered indicator's series over
// the benchmark timeline and serves historical-only reads gated by a
// cursor the main loop advances once per bar.
type IndicatorEngine struct {
	diag *diagnostics.Sink

	defs        map[string]IndicatorDef
	defOrder    []string
	precomputed bool

	// seriesName -> symbol -> dense value array, length == len(timeline)
	series map[string]map[Symbol][]value

	cursor int
}

// NewIndicatorEngine constructs an engine bound to a diagnostics sink.
func NewIndicatorEngine(diag *diagnostics.Sink) *IndicatorEngine {
	if diag == nil {
		diag = diagnostics.New(nil)
	}
	return &IndicatorEngine{
		diag:   diag,
		defs:   make(map[string]IndicatorDef),
		series: make(map[string]map[Symbol][]value),
	}
}

// Register adds an indicator definition. Must be called before Precompute;
// a duplicate name is a fatal configuration error.
func (e *IndicatorEngine) Register(def IndicatorDef) error {
	if e.precomputed {
		return &ConfigError{Field: "indicator", Detail: "cannot register " + def.Name + " after precompute"}
	}
	if _, exists := e.defs[def.Name]; exists {
		return &ConfigError{Field: "indicator", Detail: "duplicate indicator name " + def.Name}
	}
	e.defs[def.Name] = def
	e.defOrder = append(e.defOrder, def.Name)
	return nil
}

// Precompute computes every registered indicator's value at every
// benchmark index for every symbol with an aligned bar. Must be called
// exactly once, after all Register calls, before the main loop.
func (e *IndicatorEngine) Precompute(feed *DataFeed) error {
	n := feed.Len()
	for _, name := range e.defOrder {
		def := e.defs[name]
		for _, sname := range def.seriesNames() {
			e.series[sname] = make(map[Symbol][]value, len(feed.Symbols()))
		}
		for _, sym := range feed.Symbols() {
			bars, present := e.alignedBarsFor(feed, sym)
			switch {
			case def.UserFunc != nil:
				e.precomputeUser(def, sym, bars, present, n)
			default:
				e.precomputeBuiltin(def, sym, bars, present, n)
			}
		}
	}
	e.precomputed = true
	return nil
}

// alignedBarsFor copies a symbol's per-index (bar, present) view
// straight from the DataFeed's aligned slots, independent of its cursor.
func (e *IndicatorEngine) alignedBarsFor(feed *DataFeed, sym Symbol) ([]Bar, []bool) {
	n := feed.Len()
	bars := make([]Bar, n)
	present := make([]bool, n)
	series, ok := feed.series[sym]
	if !ok {
		return bars, present
	}
	for i := 0; i < n; i++ {
		if series[i].Present {
			bars[i] = series[i].Bar
			present[i] = true
		}
	}
	return bars, present
}

func (e *IndicatorEngine) precomputeUser(def IndicatorDef, sym Symbol, bars []Bar, present []bool, n int) {
	out := make([]value, n)
	for i := 0; i < n; i++ {
		if !present[i] {
			continue
		}
		lo := i - def.Lookback + 1
		if lo < 0 {
			lo = 0
		}
		var window []Bar
		for j := lo; j <= i; j++ {
			if present[j] {
				window = append(window, bars[j])
			}
		}
		if len(window) < def.Lookback {
			continue
		}
		v, missing, err := e.callUser(def, window)
		if err != nil {
			// Surfaced via Precompute's caller as a fatal error through
			// panic/recover would break determinism guarantees; instead
			// the value is marked missing and a warning is recorded. A
			// strategy callback error remains fatal per the spec's
			// separate "user callable errors" path; precompute-time user
			// function errors are instead treated as missing-with-warning
			// because they happen before any bar callback runs.
			e.diag.Warn(diagnostics.KindDataWarning, "indicator", i, string(sym), "user indicator %s error: %v", def.Name, err)
			continue
		}
		if missing {
			continue
		}
		out[i] = value{v: v, present: true}
	}
	e.series[def.Name][sym] = out
}

func (e *IndicatorEngine) callUser(def IndicatorDef, window []Bar) (v float64, missing bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StrategyError{Detail: "indicator " + def.Name + " panicked", Err: panicToErr(r)}
		}
	}()
	v, missing = def.UserFunc(window)
	return
}

func (e *IndicatorEngine) precomputeBuiltin(def IndicatorDef, sym Symbol, bars []Bar, present []bool, n int) {
	switch def.Kind {
	case BuiltinSMA:
		e.series[def.Name][sym] = computeSMA(bars, present, def.Field, def.Period)
	case BuiltinEMA:
		e.series[def.Name][sym] = computeEMA(bars, present, def.Field, def.Period)
	case BuiltinRSI:
		e.series[def.Name][sym] = computeRSI(bars, present, def.Field, def.Period)
	case BuiltinMACD:
		line, signal, hist := computeMACD(bars, present, def.Field, def.Fast, def.Slow, def.Signal)
		e.series[def.Name+".line"][sym] = line
		e.series[def.Name+".signal"][sym] = signal
		e.series[def.Name+".hist"][sym] = hist
	case BuiltinBollinger:
		mid, upper, lower := computeBollinger(bars, present, def.Field, def.Period, def.K)
		e.series[def.Name+".mid"][sym] = mid
		e.series[def.Name+".upper"][sym] = upper
		e.series[def.Name+".lower"][sym] = lower
	}
}

// computeSMA keeps a window of the last `period` *present* field
// values (missing benchmark slots don't count toward the window) and
// emits the mean once the window has filled, per the engine spec's
// O(period) window-state precompute policy.
func computeSMA(bars []Bar, present []bool, field Field, period int) []value {
	n := len(bars)
	out := make([]value, n)
	window := make([]float64, 0, period)
	var sum float64
	for i := 0; i < n; i++ {
		if !present[i] {
			continue
		}
		v := fieldValue(bars[i], field)
		window = append(window, v)
		sum += v
		if len(window) > period {
			sum -= window[0]
			window = window[1:]
		}
		if len(window) >= period {
			out[i] = value{v: sum / float64(period), present: true}
		}
	}
	return out
}

func computeEMA(bars []Bar, present []bool, field Field, period int) []value {
	n := len(bars)
	out := make([]value, n)
	alpha := 2.0 / float64(period+1)
	var sma []value = computeSMA(bars, present, field, period)
	var ema float64
	seeded := false
	for i := 0; i < n; i++ {
		if !present[i] {
			continue
		}
		if !seeded {
			if sma[i].present {
				ema = sma[i].v
				seeded = true
				out[i] = value{v: ema, present: true}
			}
			continue
		}
		ema = alpha*fieldValue(bars[i], field) + (1-alpha)*ema
		out[i] = value{v: ema, present: true}
	}
	return out
}

func computeRSI(bars []Bar, present []bool, field Field, period int) []value {
	n := len(bars)
	out := make([]value, n)
	var avgGain, avgLoss float64
	var prev float64
	havePrev := false
	count := 0
	for i := 0; i < n; i++ {
		if !present[i] {
			continue
		}
		cur := fieldValue(bars[i], field)
		if !havePrev {
			prev = cur
			havePrev = true
			continue
		}
		delta := cur - prev
		prev = cur
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		count++
		if count <= period {
			avgGain += gain
			avgLoss += loss
			if count == period {
				avgGain /= float64(period)
				avgLoss /= float64(period)
				out[i] = value{v: rsiFromAvg(avgGain, avgLoss), present: true}
			}
			continue
		}
		// Wilder's smoothing
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = value{v: rsiFromAvg(avgGain, avgLoss), present: true}
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func computeMACD(bars []Bar, present []bool, field Field, fast, slow, signal int) (line, sig, hist []value) {
	n := len(bars)
	emaFast := computeEMA(bars, present, field, fast)
	emaSlow := computeEMA(bars, present, field, slow)
	line = make([]value, n)
	for i := 0; i < n; i++ {
		if emaFast[i].present && emaSlow[i].present {
			line[i] = value{v: emaFast[i].v - emaSlow[i].v, present: true}
		}
	}
	// signal = EMA(signal period) of the macd line, treating missing
	// line slots as absent bars for seeding purposes.
	linePresent := make([]bool, n)
	for i := range line {
		linePresent[i] = line[i].present
	}
	lineBars := make([]Bar, n)
	for i := range line {
		if line[i].present {
			lineBars[i].Close = decimal.NewFromFloat(line[i].v)
		}
	}
	sig = computeEMA(lineBars, linePresent, FieldClose, signal)
	hist = make([]value, n)
	for i := 0; i < n; i++ {
		if line[i].present && sig[i].present {
			hist[i] = value{v: line[i].v - sig[i].v, present: true}
		}
	}
	return
}

func computeBollinger(bars []Bar, present []bool, field Field, period int, k float64) (mid, upper, lower []value) {
	n := len(bars)
	mid = computeSMA(bars, present, field, period)
	upper = make([]value, n)
	lower = make([]value, n)

	var window []float64
	for i := 0; i < n; i++ {
		if !present[i] {
			continue
		}
		window = append(window, fieldValue(bars[i], field))
		if len(window) > period {
			window = window[1:]
		}
		if !mid[i].present {
			continue
		}
		mean := mid[i].v
		var sq float64
		for _, v := range window {
			d := v - mean
			sq += d * d
		}
		sd := math.Sqrt(sq / float64(len(window)))
		upper[i] = value{v: mean + k*sd, present: true}
		lower[i] = value{v: mean - k*sd, present: true}
	}
	return
}

// SetCursor is called by the main loop before each bar-callback.
func (e *IndicatorEngine) SetCursor(index int) {
	e.cursor = index
}

// Value returns the indicator's value at the cursor for (name, symbol).
// This is GetValue(count=1) from the engine spec. The second return is
// false when the slot is missing (insufficient lookback, absent bar,
// or a user function that reported missing).
func (e *IndicatorEngine) Value(name string, symbol Symbol) (float64, bool) {
	seq, ok := e.Values(name, symbol, 1)
	if len(seq) == 0 || !ok[len(ok)-1] {
		return 0, false
	}
	return seq[len(seq)-1], true
}

// Values returns up to count values ending at the cursor, oldest
// first, for (name, symbol). A read past the cursor is impossible by
// construction: the window is always clamped to [0, cursor]. The
// parallel ok slice reports which slots are present; a missing slot's
// value is 0.
func (e *IndicatorEngine) Values(name string, symbol Symbol, count int) (seq []float64, ok []bool) {
	if count < 1 {
		panic("indicator: Values count must be >= 1")
	}
	bySymbol, exists := e.series[name]
	if !exists {
		return nil, nil
	}
	vals := bySymbol[symbol]
	lo := e.cursor - count + 1
	if lo < 0 {
		lo = 0
	}
	n := e.cursor - lo + 1
	if n < 0 {
		n = 0
	}
	seq = make([]float64, n)
	ok = make([]bool, n)
	for i := 0; i < n; i++ {
		idx := lo + i
		if idx >= 0 && idx < len(vals) && vals[idx].present {
			seq[i] = vals[idx].v
			ok[i] = true
		}
	}
	return seq, ok
}

func panicToErr(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &simplePanic{r}
}

type simplePanic struct{ v interface{} }

func (p *simplePanic) Error() string { return stringifyPanic(p.v) }

func stringifyPanic(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return "panic in indicator callback"
	}
}

