package backtest

import (
	"fmt"
	"time"

	"github.com/ashare-quant/backtest/internal/diagnostics"
	"github.com/sirupsen/logrus"
)

// Engine wires DataFeed, IndicatorEngine, PortfolioState, ExecutionEngine
// and MetricsRecorder together and drives the fixed per-bar sequence
// the run loop must follow. It owns no business logic of its own; every
// mutation happens inside one of its five components.
type Engine struct {
	Config     Config
	Feed       *DataFeed
	Indicators *IndicatorEngine
	Portfolio  *PortfolioState
	Execution  *ExecutionEngine
	Metrics    *MetricsRecorder
	Strategy   Strategy

	diag    *diagnostics.Sink
	scratch map[string]interface{}
}

// Result is the terminal output of a completed Run: the computed Stats,
// the recorded equity and benchmark curves, every fill, and any
// warnings accumulated along the way.
type Result struct {
	Stats          Stats
	EquityCurve    []EquityPoint
	BenchmarkCurve []EquityPoint
	Fills          []Fill
	Warnings       []diagnostics.Warning
}

// NewEngine constructs an Engine from a validated config. log may be
// nil, in which case a default logrus logger is used. cfg must already
// have passed Validate; NewEngine does not re-check it.
func NewEngine(cfg Config, strategy Strategy, log *logrus.Logger) *Engine {
	diag := diagnostics.New(log)
	return &Engine{
		Config:     cfg,
		Feed:       NewDataFeed(diag),
		Indicators: NewIndicatorEngine(diag),
		Portfolio:  NewPortfolioState(cfg),
		Execution:  NewExecutionEngine(cfg, diag),
		Metrics:    NewMetricsRecorder(ScaleDaily),
		Strategy:   strategy,
		diag:       diag,
		scratch:    make(map[string]interface{}),
	}
}

// Run executes the fixed per-bar sequence from the engine spec until
// the data feed is exhausted: advance the clock, roll settlement,
// advance the indicator cursor, refresh the bar context, invoke the
// strategy's bar callback, drain and execute its orders, invoke the
// trade callback per fill, and record equity. It panics-to-error on any
// unrecovered strategy panic and aborts immediately on an invariant
// violation.
func (e *Engine) Run() (Result, error) {
	if err := e.Indicators.Precompute(e.Feed); err != nil {
		return Result{}, fmt.Errorf("precompute indicators: %w", err)
	}

	startCtx := e.newContext()
	if err := e.callStrategyStart(startCtx); err != nil {
		return Result{}, err
	}

	// E_0 = initial_cash, recorded before any bar runs, per the engine
	// spec's equity series definition. Orders enqueued by on_start are
	// not executed until the first bar, so E_0 is the seed cash.
	e.Metrics.RecordEquity(e.seedTimestamp(), e.Config.Cash)

	for e.Feed.Advance() {
		barIndex := e.Feed.CurrentIndex()
		day := DayOf(e.Feed.CurrentTimestamp())
		e.Portfolio.RollDay(day)
		e.Indicators.SetCursor(barIndex)

		ctx := e.newContext()
		if err := e.callStrategyBar(ctx, barIndex); err != nil {
			return Result{}, err
		}

		fills, err := e.Execution.DrainAndExecute(barIndex, e.Feed.CurrentBars(), e.Portfolio, day)
		if err != nil {
			return Result{}, fmt.Errorf("bar %d: %w", barIndex, err)
		}
		for i := range fills {
			fills[i].Timestamp = e.Feed.CurrentTimestamp()
		}

		if err := e.Portfolio.CheckInvariants(); err != nil {
			return Result{}, fmt.Errorf("bar %d: %w", barIndex, err)
		}

		for _, f := range fills {
			e.Metrics.RecordFill(f)
			if err := e.callStrategyTrade(ctx, barIndex, f); err != nil {
				return Result{}, err
			}
		}

		e.Metrics.RecordEquity(e.Feed.CurrentTimestamp(), e.Portfolio.EquityAt(currentPrices(e.Feed.CurrentBars(), e.Config.effectiveMode())))
	}

	stopCtx := e.newContext()
	if err := e.callStrategyStop(stopCtx); err != nil {
		return Result{}, err
	}

	var benchmarkCurve []EquityPoint
	if bars := e.benchmarkBars(); len(bars) > 0 {
		benchmarkCurve = BuyAndHoldCurve(bars, e.Config.Cash)
	}

	return Result{
		Stats:          e.Metrics.Finalize(),
		EquityCurve:    e.Metrics.EquityCurve(),
		BenchmarkCurve: benchmarkCurve,
		Fills:          e.Metrics.Fills(),
		Warnings:       e.diag.Warnings(),
	}, nil
}

// benchmarkBars reconstructs a full-length bar series to use for the
// buy-and-hold comparison curve: the first symbol whose aligned series
// has no gaps across the whole timeline. Absent that, BenchmarkCurve is
// left empty: the run loop only requires the timeline itself, not a
// specific fully-populated instrument.
func (e *Engine) benchmarkBars() []Bar {
	for _, sym := range e.Feed.Symbols() {
		bars := e.Feed.GetBars(sym, e.Feed.Len())
		if len(bars) == e.Feed.Len() {
			return bars
		}
	}
	return nil
}

// seedTimestamp returns the timestamp to stamp E_0 with: one benchmark
// step before the first bar when the timeline is known, else the zero
// time.
func (e *Engine) seedTimestamp() time.Time {
	timeline := e.Feed.Timeline()
	if len(timeline) < 2 {
		return time.Time{}
	}
	step := timeline[1].Sub(timeline[0])
	return timeline[0].Add(-step)
}

func (e *Engine) newContext() *BarContext {
	return newBarContext(e.Feed, e.Indicators, e.Portfolio, e.Execution, e.scratch)
}

func (e *Engine) callStrategyStart(ctx *BarContext) (err error) {
	defer func() { err = recoverStrategyPanic(recover(), -1, "on_start") }()
	e.Strategy.callStart(ctx)
	return nil
}

func (e *Engine) callStrategyBar(ctx *BarContext, barIndex int) (err error) {
	defer func() { err = recoverStrategyPanic(recover(), barIndex, "on_bar") }()
	e.Strategy.callBar(ctx)
	return nil
}

func (e *Engine) callStrategyTrade(ctx *BarContext, barIndex int, fill Fill) (err error) {
	defer func() { err = recoverStrategyPanic(recover(), barIndex, "on_trade") }()
	e.Strategy.callTrade(ctx, fill)
	return nil
}

func (e *Engine) callStrategyStop(ctx *BarContext) (err error) {
	defer func() { err = recoverStrategyPanic(recover(), -1, "on_stop") }()
	e.Strategy.callStop(ctx)
	return nil
}

func recoverStrategyPanic(r interface{}, barIndex int, hook string) error {
	if r == nil {
		return nil
	}
	return &StrategyError{BarIndex: barIndex, Detail: hook + " panicked", Err: panicToErr(r)}
}
