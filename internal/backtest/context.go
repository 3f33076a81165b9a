package backtest

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PositionView is the read-only per-symbol snapshot a strategy sees
// through BarContext.
type PositionView struct {
	Symbol      Symbol
	Quantity    int64
	Available   int64
	AvgCost     decimal.Decimal
	MarketValue decimal.Decimal
	Weight      decimal.Decimal
}

// BarContext is the sole surface exposed to user strategy code. It is
// refreshed each bar by the main loop and must not be retained by a
// callback past its own return — it is a view over the engine's
// components, not an owner of them.
type BarContext struct {
	Timestamp time.Time

	feed       *DataFeed
	indicators *IndicatorEngine
	portfolio  *PortfolioState
	order      *OrderHelper

	scratch map[string]interface{}
}

func newBarContext(feed *DataFeed, indicators *IndicatorEngine, portfolio *PortfolioState, exec *ExecutionEngine, scratch map[string]interface{}) *BarContext {
	return &BarContext{
		Timestamp:  feed.CurrentTimestamp(),
		feed:       feed,
		indicators: indicators,
		portfolio:  portfolio,
		order:      &OrderHelper{feed: feed, portfolio: portfolio, exec: exec},
		scratch:    scratch,
	}
}

// Symbols returns every symbol registered with the data feed, in
// deterministic order.
func (c *BarContext) Symbols() []Symbol {
	return c.feed.Symbols()
}

// Cash returns the current cash balance.
func (c *BarContext) Cash() decimal.Decimal {
	return c.portfolio.Cash()
}

// Equity returns cash + mark-to-market value of every position, using
// this bar's current prices (absent symbols fall back to avg cost).
func (c *BarContext) Equity() decimal.Decimal {
	return c.portfolio.EquityAt(c.currentPrices())
}

func (c *BarContext) currentPrices() map[Symbol]decimal.Decimal {
	bars := c.feed.CurrentBars()
	out := make(map[Symbol]decimal.Decimal, len(bars))
	for s, b := range bars {
		out[s] = b.Close
	}
	return out
}

// Positions returns a read-only view of every held position with its
// current market value and weight of equity.
func (c *BarContext) Positions() []PositionView {
	equity := c.Equity()
	prices := c.currentPrices()
	var out []PositionView
	for _, pos := range c.portfolio.Positions() {
		price, ok := prices[pos.Symbol]
		if !ok {
			price = pos.AvgCost
		}
		mv := pos.MarketValue(price)
		weight := decimal.Zero
		if equity.IsPositive() {
			weight = mv.Div(equity)
		}
		out = append(out, PositionView{
			Symbol:      pos.Symbol,
			Quantity:    pos.QuantityShares,
			Available:   pos.AvailableShares,
			AvgCost:     pos.AvgCost,
			MarketValue: mv,
			Weight:      weight,
		})
	}
	return out
}

// IsTradable reports whether symbol has a present, non-suspended bar
// this step.
func (c *BarContext) IsTradable(symbol Symbol) bool {
	return c.feed.IsTradable(symbol)
}

// Bars returns up to count most recent historical bars for symbol,
// oldest first, current bar last.
func (c *BarContext) Bars(symbol Symbol, count int) []Bar {
	return c.feed.GetBars(symbol, count)
}

// Indicator returns the scalar value of a registered indicator at the
// current cursor.
func (c *BarContext) Indicator(name string, symbol Symbol) (float64, bool) {
	return c.indicators.Value(name, symbol)
}

// IndicatorSeries returns up to count historical values of a
// registered indicator, oldest first, ending at the current cursor.
func (c *BarContext) IndicatorSeries(name string, symbol Symbol, count int) ([]float64, []bool) {
	return c.indicators.Values(name, symbol, count)
}

// Scratch is a key-value map persisted across bars for strategy state.
func (c *BarContext) Scratch() map[string]interface{} {
	return c.scratch
}

// Order exposes the OrderHelper for this bar.
func (c *BarContext) Order() *OrderHelper {
	return c.order
}

// OrderHelper is a stateless wrapper around the ExecutionEngine's order
// queue. Orders enqueued here are not executed until after the
// strategy callback returns.
type OrderHelper struct {
	feed      *DataFeed
	portfolio *PortfolioState
	exec      *ExecutionEngine
}

// Buy enqueues a buy order.
func (h *OrderHelper) Buy(symbol Symbol, quantity decimal.Decimal, qtyType QtyType) {
	h.exec.Enqueue(symbol, SideBuy, qtyType, quantity)
}

// Sell enqueues a sell order.
func (h *OrderHelper) Sell(symbol Symbol, quantity decimal.Decimal, qtyType QtyType) {
	h.exec.Enqueue(symbol, SideSell, qtyType, quantity)
}

// Target expands a map of symbol->target-weight into one order per
// symbol: buy if the target exceeds current weight, sell if below,
// skip within one lot's worth of tolerance. This is the "sell means
// target weight" resolution of the engine's weight-mode-on-sell open
// question.
func (h *OrderHelper) Target(weights map[Symbol]decimal.Decimal) {
	bars := h.feed.CurrentBars()
	prices := make(map[Symbol]decimal.Decimal, len(bars))
	for s, b := range bars {
		prices[s] = b.Close
	}
	equity := h.portfolio.EquityAt(prices)
	if !equity.IsPositive() {
		return
	}

	symbols := make([]Symbol, 0, len(weights))
	for symbol := range weights {
		symbols = append(symbols, symbol)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i] < symbols[j] })

	for _, symbol := range symbols {
		target := weights[symbol]
		price, ok := prices[symbol]
		if !ok || price.Sign() <= 0 {
			continue
		}
		pos := h.portfolio.Position(symbol)
		curWeight := pos.MarketValue(price).Div(equity)

		tolerance := decimal.NewFromInt(LotSize).Mul(price).Div(equity)
		diff := target.Sub(curWeight)
		if diff.Abs().LessThanOrEqual(tolerance) {
			continue
		}
		if diff.IsPositive() {
			h.exec.Enqueue(symbol, SideBuy, QtyTypeWeight, target)
		} else {
			h.exec.Enqueue(symbol, SideSell, QtyTypeWeight, target)
		}
	}
}
