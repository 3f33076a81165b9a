package backtest

import (
	"sort"

	"github.com/ashare-quant/backtest/internal/diagnostics"
	"github.com/shopspring/decimal"
)

const bps = 10000

// ExecutionEngine consumes the per-bar order queue (populated by
// OrderHelper during the strategy callback), converts quantity types
// to lot counts, prices fills with slippage, charges fees, and commits
// mutations to PortfolioState.
type ExecutionEngine struct {
	diag   *diagnostics.Sink
	config Config

	queue []Order
	seq   int
}

// NewExecutionEngine constructs an engine bound to its config and
// diagnostics sink.
func NewExecutionEngine(cfg Config, diag *diagnostics.Sink) *ExecutionEngine {
	if diag == nil {
		diag = diagnostics.New(nil)
	}
	return &ExecutionEngine{diag: diag, config: cfg}
}

// Enqueue appends an order to the current bar's queue, stamping it
// with the next monotonic intra-bar sequence number. Called only by
// OrderHelper.
func (e *ExecutionEngine) Enqueue(symbol Symbol, side Side, qtyType QtyType, qtyValue decimal.Decimal) {
	e.queue = append(e.queue, Order{
		Symbol:     symbol,
		Side:       side,
		QtyType:    qtyType,
		QtyValue:   qtyValue,
		EnqueueSeq: e.seq,
	})
	e.seq++
}

// DrainAndExecute stable-sorts the queue into sells-then-buys
// (preserving enqueue order within each group), converts each order to
// a lot count, prices and fees it, runs pre-trade checks, and commits
// it to the portfolio. Returns every resulting Fill in commit order.
func (e *ExecutionEngine) DrainAndExecute(barIndex int, bars map[Symbol]Bar, portfolio *PortfolioState, tradeDay string) ([]Fill, error) {
	orders := e.queue
	e.queue = nil

	sort.SliceStable(orders, func(i, j int) bool {
		gi, gj := groupOf(orders[i].Side), groupOf(orders[j].Side)
		if gi != gj {
			return gi < gj
		}
		return orders[i].EnqueueSeq < orders[j].EnqueueSeq
	})

	var fills []Fill
	for _, ord := range orders {
		fill, executed, err := e.executeOne(barIndex, ord, bars, portfolio, tradeDay)
		if err != nil {
			return fills, err
		}
		if executed {
			fills = append(fills, fill)
		}
	}
	return fills, nil
}

func groupOf(s Side) int {
	if s == SideSell {
		return 0
	}
	return 1
}

func (e *ExecutionEngine) executeOne(barIndex int, ord Order, bars map[Symbol]Bar, portfolio *PortfolioState, tradeDay string) (Fill, bool, error) {
	bar, tradable := bars[ord.Symbol]
	if !tradable {
		e.diag.Warn(diagnostics.KindOrderWarning, "execution", barIndex, string(ord.Symbol), "symbol not tradable this bar, order dropped")
		return Fill{}, false, nil
	}

	pRef := bar.ReferencePrice(e.config.effectiveMode())
	if pRef.Sign() <= 0 {
		e.diag.Warn(diagnostics.KindOrderWarning, "execution", barIndex, string(ord.Symbol), "non-positive reference price, order dropped")
		return Fill{}, false, nil
	}

	shares := e.convertQty(ord, pRef, portfolio, bars)
	if shares <= 0 {
		e.diag.Warn(diagnostics.KindOrderWarning, "execution", barIndex, string(ord.Symbol), "order rounds to zero lots, dropped")
		return Fill{}, false, nil
	}

	if ord.Side == SideSell {
		return e.executeSell(barIndex, ord.Symbol, shares, pRef, portfolio)
	}
	return e.executeBuy(barIndex, ord.Symbol, shares, pRef, portfolio, tradeDay)
}

// convertQty implements the pure (tag, qty_value, reference_price,
// equity, current_market_value) -> lots conversion from the engine
// spec's "Quantity-type variant" design note.
func (e *ExecutionEngine) convertQty(ord Order, pRef decimal.Decimal, portfolio *PortfolioState, bars map[Symbol]Bar) int64 {
	switch ord.QtyType {
	case QtyTypeCount:
		return FloorToLot(ord.QtyValue)
	case QtyTypeCash:
		return FloorToLot(ord.QtyValue.Div(pRef))
	case QtyTypeWeight:
		return e.convertWeight(ord, pRef, portfolio, bars)
	default:
		return 0
	}
}

func (e *ExecutionEngine) convertWeight(ord Order, pRef decimal.Decimal, portfolio *PortfolioState, bars map[Symbol]Bar) int64 {
	equity := portfolio.EquityAt(currentPrices(bars, e.config.effectiveMode()))
	pos := portfolio.Position(ord.Symbol)
	marketValue := pos.MarketValue(pRef)

	desired := ord.QtyValue.Mul(equity)
	delta := desired.Sub(marketValue)
	if pRef.Sign() <= 0 {
		return 0
	}
	return FloorToLot(delta.Abs().Div(pRef))
}

func currentPrices(bars map[Symbol]Bar, mode ExecutionMode) map[Symbol]decimal.Decimal {
	out := make(map[Symbol]decimal.Decimal, len(bars))
	for s, b := range bars {
		out[s] = b.ReferencePrice(mode)
	}
	return out
}

func (e *ExecutionEngine) fillPrice(side Side, pRef decimal.Decimal) decimal.Decimal {
	adj := e.config.SlippageBps.Div(decimal.NewFromInt(bps))
	if side == SideBuy {
		return pRef.Mul(decimal.NewFromInt(1).Add(adj))
	}
	return pRef.Mul(decimal.NewFromInt(1).Sub(adj))
}

func (e *ExecutionEngine) commission(gross decimal.Decimal) decimal.Decimal {
	c := gross.Mul(e.config.CommissionRate)
	if c.LessThan(e.config.MinCommission) {
		return e.config.MinCommission
	}
	return c
}

func (e *ExecutionEngine) executeBuy(barIndex int, symbol Symbol, shares int64, pRef decimal.Decimal, portfolio *PortfolioState, tradeDay string) (Fill, bool, error) {
	price := e.fillPrice(SideBuy, pRef)

	for shares > 0 {
		gross := decimal.NewFromInt(shares).Mul(price)
		commission := e.commission(gross)
		required := gross.Add(commission)
		if required.LessThanOrEqual(portfolio.Cash()) {
			break
		}
		shares -= LotSize
	}
	if shares <= 0 {
		e.diag.Warn(diagnostics.KindOrderWarning, "execution", barIndex, string(symbol), "insufficient cash, order dropped")
		return Fill{}, false, nil
	}

	gross := decimal.NewFromInt(shares).Mul(price)
	commission := e.commission(gross)
	fill, err := portfolio.ApplyBuy(symbol, shares, price, commission, gross, tradeDay, barIndex)
	if err != nil {
		return Fill{}, false, err
	}
	return fill, true, nil
}

func (e *ExecutionEngine) executeSell(barIndex int, symbol Symbol, shares int64, pRef decimal.Decimal, portfolio *PortfolioState) (Fill, bool, error) {
	pos := portfolio.Position(symbol)
	if shares > pos.AvailableShares {
		e.diag.Warn(diagnostics.KindOrderWarning, "execution", barIndex, string(symbol), "sell exceeds available shares, clamped from %d to %d", shares, pos.AvailableShares)
		shares = pos.AvailableShares
	}
	if shares <= 0 {
		e.diag.Warn(diagnostics.KindOrderWarning, "execution", barIndex, string(symbol), "no available shares to sell, order dropped")
		return Fill{}, false, nil
	}

	price := e.fillPrice(SideSell, pRef)
	gross := decimal.NewFromInt(shares).Mul(price)
	commission := e.commission(gross)
	stampTax := gross.Mul(e.config.StampTaxRate)

	fill, err := portfolio.ApplySell(symbol, shares, price, commission, stampTax, gross, barIndex)
	if err != nil {
		return Fill{}, false, err
	}
	return fill, true, nil
}
