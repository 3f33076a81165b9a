package backtest

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PortfolioState is the authoritative, mutable account ledger: cash,
// positions, settlement buckets, and the fill log. It is mutated only
// by ExecutionEngine and by the main loop's day-roll call.
type PortfolioState struct {
	config Config

	cash      decimal.Decimal
	positions map[Symbol]*Position
	buckets   map[Symbol]*SettlementBucket
	symbols   []Symbol // deterministic iteration order

	fills []Fill

	lastDay string
}

// NewPortfolioState starts a ledger with the configured initial cash.
func NewPortfolioState(cfg Config) *PortfolioState {
	return &PortfolioState{
		config:    cfg,
		cash:      cfg.Cash,
		positions: make(map[Symbol]*Position),
		buckets:   make(map[Symbol]*SettlementBucket),
	}
}

// Cash returns the current cash balance.
func (p *PortfolioState) Cash() decimal.Decimal {
	return p.cash
}

// Position returns a copy of the named symbol's position, zero-valued
// if never traded.
func (p *PortfolioState) Position(symbol Symbol) Position {
	if pos, ok := p.positions[symbol]; ok {
		return *pos
	}
	return Position{Symbol: symbol, AvgCost: decimal.Zero}
}

// Positions returns a copy of every held position, in deterministic
// symbol order.
func (p *PortfolioState) Positions() []Position {
	out := make([]Position, 0, len(p.symbols))
	for _, s := range p.symbols {
		out = append(out, *p.positions[s])
	}
	return out
}

// EquityAt returns cash + sum(quantity * price) using the supplied
// current prices; a held symbol without a current price (for example
// one whose bar is absent this step) is valued at its avg cost.
func (p *PortfolioState) EquityAt(prices map[Symbol]decimal.Decimal) decimal.Decimal {
	total := p.cash
	for _, s := range p.symbols {
		pos := p.positions[s]
		if pos.QuantityShares == 0 {
			continue
		}
		price, ok := prices[s]
		if !ok {
			price = pos.AvgCost
		}
		total = total.Add(pos.MarketValue(price))
	}
	return total
}

func (p *PortfolioState) ensurePosition(symbol Symbol) *Position {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol, AvgCost: decimal.Zero}
		p.positions[symbol] = pos
		p.symbols = append(p.symbols, symbol)
		sort.Slice(p.symbols, func(i, j int) bool { return p.symbols[i] < p.symbols[j] })
	}
	return pos
}

func (p *PortfolioState) bucketFor(symbol Symbol) *SettlementBucket {
	b, ok := p.buckets[symbol]
	if !ok {
		b = &SettlementBucket{}
		p.buckets[symbol] = b
	}
	return b
}

// ApplyBuy commits a buy fill: debits cash, amortizes commission into
// the cost basis, locks shares into the settlement bucket unless the
// symbol is T+0, and appends the fill. Returns an InvariantError if
// cash would go negative.
func (p *PortfolioState) ApplyBuy(symbol Symbol, shares int64, fillPrice, commission, gross decimal.Decimal, tradeDay string, barIndex int) (Fill, error) {
	totalDebit := gross.Add(commission)
	newCash := p.cash.Sub(totalDebit)
	if newCash.IsNegative() {
		return Fill{}, &InvariantError{Component: "portfolio", BarIndex: barIndex, Symbol: symbol, Detail: "buy would drive cash negative"}
	}
	p.cash = newCash

	pos := p.ensurePosition(symbol)
	oldQty := pos.QuantityShares
	newQty := oldQty + shares
	numerator := decimal.NewFromInt(oldQty).Mul(pos.AvgCost).Add(gross).Add(commission)
	pos.AvgCost = numerator.Div(decimal.NewFromInt(newQty))
	pos.QuantityShares = newQty

	if p.config.IsT0(symbol) {
		pos.AvailableShares += shares
	}
	p.bucketFor(symbol).add(tradeDay, shares)

	fill := Fill{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Side:         SideBuy,
		Shares:       shares,
		Price:        fillPrice,
		GrossAmount:  gross,
		Commission:   commission,
		StampTax:     decimal.Zero,
		NetCashDelta: totalDebit.Neg(),
	}
	p.fills = append(p.fills, fill)
	return fill, nil
}

// ApplySell commits a sell fill: requires shares <= available_shares,
// credits net proceeds to cash, reduces the position (resetting
// avg_cost to zero if the position is closed), and appends the fill.
func (p *PortfolioState) ApplySell(symbol Symbol, shares int64, fillPrice, commission, stampTax, gross decimal.Decimal, barIndex int) (Fill, error) {
	pos, ok := p.positions[symbol]
	if !ok || shares > pos.AvailableShares {
		return Fill{}, &InvariantError{Component: "portfolio", BarIndex: barIndex, Symbol: symbol, Detail: "sell exceeds available shares"}
	}

	net := gross.Sub(commission).Sub(stampTax)
	p.cash = p.cash.Add(net)

	pos.QuantityShares -= shares
	pos.AvailableShares -= shares
	if pos.QuantityShares == 0 {
		pos.AvgCost = decimal.Zero
	}

	fill := Fill{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Side:         SideSell,
		Shares:       shares,
		Price:        fillPrice,
		GrossAmount:  gross,
		Commission:   commission,
		StampTax:     stampTax,
		NetCashDelta: net,
	}
	p.fills = append(p.fills, fill)
	return fill, nil
}

// RollDay ages every symbol's settlement bucket: entries whose trade
// day is strictly before newDay move from locked to available. A no-op
// for T+0 symbols, which were never locked in the first place.
func (p *PortfolioState) RollDay(newDay string) {
	if newDay == p.lastDay {
		return
	}
	for _, s := range p.symbols {
		if p.config.IsT0(s) {
			continue
		}
		released := p.bucketFor(s).roll(newDay)
		if released > 0 {
			p.positions[s].AvailableShares += released
		}
	}
	p.lastDay = newDay
}

// Fills returns every fill committed so far, in commit order.
func (p *PortfolioState) Fills() []Fill {
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

// CheckInvariants validates the ledger-wide invariants from the engine
// spec's data model section. Intended for tests and optional
// end-of-bar assertions; returns the first violation found.
func (p *PortfolioState) CheckInvariants() error {
	if p.cash.IsNegative() {
		return &InvariantError{Component: "portfolio", Detail: "cash is negative"}
	}
	for _, s := range p.symbols {
		pos := p.positions[s]
		if pos.QuantityShares < 0 {
			return &InvariantError{Component: "portfolio", Symbol: s, Detail: "quantity_shares is negative"}
		}
		if pos.QuantityShares%LotSize != 0 {
			return &InvariantError{Component: "portfolio", Symbol: s, Detail: "quantity_shares is not lot-aligned"}
		}
		if pos.AvailableShares < 0 || pos.AvailableShares > pos.QuantityShares {
			return &InvariantError{Component: "portfolio", Symbol: s, Detail: "available_shares out of range"}
		}
		if pos.AvgCost.IsNegative() {
			return &InvariantError{Component: "portfolio", Symbol: s, Detail: "avg_cost is negative"}
		}
		if pos.QuantityShares == 0 && !pos.AvgCost.IsZero() {
			return &InvariantError{Component: "portfolio", Symbol: s, Detail: "avg_cost must be zero when flat"}
		}
		locked := p.bucketFor(s).Locked()
		if !p.config.IsT0(s) && locked != pos.QuantityShares-pos.AvailableShares {
			return &InvariantError{Component: "portfolio", Symbol: s, Detail: "settlement bucket does not match locked shares"}
		}
	}
	return nil
}
