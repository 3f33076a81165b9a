package backtest

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotSize is the atomic trading unit for A-share equities.
const LotSize = 100

// Symbol is an opaque instrument identifier.
type Symbol string

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// QtyType selects how an order's quantity value is interpreted.
type QtyType string

const (
	QtyTypeCount  QtyType = "count"
	QtyTypeCash   QtyType = "cash"
	QtyTypeWeight QtyType = "weight"
)

// ExecutionMode selects which bar field is used as the reference price.
type ExecutionMode string

const (
	ExecutionModeClose ExecutionMode = "close"
	ExecutionModeOpen  ExecutionMode = "open"
	ExecutionModeVWAP  ExecutionMode = "vwap"
)

// Bar is an immutable OHLCV snapshot over one benchmark interval.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal

	// Optional fields. Amount is read only by the vwap execution mode,
	// SuspendFlag marks the slot as not tradable, and PreClose is
	// carried but not read by the core.
	Amount      decimal.Decimal
	PreClose    decimal.Decimal
	SuspendFlag bool
}

// VWAP returns amount/volume, or the close price if volume is zero.
func (b Bar) VWAP() decimal.Decimal {
	if b.Volume.IsZero() {
		return b.Close
	}
	return b.Amount.Div(b.Volume)
}

// ReferencePrice returns the bar's price field for the given execution mode.
func (b Bar) ReferencePrice(mode ExecutionMode) decimal.Decimal {
	switch mode {
	case ExecutionModeOpen:
		return b.Open
	case ExecutionModeVWAP:
		return b.VWAP()
	default:
		return b.Close
	}
}

// AlignedBar is a bar slot in an AlignedSeries: present or absent.
type AlignedBar struct {
	Bar     Bar
	Present bool
}

// BenchmarkTimeline is the ordered, strictly increasing sequence of
// timestamps every symbol is aligned against and that the main loop
// iterates over.
type BenchmarkTimeline []time.Time

// DayOf truncates a timestamp to its settlement-day key.
func DayOf(ts time.Time) string {
	return ts.Format("2006-01-02")
}

// Position is a symbol's holdings in the portfolio ledger.
type Position struct {
	Symbol          Symbol
	QuantityShares  int64
	AvailableShares int64
	AvgCost         decimal.Decimal
}

// MarketValue returns quantity * price.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(p.QuantityShares).Mul(price)
}

// settlementEntry is one same-day purchase pending availability.
type settlementEntry struct {
	tradeDay string
	shares   int64
}

// SettlementBucket is a per-symbol FIFO of recent same-day purchases.
// T+0 symbols still record entries (for audit) but never lock shares.
type SettlementBucket struct {
	entries []settlementEntry
}

// Locked returns the total shares still pending availability.
func (b *SettlementBucket) Locked() int64 {
	var total int64
	for _, e := range b.entries {
		total += e.shares
	}
	return total
}

// add records a same-day purchase.
func (b *SettlementBucket) add(tradeDay string, shares int64) {
	b.entries = append(b.entries, settlementEntry{tradeDay: tradeDay, shares: shares})
}

// roll ages out entries whose trade day is strictly before newDay,
// returning the total shares released to availability.
func (b *SettlementBucket) roll(newDay string) int64 {
	var released int64
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.tradeDay < newDay {
			released += e.shares
			continue
		}
		kept = append(kept, e)
	}
	b.entries = kept
	return released
}

// Order is a queued instruction from the strategy, not yet executed.
type Order struct {
	Symbol     Symbol
	Side       Side
	QtyType    QtyType
	QtyValue   decimal.Decimal
	EnqueueSeq int
}

// Fill is an executed trade leg.
type Fill struct {
	ID           string
	Symbol       Symbol
	Side         Side
	Shares       int64
	Price        decimal.Decimal
	GrossAmount  decimal.Decimal
	Commission   decimal.Decimal
	StampTax     decimal.Decimal
	NetCashDelta decimal.Decimal
	Timestamp    time.Time
}

// FloorToLot rounds x down to the nearest multiple of LotSize. Negative
// x returns 0; callers pass absolute values.
func FloorToLot(x decimal.Decimal) int64 {
	if x.Sign() <= 0 {
		return 0
	}
	lots := x.Div(decimal.NewFromInt(LotSize)).Floor()
	return lots.IntPart() * LotSize
}
