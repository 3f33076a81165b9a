package backtest

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the recognized run options from the engine spec. It is
// constructed directly by library callers; cmd/backtestcli is the only
// place that knows about viper/cobra and translates flags/files into
// this struct.
type Config struct {
	// Start and End are optional; Validate rejects a Start after End.
	// They are not applied to the timeline: a run covers every bar
	// passed to DataFeed.SetBenchmark.
	Start, End time.Time

	Cash            decimal.Decimal
	CommissionRate  decimal.Decimal
	MinCommission   decimal.Decimal
	StampTaxRate    decimal.Decimal
	SlippageBps     decimal.Decimal
	ExecutionMode   ExecutionMode
	T0Symbols       map[Symbol]bool
}

// DefaultConfig returns the option defaults from the engine spec.
func DefaultConfig() Config {
	return Config{
		Cash:           decimal.NewFromFloat(1e5),
		CommissionRate: decimal.NewFromFloat(5e-4),
		MinCommission:  decimal.NewFromFloat(5.0),
		StampTaxRate:   decimal.NewFromFloat(1e-3),
		SlippageBps:    decimal.Zero,
		ExecutionMode:  ExecutionModeClose,
		T0Symbols:      map[Symbol]bool{},
	}
}

// Validate checks the configuration errors the spec calls fatal:
// non-positive cash, negative rates, and an unrecognized execution
// mode.
func (c Config) Validate() error {
	switch c.ExecutionMode {
	case ExecutionModeClose, ExecutionModeOpen, ExecutionModeVWAP:
	case "":
		// empty is treated as close (see effectiveMode)
	default:
		return &ConfigError{Field: "execution_mode", Detail: string(c.ExecutionMode) + " is not one of close, open, vwap"}
	}
	if !c.Cash.IsPositive() {
		return &ConfigError{Field: "cash", Detail: "must be positive"}
	}
	if c.CommissionRate.IsNegative() {
		return &ConfigError{Field: "commission_rate", Detail: "must be non-negative"}
	}
	if c.MinCommission.IsNegative() {
		return &ConfigError{Field: "min_commission", Detail: "must be non-negative"}
	}
	if c.StampTaxRate.IsNegative() {
		return &ConfigError{Field: "stamp_tax_rate", Detail: "must be non-negative"}
	}
	if c.SlippageBps.IsNegative() {
		return &ConfigError{Field: "slippage_bps", Detail: "must be non-negative"}
	}
	if !c.Start.IsZero() && !c.End.IsZero() && c.Start.After(c.End) {
		return &ConfigError{Field: "start/end", Detail: "start must not be after end"}
	}
	return nil
}

// IsT0 reports whether symbol settles T+0. Unlisted symbols are T+1.
func (c Config) IsT0(s Symbol) bool {
	return c.T0Symbols[s]
}

func (c Config) effectiveMode() ExecutionMode {
	if c.ExecutionMode == "" {
		return ExecutionModeClose
	}
	return c.ExecutionMode
}
