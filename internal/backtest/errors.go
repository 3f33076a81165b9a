package backtest

import "fmt"

// ConfigError is returned when a Config fails validation, or when the
// benchmark or an indicator registration is invalid, before the main
// loop ever starts.
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Detail)
}

// InvariantError marks a ledger invariant violation detected mid-run.
// These indicate an engine bug, not bad input, and abort the backtest.
type InvariantError struct {
	Component string
	BarIndex  int
	Symbol    Symbol
	Detail    string
}

func (e *InvariantError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("invariant violation in %s at bar %d: %s", e.Component, e.BarIndex, e.Detail)
	}
	return fmt.Sprintf("invariant violation in %s at bar %d (%s): %s", e.Component, e.BarIndex, e.Symbol, e.Detail)
}

// StrategyError wraps a panic recovered from user strategy or indicator
// code with the bar index at which it occurred.
type StrategyError struct {
	BarIndex int
	Detail   string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("bar %d: %s: %v", e.BarIndex, e.Detail, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }
