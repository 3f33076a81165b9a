package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ashare-quant/backtest/internal/backtest"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// RunSpec is the on-disk description of one backtest run: the dataset
// to load, the account rules, and which built-in indicators and
// strategy to wire up. cmd/backtestcli is the only place that parses
// this format; the engine itself never sees YAML.
type RunSpec struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`

	Benchmark string            `yaml:"benchmark"`
	Symbols   map[string]string `yaml:"symbols"` // symbol -> csv path

	Cash           float64  `yaml:"cash"`
	CommissionRate float64  `yaml:"commission_rate"`
	MinCommission  float64  `yaml:"min_commission"`
	StampTaxRate   float64  `yaml:"stamp_tax_rate"`
	SlippageBps    float64  `yaml:"slippage_bps"`
	ExecutionMode  string   `yaml:"execution_mode"`
	T0Symbols      []string `yaml:"t0_symbols"`

	Strategy   string                 `yaml:"strategy"`
	Indicators []IndicatorSpec        `yaml:"indicators"`
	Params     map[string]interface{} `yaml:"params"`
}

// IndicatorSpec declares one built-in indicator to register with the
// engine's IndicatorEngine before the run starts.
type IndicatorSpec struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Field  string `yaml:"field"`
	Period int    `yaml:"period"`
	Fast   int    `yaml:"fast"`
	Slow   int    `yaml:"slow"`
	Signal int    `yaml:"signal"`
	K      float64 `yaml:"k"`
}

func loadRunSpec(path string) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run spec: %w", err)
	}
	var spec RunSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse run spec: %w", err)
	}
	return &spec, nil
}

const dateLayout = "2006-01-02"

func (s *RunSpec) toConfig() (backtest.Config, error) {
	cfg := backtest.DefaultConfig()

	if s.Start != "" {
		t, err := time.Parse(dateLayout, s.Start)
		if err != nil {
			return cfg, fmt.Errorf("start: %w", err)
		}
		cfg.Start = t
	}
	if s.End != "" {
		t, err := time.Parse(dateLayout, s.End)
		if err != nil {
			return cfg, fmt.Errorf("end: %w", err)
		}
		cfg.End = t
	}
	if s.Cash > 0 {
		cfg.Cash = decimal.NewFromFloat(s.Cash)
	}
	if s.CommissionRate > 0 {
		cfg.CommissionRate = decimal.NewFromFloat(s.CommissionRate)
	}
	if s.MinCommission > 0 {
		cfg.MinCommission = decimal.NewFromFloat(s.MinCommission)
	}
	if s.StampTaxRate > 0 {
		cfg.StampTaxRate = decimal.NewFromFloat(s.StampTaxRate)
	}
	if s.SlippageBps > 0 {
		cfg.SlippageBps = decimal.NewFromFloat(s.SlippageBps)
	}
	if s.ExecutionMode != "" {
		cfg.ExecutionMode = backtest.ExecutionMode(s.ExecutionMode)
	}
	cfg.T0Symbols = make(map[backtest.Symbol]bool, len(s.T0Symbols))
	for _, sym := range s.T0Symbols {
		cfg.T0Symbols[backtest.Symbol(sym)] = true
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (i IndicatorSpec) toDef() backtest.IndicatorDef {
	return backtest.IndicatorDef{
		Name:   i.Name,
		Kind:   backtest.BuiltinKind(i.Kind),
		Field:  fieldOrDefault(i.Field),
		Period: i.Period,
		Fast:   i.Fast,
		Slow:   i.Slow,
		Signal: i.Signal,
		K:      i.K,
	}
}

func fieldOrDefault(f string) backtest.Field {
	if f == "" {
		return backtest.FieldClose
	}
	return backtest.Field(f)
}
