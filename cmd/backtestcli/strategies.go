package main

import (
	"fmt"

	"github.com/ashare-quant/backtest/internal/backtest"
	"github.com/shopspring/decimal"
)

// buildStrategy resolves a RunSpec's named strategy against the
// built-in registry. Custom, importable strategies are expected to
// construct a backtest.Strategy directly when the library is used
// programmatically; the CLI only ships the two reference strategies
// below.
func buildStrategy(spec *RunSpec) (backtest.Strategy, error) {
	switch spec.Strategy {
	case "buyhold":
		return buyHoldStrategy(spec), nil
	case "smacross":
		return smaCrossStrategy(spec), nil
	default:
		return backtest.Strategy{}, fmt.Errorf("unknown strategy %q", spec.Strategy)
	}
}

// buyHoldStrategy puts every dollar of equity into an equal-weight
// basket of the run's symbols on the first bar and never trades again.
func buyHoldStrategy(spec *RunSpec) backtest.Strategy {
	invested := false

	return backtest.Strategy{
		OnBar: func(ctx *backtest.BarContext) {
			if invested {
				return
			}
			invested = true
			symbols := ctx.Symbols()
			if len(symbols) == 0 {
				return
			}
			weight := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(symbols))))
			weights := make(map[backtest.Symbol]decimal.Decimal, len(symbols))
			for _, s := range symbols {
				weights[s] = weight
			}
			ctx.Order().Target(weights)
		},
	}
}

// smaCrossStrategy goes long a symbol when its fast SMA crosses above
// its slow SMA, and flat when it crosses back below. It expects
// indicators named "fast" and "slow" to be registered in the run spec.
func smaCrossStrategy(spec *RunSpec) backtest.Strategy {
	inPosition := make(map[backtest.Symbol]bool)

	return backtest.Strategy{
		OnBar: func(ctx *backtest.BarContext) {
			symbols := ctx.Symbols()
			n := len(symbols)
			if n == 0 {
				return
			}
			targetWeight := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(n)))

			for _, sym := range symbols {
				if !ctx.IsTradable(sym) {
					continue
				}
				fast, fastOK := ctx.Indicator("fast", sym)
				slow, slowOK := ctx.Indicator("slow", sym)
				if !fastOK || !slowOK {
					continue
				}

				above := fast > slow
				if above && !inPosition[sym] {
					ctx.Order().Target(map[backtest.Symbol]decimal.Decimal{sym: targetWeight})
					inPosition[sym] = true
				} else if !above && inPosition[sym] {
					ctx.Order().Target(map[backtest.Symbol]decimal.Decimal{sym: decimal.Zero})
					inPosition[sym] = false
				}
			}
		},
	}
}
