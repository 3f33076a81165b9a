package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ashare-quant/backtest/internal/backtest"
)

// runOutput is the JSON-serializable projection of a backtest.Result:
// decimals become locale-free fixed-point strings, rounded to two places
// for money and four for prices.
type runOutput struct {
	Stats struct {
		TotalReturn      float64 `json:"total_return"`
		AnnualizedReturn float64 `json:"annualized_return,omitempty"`
		Annualized       bool    `json:"annualization_available"`
		MaxDrawdown      float64 `json:"max_drawdown"`
		Sharpe           float64 `json:"sharpe"`
		WinRate          float64 `json:"win_rate"`
		ProfitLossRatio  float64 `json:"profit_loss_ratio"`
		ClosedTrades     int     `json:"closed_trades"`
	} `json:"stats"`
	EquityCurve    []pointOutput  `json:"equity_curve"`
	BenchmarkCurve []pointOutput  `json:"benchmark_curve,omitempty"`
	Fills          []fillOutput   `json:"fills"`
	Warnings       []string       `json:"warnings,omitempty"`
}

type pointOutput struct {
	Timestamp string `json:"timestamp"`
	Equity    string `json:"equity"`
}

type fillOutput struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Shares      int64  `json:"shares"`
	Price       string `json:"price"`
	GrossAmount string `json:"gross_amount"`
	Commission  string `json:"commission"`
	StampTax    string `json:"stamp_tax"`
}

func toRunOutput(r backtest.Result) runOutput {
	var out runOutput
	out.Stats.TotalReturn = r.Stats.TotalReturn
	out.Stats.AnnualizedReturn = r.Stats.AnnualizedReturn
	out.Stats.Annualized = r.Stats.AnnualizationAvailable
	out.Stats.MaxDrawdown = r.Stats.MaxDrawdown
	out.Stats.Sharpe = r.Stats.Sharpe
	out.Stats.WinRate = r.Stats.WinRate
	out.Stats.ProfitLossRatio = r.Stats.ProfitLossRatio
	out.Stats.ClosedTrades = r.Stats.ClosedTrades

	for _, p := range r.EquityCurve {
		out.EquityCurve = append(out.EquityCurve, pointOutput{
			Timestamp: p.Timestamp.Format(dateLayout),
			Equity:    p.Equity.StringFixed(2),
		})
	}
	for _, p := range r.BenchmarkCurve {
		out.BenchmarkCurve = append(out.BenchmarkCurve, pointOutput{
			Timestamp: p.Timestamp.Format(dateLayout),
			Equity:    p.Equity.StringFixed(2),
		})
	}
	for _, f := range r.Fills {
		out.Fills = append(out.Fills, fillOutput{
			ID:          f.ID,
			Timestamp:   f.Timestamp.Format(dateLayout),
			Symbol:      string(f.Symbol),
			Side:        string(f.Side),
			Shares:      f.Shares,
			Price:       f.Price.StringFixed(4),
			GrossAmount: f.GrossAmount.StringFixed(2),
			Commission:  f.Commission.StringFixed(2),
			StampTax:    f.StampTax.StringFixed(2),
		})
	}
	for _, w := range r.Warnings {
		out.Warnings = append(out.Warnings, w.String())
	}
	return out
}

func writeResult(result backtest.Result, outFile string) error {
	data, err := json.MarshalIndent(toRunOutput(result), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if outFile == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(outFile, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outFile, err)
	}
	log.WithField("path", outFile).Info("wrote backtest result")
	return nil
}
