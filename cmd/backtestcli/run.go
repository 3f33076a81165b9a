package main

import (
	"fmt"

	"github.com/ashare-quant/backtest/internal/backtest"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a backtest from a run spec and write the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadRunSpec(resolveConfigPath())
			if err != nil {
				return err
			}
			result, err := runBacktest(spec)
			if err != nil {
				return err
			}
			return writeResult(result, outFile)
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "write the full result as JSON to this file (stdout if empty)")
	return cmd
}

func runBacktest(spec *RunSpec) (backtest.Result, error) {
	cfg, err := spec.toConfig()
	if err != nil {
		return backtest.Result{}, fmt.Errorf("invalid run spec: %w", err)
	}

	strategy, err := buildStrategy(spec)
	if err != nil {
		return backtest.Result{}, err
	}

	engine := backtest.NewEngine(cfg, strategy, log)

	benchBars, err := loadBarCSV(spec.Benchmark)
	if err != nil {
		return backtest.Result{}, fmt.Errorf("benchmark: %w", err)
	}
	if err := engine.Feed.SetBenchmark(benchBars); err != nil {
		return backtest.Result{}, err
	}

	for symbol, path := range spec.Symbols {
		bars, err := loadBarCSV(path)
		if err != nil {
			return backtest.Result{}, fmt.Errorf("symbol %s: %w", symbol, err)
		}
		engine.Feed.AddMarketData(backtest.Symbol(symbol), bars)
	}

	for _, ind := range spec.Indicators {
		if err := engine.Indicators.Register(ind.toDef()); err != nil {
			return backtest.Result{}, err
		}
	}

	return engine.Run()
}
