package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ashare-quant/backtest/internal/backtest"
	"github.com/shopspring/decimal"
)

// loadBarCSV reads one symbol's bar history from a CSV file with header
// timestamp,open,high,low,close,volume[,amount,preclose,suspend]. This
// is the buffered-reader-over-a-file idiom the rest of the codebase
// uses for bulk historical data, adapted here to build []backtest.Bar
// in memory rather than stream events off disk.
func loadBarCSV(path string) ([]backtest.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	col := indexHeader(header)

	var bars []backtest.Bar
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row of %s: %w", path, err)
		}
		bar, err := parseBarRow(record, col)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func indexHeader(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	return col
}

func parseBarRow(record []string, col map[string]int) (backtest.Bar, error) {
	ts, err := parseRowTime(record, col)
	if err != nil {
		return backtest.Bar{}, err
	}
	bar := backtest.Bar{
		Timestamp: ts,
		Open:      decimalAt(record, col, "open"),
		High:      decimalAt(record, col, "high"),
		Low:       decimalAt(record, col, "low"),
		Close:     decimalAt(record, col, "close"),
		Volume:    decimalAt(record, col, "volume"),
		Amount:    decimalAt(record, col, "amount"),
		PreClose:  decimalAt(record, col, "preclose"),
	}
	if i, ok := col["suspend"]; ok && i < len(record) {
		bar.SuspendFlag = record[i] == "1" || record[i] == "true"
	}
	return bar, nil
}

func parseRowTime(record []string, col map[string]int) (time.Time, error) {
	i, ok := col["timestamp"]
	if !ok || i >= len(record) {
		return time.Time{}, fmt.Errorf("missing timestamp column")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, record[i]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", record[i])
}

func decimalAt(record []string, col map[string]int, name string) decimal.Decimal {
	i, ok := col[name]
	if !ok || i >= len(record) || record[i] == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(record[i])
	if err != nil {
		return decimal.Zero
	}
	return d
}
