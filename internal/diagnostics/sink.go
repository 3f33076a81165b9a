// Package diagnostics is the shared warning/error sink used across the
// backtest engine. Every component logs through a Sink instead of the
// global logrus logger so warnings can also be collected and returned
// to the caller alongside a run's results.
package diagnostics

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Kind classifies a non-fatal warning per the taxonomy in the engine spec.
type Kind string

const (
	KindDataWarning  Kind = "data_warning"
	KindOrderWarning Kind = "order_warning"
)

// Warning is a single recorded non-fatal event.
type Warning struct {
	Kind      Kind   `json:"kind"`
	Component string `json:"component"`
	BarIndex  int    `json:"bar_index"`
	Symbol    string `json:"symbol,omitempty"`
	Message   string `json:"message"`
}

func (w Warning) String() string {
	if w.Symbol == "" {
		return fmt.Sprintf("[%s] bar %d: %s", w.Component, w.BarIndex, w.Message)
	}
	return fmt.Sprintf("[%s] bar %d %s: %s", w.Component, w.BarIndex, w.Symbol, w.Message)
}

// Sink collects warnings for the run result and mirrors them to logrus.
type Sink struct {
	log *logrus.Logger

	mu       sync.Mutex
	warnings []Warning
}

// New wraps the given logger, or a default one if nil.
func New(log *logrus.Logger) *Sink {
	if log == nil {
		log = logrus.New()
	}
	return &Sink{log: log}
}

// Warn records a non-fatal warning and logs it at Warn level.
func (s *Sink) Warn(kind Kind, component string, barIndex int, symbol, format string, args ...interface{}) {
	w := Warning{
		Kind:      kind,
		Component: component,
		BarIndex:  barIndex,
		Symbol:    symbol,
		Message:   fmt.Sprintf(format, args...),
	}

	s.mu.Lock()
	s.warnings = append(s.warnings, w)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"component": component,
		"bar_index": barIndex,
		"symbol":    symbol,
		"kind":      kind,
	}).Warn(w.Message)
}

// Fatal logs a fatal condition. The caller is still responsible for
// returning an error; this only ensures the condition is logged with
// the same fields a Warning would carry.
func (s *Sink) Fatal(component string, barIndex int, symbol, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.log.WithFields(logrus.Fields{
		"component": component,
		"bar_index": barIndex,
		"symbol":    symbol,
	}).Error(msg)
}

// Warnings returns a copy of all warnings recorded so far.
func (s *Sink) Warnings() []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Warning, len(s.warnings))
	copy(out, s.warnings)
	return out
}
