// Package marketdata provides quote sources for the simulator. It defines the
// Source interface the trading engine consumes, an HTTP implementation for a
// JSON quote API, a circuit-breaker decorator, and a deterministic simulated
// source for offline runs and tests.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable signals that the data source could not be reached or did not
// answer in time. It is cycle-fatal: the engine aborts the cycle without
// touching the portfolio.
var ErrUnavailable = errors.New("market data unavailable")

// ErrUnknownInstrument signals that the venue does not know the requested
// symbol. It is per-symbol and non-fatal.
var ErrUnknownInstrument = errors.New("unknown instrument")

// Quote is a point-in-time price observation for one instrument.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// StaleAt reports whether the quote is older than maxAge at the given time.
// A non-positive maxAge disables staleness checks.
func (q Quote) StaleAt(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return q.Age(now) > maxAge
}

// Snapshot is the set of quotes used consistently across one trading cycle.
type Snapshot map[string]Quote

// Source supplies current market data on request.
//
// GetQuotes omits symbols the venue does not know rather than failing the
// batch; a transport-level failure of the whole request returns an error
// wrapping ErrUnavailable. Implementations must be safe for concurrent use.
type Source interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetQuotes(ctx context.Context, symbols []string) (Snapshot, error)
}
