// Package models provides the domain types shared across the simulator:
// positions, trade intents, cycle summaries and persisted performance records.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies the direction of a trade.
type Side string

const (
	// SideBuy opens or adds to a long position.
	SideBuy Side = "buy"
	// SideSell reduces or closes a long position.
	SideSell Side = "sell"
)

// Valid returns true if the Side is one of the defined constants.
func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell:
		return true
	default:
		return false
	}
}

// CycleStatus classifies the outcome of one trading cycle.
type CycleStatus string

const (
	// CycleSuccess means every emitted intent was applied and all state persisted.
	CycleSuccess CycleStatus = "success"
	// CyclePartial means the cycle completed but some trades were rejected or a
	// persistence write failed.
	CyclePartial CycleStatus = "partial"
	// CycleFailed means the cycle aborted before touching the portfolio.
	CycleFailed CycleStatus = "failed"
)

// Position is a long holding in a single instrument. A position with zero
// quantity is never stored; it is removed from the active set instead.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	// LastPrice is the most recent market price observed for the instrument,
	// kept so valuation can fall back to it when fresh data is missing.
	LastPrice decimal.Decimal `json:"last_price"`
	OpenedAt  time.Time       `json:"opened_at"`
}

// MarketValue returns quantity times the given price.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// UnrealizedPnL returns the open profit or loss at the given price.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.AvgEntryPrice).Mul(p.Quantity)
}

// TradeIntent is a proposed, not-yet-applied trade emitted by a strategy.
// Intents are transient: they live for one cycle and are never persisted.
type TradeIntent struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	// Price is the reference price the strategy sized the trade against.
	Price  decimal.Decimal
	Reason string
}

// ExecutedTrade records the outcome of applying one TradeIntent, whether it
// filled or was rejected by the portfolio store.
type ExecutedTrade struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	// Notional is quantity times price, before fees.
	Notional     decimal.Decimal `json:"notional"`
	Fee          decimal.Decimal `json:"fee"`
	Rejected     bool            `json:"rejected"`
	RejectReason string          `json:"reject_reason,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// CycleSummary is the immutable record of one trading cycle, built after
// execution and handed to the performance logger.
type CycleSummary struct {
	CycleID       string          `json:"cycle_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        CycleStatus     `json:"status"`
	Cash          decimal.Decimal `json:"cash"`
	TotalValue    decimal.Decimal `json:"total_value"`
	PositionCount int             `json:"position_count"`
	Trades        []ExecutedTrade `json:"trades"`
	// Stale is set when at least one position was valued from its last-known
	// price because fresh market data was missing.
	Stale bool `json:"stale"`
	// Error carries the failure description for failed cycles.
	Error string `json:"error,omitempty"`
}

// RejectedCount returns how many trades in the summary were rejected.
func (c CycleSummary) RejectedCount() int {
	n := 0
	for _, t := range c.Trades {
		if t.Rejected {
			n++
		}
	}
	return n
}

// PerformanceRecord is one append-only row of portfolio performance history.
// Records are ordered by timestamp and never mutated after being written.
type PerformanceRecord struct {
	Timestamp     time.Time       `json:"timestamp"`
	Cash          decimal.Decimal `json:"cash"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalReturn   decimal.Decimal `json:"total_return"`
	PositionCount int             `json:"position_count"`
	TradeCount    int             `json:"trade_count"`
	Stale         bool            `json:"stale"`
}

// PortfolioView is a read-only copy of portfolio state handed to strategies.
type PortfolioView struct {
	Cash      decimal.Decimal
	Positions map[string]PositionSnapshot
}

// PositionSnapshot mirrors Position without exposing the live store entry.
type PositionSnapshot struct {
	Symbol        string
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	LastPrice     decimal.Decimal
}

// Held reports whether the view contains a non-zero position for symbol.
func (v PortfolioView) Held(symbol string) bool {
	p, ok := v.Positions[symbol]
	return ok && p.Quantity.IsPositive()
}

// PortfolioSummary is the monitoring-facing snapshot of the portfolio.
type PortfolioSummary struct {
	AsOf          time.Time       `json:"as_of"`
	Cash          decimal.Decimal `json:"cash"`
	TotalValue    decimal.Decimal `json:"total_value"`
	PositionCount int             `json:"position_count"`
	// Stale flags that at least one position fell back to last-known valuation.
	Stale bool `json:"stale"`
}
