// Package strategy contains the decision engine: policies that map a market
// snapshot plus a read-only portfolio view to an ordered list of trade
// intents. Policies are pure and deterministic; the portfolio store remains
// the final authority on whether an intent can actually be applied.
package strategy

import (
	"time"

	"github.com/openmarkets/simtrader/internal/marketdata"
	"github.com/openmarkets/simtrader/internal/models"
)

// Strategy is a pluggable decision policy.
//
// Decide must be deterministic: identical inputs produce the identical
// ordered intent slice. ref carries the previous cycle's snapshot so policies
// can reason about price changes without keeping internal state. Policies
// must never propose selling an instrument the view does not hold, and must
// self-cap buys to the cash the view reports.
type Strategy interface {
	// Universe returns the symbols the policy wants quotes for, beyond the
	// positions currently held.
	Universe(view models.PortfolioView) []string

	Decide(now time.Time, snapshot, ref marketdata.Snapshot, view models.PortfolioView) []models.TradeIntent
}
