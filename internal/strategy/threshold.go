package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmarkets/simtrader/internal/marketdata"
	"github.com/openmarkets/simtrader/internal/models"
)

// quantityPlaces is the precision trade quantities are truncated to.
const quantityPlaces = 4

// ThresholdConfig parameterizes the threshold policy.
type ThresholdConfig struct {
	// Watchlist is the fixed set of entry candidates.
	Watchlist []string
	// PositionSize is the target cash outlay per new position.
	PositionSize decimal.Decimal
	// MaxPositions caps the number of simultaneously open positions.
	MaxPositions int
	// BuyTriggerPct opens a position when the price change since the previous
	// snapshot is at or below this (negative) fraction, e.g. -0.05.
	BuyTriggerPct decimal.Decimal
	// TakeProfitPct closes a position when the price is at or above
	// avg entry * (1 + TakeProfitPct), e.g. 0.03.
	TakeProfitPct decimal.Decimal
	// StopLossPct closes a position when the price is at or below
	// avg entry * (1 + StopLossPct), e.g. -0.05.
	StopLossPct decimal.Decimal
	// MaxQuoteAge excludes quotes older than this from consideration.
	MaxQuoteAge time.Duration
}

// ThresholdStrategy is a long-only mean-reversion policy: buy instruments
// that dropped past the trigger since the previous cycle, exit on a fixed
// take-profit or stop-loss relative to the average entry price.
//
// Exits are emitted before entries so freed cash and position slots are
// usable within the same cycle. Symbols are visited in sorted order to keep
// the intent sequence deterministic; instruments with missing or stale data
// are skipped for the cycle rather than failing the whole pass.
type ThresholdStrategy struct {
	cfg ThresholdConfig
}

var _ Strategy = (*ThresholdStrategy)(nil)

// NewThresholdStrategy creates a threshold policy from the given config.
func NewThresholdStrategy(cfg ThresholdConfig) *ThresholdStrategy {
	return &ThresholdStrategy{cfg: cfg}
}

// Universe returns the configured watchlist.
func (s *ThresholdStrategy) Universe(_ models.PortfolioView) []string {
	out := make([]string, len(s.cfg.Watchlist))
	copy(out, s.cfg.Watchlist)
	return out
}

// Decide implements Strategy.
func (s *ThresholdStrategy) Decide(now time.Time, snapshot, ref marketdata.Snapshot, view models.PortfolioView) []models.TradeIntent {
	intents := make([]models.TradeIntent, 0, 4)

	// Cash and slots as they will stand after the planned exits execute.
	projectedCash := view.Cash
	openSlots := s.cfg.MaxPositions - len(view.Positions)

	// Exits first.
	for _, symbol := range sortedKeys(view.Positions) {
		pos := view.Positions[symbol]
		if !pos.Quantity.IsPositive() {
			continue
		}
		quote, ok := s.freshQuote(snapshot, symbol, now)
		if !ok {
			continue
		}
		reason, exit := s.exitReason(pos, quote.Price)
		if !exit {
			continue
		}
		intents = append(intents, models.TradeIntent{
			Symbol:   symbol,
			Side:     models.SideSell,
			Quantity: pos.Quantity,
			Price:    quote.Price,
			Reason:   reason,
		})
		projectedCash = projectedCash.Add(pos.Quantity.Mul(quote.Price))
		openSlots++
	}

	// Entries: watchlist symbols that dropped past the trigger since the
	// previous snapshot.
	for _, symbol := range dedupeSorted(s.cfg.Watchlist) {
		if openSlots <= 0 {
			break
		}
		if view.Held(symbol) {
			continue
		}
		quote, ok := s.freshQuote(snapshot, symbol, now)
		if !ok {
			continue
		}
		refQuote, ok := ref[symbol]
		if !ok || !refQuote.Price.IsPositive() {
			// No lookback reference yet; wait for the next cycle.
			continue
		}
		change := quote.Price.Sub(refQuote.Price).Div(refQuote.Price)
		if change.GreaterThan(s.cfg.BuyTriggerPct) {
			continue
		}

		quantity := s.cfg.PositionSize.Div(quote.Price).RoundDown(quantityPlaces)
		if !quantity.IsPositive() {
			continue
		}
		cost := quantity.Mul(quote.Price)
		if projectedCash.LessThan(cost) {
			// Every entry costs roughly PositionSize; once cash is short,
			// later candidates cannot fit either.
			break
		}

		intents = append(intents, models.TradeIntent{
			Symbol:   symbol,
			Side:     models.SideBuy,
			Quantity: quantity,
			Price:    quote.Price,
			Reason:   fmt.Sprintf("price change %s below trigger %s", change.StringFixed(4), s.cfg.BuyTriggerPct.String()),
		})
		projectedCash = projectedCash.Sub(cost)
		openSlots--
	}

	return intents
}

func (s *ThresholdStrategy) exitReason(pos models.PositionSnapshot, price decimal.Decimal) (string, bool) {
	if !pos.AvgEntryPrice.IsPositive() {
		return "", false
	}
	one := decimal.New(1, 0)
	takeProfitAt := pos.AvgEntryPrice.Mul(one.Add(s.cfg.TakeProfitPct))
	stopLossAt := pos.AvgEntryPrice.Mul(one.Add(s.cfg.StopLossPct))

	switch {
	case price.GreaterThanOrEqual(takeProfitAt):
		return "take profit reached", true
	case price.LessThanOrEqual(stopLossAt):
		return "stop loss triggered", true
	default:
		return "", false
	}
}

func (s *ThresholdStrategy) freshQuote(snapshot marketdata.Snapshot, symbol string, now time.Time) (marketdata.Quote, bool) {
	quote, ok := snapshot[symbol]
	if !ok || !quote.Price.IsPositive() {
		return marketdata.Quote{}, false
	}
	if quote.StaleAt(now, s.cfg.MaxQuoteAge) {
		return marketdata.Quote{}, false
	}
	return quote, true
}

func sortedKeys(positions map[string]models.PositionSnapshot) []string {
	keys := make([]string, 0, len(positions))
	for k := range positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupeSorted(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
