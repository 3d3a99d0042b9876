// Package portfolio implements the portfolio store: cash, open positions,
// atomic trade application and valuation, backed by a JSON state file so the
// process resumes after a restart without resetting to initial capital.
package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmarkets/simtrader/internal/marketdata"
	"github.com/openmarkets/simtrader/internal/models"
)

// Store defines the contract for portfolio state.
//
// Implementations must be safe for concurrent use - a monitoring read issued
// while a trading cycle executes observes either the pre-trade or post-trade
// state of an individual ApplyTrade, never a partial update.
type Store interface {
	// Reads
	Cash() decimal.Decimal
	Positions() []models.Position
	Position(symbol string) (models.Position, bool)
	View() models.PortfolioView
	Summary(quotes marketdata.Snapshot) models.PortfolioSummary

	// Mutations
	ApplyTrade(symbol string, side models.Side, quantity, price decimal.Decimal) (models.ExecutedTrade, error)
	MarkPrices(quotes marketdata.Snapshot)

	// Persistence
	Save() error
}

// storeState is the persisted portfolio snapshot layout.
type storeState struct {
	Cash        decimal.Decimal            `json:"cash"`
	Positions   map[string]models.Position `json:"positions"`
	LastUpdated time.Time                  `json:"last_updated"`
}

// JSONStore is the file-backed Store implementation. All access is serialized
// with a sync.RWMutex; Save writes to a temp file and renames it into place so
// a crash mid-write never corrupts the previous snapshot.
type JSONStore struct {
	mu    sync.RWMutex
	path  string
	fee   decimal.Decimal
	now   func() time.Time
	state storeState
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore opens the store at path, loading persisted state when the file
// exists and otherwise starting with startingCash. fee is a flat per-trade
// transaction cost charged on both sides; pass zero to disable.
func NewJSONStore(path string, startingCash, fee decimal.Decimal) (*JSONStore, error) {
	if startingCash.IsNegative() {
		return nil, fmt.Errorf("starting cash must not be negative, got %s", startingCash)
	}
	if fee.IsNegative() {
		return nil, fmt.Errorf("transaction cost must not be negative, got %s", fee)
	}

	s := &JSONStore{
		path: path,
		fee:  fee,
		now:  time.Now,
		state: storeState{
			Cash:      startingCash,
			Positions: make(map[string]models.Position),
		},
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading portfolio state: %w", err)
		}
	}

	return s, nil
}

// WithClock overrides the time source, mainly for tests.
func (s *JSONStore) WithClock(now func() time.Time) *JSONStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var state storeState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Positions == nil {
		state.Positions = make(map[string]models.Position)
	}
	if state.Cash.IsNegative() {
		return fmt.Errorf("persisted cash is negative: %s", state.Cash)
	}
	for symbol, pos := range state.Positions {
		if !pos.Quantity.IsPositive() {
			return fmt.Errorf("persisted position %s has non-positive quantity %s", symbol, pos.Quantity)
		}
	}
	s.state = state
	return nil
}

// Save persists the current state. Write to a temp file first, then rename.
func (s *JSONStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.LastUpdated = s.now().UTC()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.path)
}

// Cash returns the current cash balance.
func (s *JSONStore) Cash() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Cash
}

// Positions returns a copy of all open positions, sorted by symbol.
func (s *JSONStore) Positions() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, 0, len(s.state.Positions))
	for _, pos := range s.state.Positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns the open position for symbol, if any.
func (s *JSONStore) Position(symbol string) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.state.Positions[symbol]
	return pos, ok
}

// View returns a read-only copy of the portfolio for the decision engine.
func (s *JSONStore) View() models.PortfolioView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := models.PortfolioView{
		Cash:      s.state.Cash,
		Positions: make(map[string]models.PositionSnapshot, len(s.state.Positions)),
	}
	for symbol, pos := range s.state.Positions {
		view.Positions[symbol] = models.PositionSnapshot{
			Symbol:        pos.Symbol,
			Quantity:      pos.Quantity,
			AvgEntryPrice: pos.AvgEntryPrice,
			LastPrice:     pos.LastPrice,
		}
	}
	return view
}

// ApplyTrade applies one trade atomically. Buys require cash covering
// quantity*price plus the fee or fail with ErrInsufficientFunds; sells
// require held quantity covering the request or fail with
// ErrInsufficientPosition, and fail with ErrInsufficientFunds when the fee
// would push cash negative. Rejections leave state untouched. On a successful
// buy the average entry price is volume-weighted; a sell that empties the
// position removes it from the active set.
func (s *JSONStore) ApplyTrade(symbol string, side models.Side, quantity, price decimal.Decimal) (models.ExecutedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var trade models.ExecutedTrade

	if symbol == "" {
		return trade, fmt.Errorf("%w: empty symbol", ErrInvalidTrade)
	}
	if !side.Valid() {
		return trade, fmt.Errorf("%w: side %q", ErrInvalidTrade, side)
	}
	if !quantity.IsPositive() {
		return trade, fmt.Errorf("%w: quantity %s must be > 0", ErrInvalidTrade, quantity)
	}
	if !price.IsPositive() {
		return trade, fmt.Errorf("%w: price %s must be > 0", ErrInvalidTrade, price)
	}

	notional := quantity.Mul(price)

	switch side {
	case models.SideBuy:
		total := notional.Add(s.fee)
		if s.state.Cash.LessThan(total) {
			return trade, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, total, s.state.Cash)
		}
		s.state.Cash = s.state.Cash.Sub(total)

		pos, ok := s.state.Positions[symbol]
		if !ok {
			pos = models.Position{Symbol: symbol, OpenedAt: s.now().UTC()}
		}
		newQty := pos.Quantity.Add(quantity)
		// Volume-weighted average entry price.
		pos.AvgEntryPrice = pos.Quantity.Mul(pos.AvgEntryPrice).Add(notional).Div(newQty)
		pos.Quantity = newQty
		pos.LastPrice = price
		s.state.Positions[symbol] = pos

	case models.SideSell:
		pos, ok := s.state.Positions[symbol]
		if !ok || pos.Quantity.LessThan(quantity) {
			held := decimal.Zero
			if ok {
				held = pos.Quantity
			}
			return trade, fmt.Errorf("%w: want to sell %s %s, hold %s", ErrInsufficientPosition, quantity, symbol, held)
		}
		// Cash covers the fee on both sides; a sale whose fee exceeds the
		// proceeds plus remaining cash would push the balance negative.
		newCash := s.state.Cash.Add(notional).Sub(s.fee)
		if newCash.IsNegative() {
			return trade, fmt.Errorf("%w: fee %s exceeds proceeds %s plus cash %s",
				ErrInsufficientFunds, s.fee, notional, s.state.Cash)
		}
		s.state.Cash = newCash

		pos.Quantity = pos.Quantity.Sub(quantity)
		pos.LastPrice = price
		if pos.Quantity.IsZero() {
			// Zero-quantity positions are removed, never kept as empty rows.
			delete(s.state.Positions, symbol)
		} else {
			s.state.Positions[symbol] = pos
		}
	}

	trade = models.ExecutedTrade{
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Notional:   notional,
		Fee:        s.fee,
		ExecutedAt: s.now().UTC(),
	}
	return trade, nil
}

// MarkPrices refreshes each position's last-known price from the snapshot.
// Cash and quantities are untouched; this only feeds the valuation fallback.
func (s *JSONStore) MarkPrices(quotes marketdata.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for symbol, pos := range s.state.Positions {
		if q, ok := quotes[symbol]; ok {
			pos.LastPrice = q.Price
			s.state.Positions[symbol] = pos
		}
	}
}

// Summary values the portfolio against the given quotes. A position without a
// quote contributes its last-known valuation and flips the Stale flag instead
// of failing the call.
func (s *JSONStore) Summary(quotes marketdata.Snapshot) models.PortfolioSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.state.Cash
	stale := false
	for symbol, pos := range s.state.Positions {
		price := pos.LastPrice
		if q, ok := quotes[symbol]; ok {
			price = q.Price
		} else {
			stale = true
			if price.IsZero() {
				price = pos.AvgEntryPrice
			}
		}
		total = total.Add(pos.MarketValue(price))
	}

	return models.PortfolioSummary{
		AsOf:          s.now().UTC(),
		Cash:          s.state.Cash,
		TotalValue:    total,
		PositionCount: len(s.state.Positions),
		Stale:         stale,
	}
}
