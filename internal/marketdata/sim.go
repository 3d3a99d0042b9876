package marketdata

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SimSource is a deterministic offline quote source. Prices follow a
// pseudo-random walk derived from an FNV hash of the symbol and the step
// counter, so two SimSources fed the same call sequence produce identical
// quotes. Used by `market_data.provider: sim` and by tests.
type SimSource struct {
	mu      sync.Mutex
	step    uint64
	prices  map[string]decimal.Decimal
	unknown map[string]struct{}
	nextErr error
	now     func() time.Time
}

var _ Source = (*SimSource)(nil)

// NewSimSource creates a simulated quote source.
func NewSimSource() *SimSource {
	return &SimSource{
		prices:  make(map[string]decimal.Decimal),
		unknown: make(map[string]struct{}),
		now:     time.Now,
	}
}

// WithClock overrides the time source, mainly for tests.
func (s *SimSource) WithClock(now func() time.Time) *SimSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
	return s
}

// SetPrice pins the current price of a symbol.
func (s *SimSource) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// MarkUnknown makes the source treat symbol as unlisted.
func (s *SimSource) MarkUnknown(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, symbol)
	s.unknown[symbol] = struct{}{}
}

// FailNext makes the next call return err, simulating an outage.
func (s *SimSource) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErr = err
}

// GetQuote returns the current simulated quote for one symbol.
func (s *SimSource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	snap, err := s.GetQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	q, ok := snap[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownInstrument)
	}
	return &q, nil
}

// GetQuotes advances the walk one step and returns quotes for all known
// symbols. Symbols marked unknown are omitted, matching the Source contract.
func (s *SimSource) GetQuotes(ctx context.Context, symbols []string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextErr != nil {
		err := s.nextErr
		s.nextErr = nil
		return nil, err
	}

	s.step++
	ts := s.now().UTC()

	out := make(Snapshot, len(symbols))
	for _, symbol := range dedupe(symbols) {
		if _, ok := s.unknown[symbol]; ok {
			continue
		}
		price, ok := s.prices[symbol]
		if !ok {
			price = basePrice(symbol)
		}
		price = nextPrice(symbol, s.step, price)
		s.prices[symbol] = price
		out[symbol] = Quote{Symbol: symbol, Price: price, Timestamp: ts}
	}
	return out, nil
}

// basePrice derives a starting price in [10, 500) from the symbol name.
func basePrice(symbol string) decimal.Decimal {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	cents := 1000 + h.Sum64()%49000 // 10.00 .. 499.99
	return decimal.New(int64(cents), -2)
}

// nextPrice applies a hash-derived move of at most ±2% for this step.
func nextPrice(symbol string, step uint64, price decimal.Decimal) decimal.Decimal {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s:%d", symbol, step)
	bps := int64(h.Sum64()%401) - 200 // -200 .. +200 basis points
	factor := decimal.New(10000+bps, -4)
	return price.Mul(factor).Round(4)
}
