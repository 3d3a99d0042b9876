package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures the circuit breaker around a Source.
type BreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// BreakerSource wraps a Source with circuit breaker functionality so a
// flapping quote API stops being hammered every cycle. An open breaker is
// reported as ErrUnavailable.
type BreakerSource struct {
	source  Source
	breaker *gobreaker.CircuitBreaker
}

var _ Source = (*BreakerSource)(nil)

// NewBreakerSource creates a BreakerSource with sensible defaults.
func NewBreakerSource(source Source, logger *logrus.Logger) *BreakerSource {
	return NewBreakerSourceWithSettings(source, logger, BreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewBreakerSourceWithSettings creates a BreakerSource with custom settings.
func NewBreakerSourceWithSettings(source Source, logger *logrus.Logger, settings BreakerSettings) *BreakerSource {
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		// Unknown instruments are venue answers, not venue failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnknownInstrument)
		},
	}
	if logger != nil {
		gbSettings.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("Circuit breaker %s state changed from %s to %s", name, from, to)
		}
	}

	return &BreakerSource{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("circuit breaker: %w: %v", ErrUnavailable, err)
		}
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetQuote wraps the underlying source call with the circuit breaker.
func (b *BreakerSource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return execBreaker(b.breaker, func() (*Quote, error) { return b.source.GetQuote(ctx, symbol) })
}

// GetQuotes wraps the underlying source call with the circuit breaker.
func (b *BreakerSource) GetQuotes(ctx context.Context, symbols []string) (Snapshot, error) {
	return execBreaker(b.breaker, func() (Snapshot, error) { return b.source.GetQuotes(ctx, symbols) })
}
