package marketdata

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakySource fails every call until the fail counter runs out.
type flakySource struct {
	inner Source
	fails int
	calls int
}

func (f *flakySource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	f.calls++
	if f.fails > 0 {
		f.fails--
		return nil, fmt.Errorf("flaky: %w", ErrUnavailable)
	}
	return f.inner.GetQuote(ctx, symbol)
}

func (f *flakySource) GetQuotes(ctx context.Context, symbols []string) (Snapshot, error) {
	f.calls++
	if f.fails > 0 {
		f.fails--
		return nil, fmt.Errorf("flaky: %w", ErrUnavailable)
	}
	return f.inner.GetQuotes(ctx, symbols)
}

func breakerTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBreakerSource_PassesThroughOnSuccess(t *testing.T) {
	src := NewBreakerSource(NewSimSource(), breakerTestLogger())

	snap, err := src.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Contains(t, snap, "AAPL")
}

func TestBreakerSource_OpensAfterRepeatedFailures(t *testing.T) {
	flaky := &flakySource{inner: NewSimSource(), fails: 100}
	src := NewBreakerSourceWithSettings(flaky, breakerTestLogger(), BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	})

	for i := 0; i < 3; i++ {
		_, err := src.GetQuotes(context.Background(), []string{"AAPL"})
		require.ErrorIs(t, err, ErrUnavailable)
	}

	callsBefore := flaky.calls
	_, err := src.GetQuotes(context.Background(), []string{"AAPL"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, callsBefore, flaky.calls, "open breaker must not reach the source")
}

func TestBreakerSource_UnknownInstrumentDoesNotTrip(t *testing.T) {
	sim := NewSimSource()
	sim.MarkUnknown("NOPE")
	src := NewBreakerSourceWithSettings(sim, breakerTestLogger(), BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	})

	for i := 0; i < 10; i++ {
		_, err := src.GetQuote(context.Background(), "NOPE")
		require.ErrorIs(t, err, ErrUnknownInstrument)
	}

	// The venue kept answering, so the breaker stayed closed.
	_, err := src.GetQuotes(context.Background(), []string{"AAPL"})
	assert.NoError(t, err)
}
