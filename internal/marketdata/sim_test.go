package marketdata

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimSource_Deterministic(t *testing.T) {
	a := NewSimSource()
	b := NewSimSource()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		snapA, err := a.GetQuotes(ctx, []string{"AAPL", "MSFT"})
		require.NoError(t, err)
		snapB, err := b.GetQuotes(ctx, []string{"AAPL", "MSFT"})
		require.NoError(t, err)

		for _, sym := range []string{"AAPL", "MSFT"} {
			assert.True(t, snapA[sym].Price.Equal(snapB[sym].Price),
				"step %d %s: %s vs %s", i, sym, snapA[sym].Price, snapB[sym].Price)
		}
	}
}

func TestSimSource_PricesStayPositiveAndBounded(t *testing.T) {
	src := NewSimSource()
	src.SetPrice("X", decimal.RequireFromString("100"))
	ctx := context.Background()

	prev := decimal.RequireFromString("100")
	for i := 0; i < 50; i++ {
		snap, err := src.GetQuotes(ctx, []string{"X"})
		require.NoError(t, err)
		price := snap["X"].Price
		require.True(t, price.IsPositive())

		// Each step moves at most 2% from the previous price.
		change := price.Sub(prev).Div(prev).Abs()
		assert.True(t, change.LessThanOrEqual(decimal.RequireFromString("0.0201")),
			"step %d moved %s", i, change)
		prev = price
	}
}

func TestSimSource_UnknownSymbolOmitted(t *testing.T) {
	src := NewSimSource()
	src.MarkUnknown("NOPE")
	ctx := context.Background()

	snap, err := src.GetQuotes(ctx, []string{"AAPL", "NOPE"})
	require.NoError(t, err)
	assert.Contains(t, snap, "AAPL")
	assert.NotContains(t, snap, "NOPE")

	_, err = src.GetQuote(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestSimSource_FailNextIsOneShot(t *testing.T) {
	src := NewSimSource()
	src.FailNext(ErrUnavailable)
	ctx := context.Background()

	_, err := src.GetQuotes(ctx, []string{"AAPL"})
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = src.GetQuotes(ctx, []string{"AAPL"})
	assert.NoError(t, err)
}

func TestSimSource_CanceledContext(t *testing.T) {
	src := NewSimSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.GetQuotes(ctx, []string{"AAPL"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
