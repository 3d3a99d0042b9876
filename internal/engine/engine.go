// Package engine orchestrates one trading cycle: fetch a market snapshot, run
// the decision engine, apply the resulting trades to the portfolio store and
// hand the cycle summary to the performance logger.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/openmarkets/simtrader/internal/marketdata"
	"github.com/openmarkets/simtrader/internal/models"
	"github.com/openmarkets/simtrader/internal/perflog"
	"github.com/openmarkets/simtrader/internal/portfolio"
	"github.com/openmarkets/simtrader/internal/strategy"
)

// ErrorKind classifies cycle-level failures.
type ErrorKind string

const (
	// KindDataUnavailable means the market snapshot could not be fetched;
	// the cycle aborted without touching the portfolio.
	KindDataUnavailable ErrorKind = "data_unavailable"
	// KindPersistenceFailure means a performance append or portfolio
	// checkpoint write failed; the cycle still completed.
	KindPersistenceFailure ErrorKind = "persistence_failure"
	// KindInternal covers unexpected errors recovered at the cycle boundary.
	KindInternal ErrorKind = "internal"
)

// CycleError is a classified cycle-level error.
type CycleError struct {
	Kind ErrorKind
	Err  error
}

func (e *CycleError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Config holds the engine's own knobs.
type Config struct {
	// StartingCash is the initial capital, used for total-return reporting.
	StartingCash decimal.Decimal
	// FetchTimeout bounds the market snapshot request for one cycle.
	FetchTimeout time.Duration
}

// Engine is the single long-lived trading engine instance. Dependencies are
// injected once at startup; RunCycle serializes cycles with a mutex so at
// most one executes at a time.
type Engine struct {
	cfg      Config
	source   marketdata.Source
	store    portfolio.Store
	strategy strategy.Strategy
	perf     perflog.Logger
	log      *logrus.Logger
	now      func() time.Time

	mu sync.Mutex
	// ref is the previous successful snapshot, the lookback reference for
	// the decision engine.
	ref marketdata.Snapshot
}

// New creates a trading engine with its collaborators.
func New(cfg Config, source marketdata.Source, store portfolio.Store, strat strategy.Strategy, perf perflog.Logger, log *logrus.Logger) *Engine {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		source:   source,
		store:    store,
		strategy: strat,
		perf:     perf,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the time source, mainly for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// RunCycle executes one full trading cycle and returns its summary. It never
// panics outward and never terminates the host process: a failed fetch yields
// a CycleFailed summary with the portfolio untouched, trade-level rejections
// are recorded without aborting the cycle, and persistence failures degrade
// the result to CyclePartial.
func (e *Engine) RunCycle(ctx context.Context) (summary models.CycleSummary) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cycleID := uuid.NewString()
	log := e.log.WithField("cycle", cycleID[:8])
	machine := newCycleMachine()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Cycle panicked in state %s: %v", machine.State(), r)
			summary = e.failedSummary(cycleID, &CycleError{Kind: KindInternal, Err: errors.New("cycle panic")})
		}
	}()

	log.Info("Starting trading cycle")

	// FETCHING
	snapshot, err := e.fetchSnapshot(ctx)
	if err != nil {
		_ = machine.Transition(StateFailed)
		cerr := &CycleError{Kind: KindDataUnavailable, Err: err}
		log.WithError(err).Warn("Market data unavailable, aborting cycle")
		return e.failedSummary(cycleID, cerr)
	}
	log.WithField("quotes", len(snapshot)).Debug("Snapshot fetched")

	// DECIDING
	if err := machine.Transition(StateDeciding); err != nil {
		return e.failedSummary(cycleID, &CycleError{Kind: KindInternal, Err: err})
	}
	view := e.store.View()
	intents := e.strategy.Decide(e.now(), snapshot, e.ref, view)
	log.WithField("intents", len(intents)).Debug("Decision pass complete")

	// EXECUTING
	if err := machine.Transition(StateExecuting); err != nil {
		return e.failedSummary(cycleID, &CycleError{Kind: KindInternal, Err: err})
	}
	trades, skipped := e.executeIntents(ctx, intents, log)

	// SUMMARIZING
	if err := machine.Transition(StateSummarizing); err != nil {
		return e.failedSummary(cycleID, &CycleError{Kind: KindInternal, Err: err})
	}
	e.store.MarkPrices(snapshot)
	psum := e.store.Summary(snapshot)

	summary = models.CycleSummary{
		CycleID:       cycleID,
		Timestamp:     e.now().UTC(),
		Cash:          psum.Cash,
		TotalValue:    psum.TotalValue,
		PositionCount: psum.PositionCount,
		Trades:        trades,
		Stale:         psum.Stale,
	}

	// DONE: persist history and checkpoint the portfolio. Either write
	// failing is reported but must not fail the cycle; in-memory state stays
	// authoritative until the next successful checkpoint.
	if err := machine.Transition(StateDone); err != nil {
		return e.failedSummary(cycleID, &CycleError{Kind: KindInternal, Err: err})
	}

	status := models.CycleSuccess
	if summary.RejectedCount() > 0 || skipped > 0 {
		status = models.CyclePartial
	}
	if err := e.perf.Append(e.performanceRecord(summary)); err != nil {
		status = models.CyclePartial
		log.WithError(&CycleError{Kind: KindPersistenceFailure, Err: err}).Error("Failed to append performance record")
	}
	if err := e.store.Save(); err != nil {
		status = models.CyclePartial
		log.WithError(&CycleError{Kind: KindPersistenceFailure, Err: err}).Error("Failed to checkpoint portfolio")
	}
	summary.Status = status

	e.ref = snapshot

	log.WithFields(logrus.Fields{
		"status":    status,
		"trades":    len(trades),
		"rejected":  summary.RejectedCount(),
		"skipped":   skipped,
		"cash":      summary.Cash.StringFixed(2),
		"value":     summary.TotalValue.StringFixed(2),
		"positions": summary.PositionCount,
	}).Info("Trading cycle complete")

	return summary
}

// Summary exposes the store's valuation with a best-effort fresh snapshot,
// for the monitoring surface. It never fails: an unreachable data source
// degrades to last-known valuation with the Stale flag set.
func (e *Engine) Summary(ctx context.Context) models.PortfolioSummary {
	snapshot, err := e.fetchSnapshot(ctx)
	if err != nil {
		e.log.WithError(err).Debug("Summary using last-known valuation")
		snapshot = marketdata.Snapshot{}
	}
	return e.store.Summary(snapshot)
}

func (e *Engine) fetchSnapshot(ctx context.Context) (marketdata.Snapshot, error) {
	symbols := make([]string, 0, 16)
	view := e.store.View()
	for symbol := range view.Positions {
		symbols = append(symbols, symbol)
	}
	symbols = append(symbols, e.strategy.Universe(view)...)

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	return e.source.GetQuotes(fetchCtx, symbols)
}

// executeIntents applies intents in emitted order. Each ApplyTrade call is
// independently atomic; a rejection is recorded and the remaining intents
// still run. Cancellation stops cleanly between trades, leaving a consistent
// (if incomplete) portfolio; the skipped count degrades the cycle to partial.
func (e *Engine) executeIntents(ctx context.Context, intents []models.TradeIntent, log *logrus.Entry) ([]models.ExecutedTrade, int) {
	trades := make([]models.ExecutedTrade, 0, len(intents))
	for _, intent := range intents {
		if ctx.Err() != nil {
			skipped := len(intents) - len(trades)
			log.Warnf("Cycle canceled, skipping %d remaining intent(s)", skipped)
			return trades, skipped
		}

		trade, err := e.store.ApplyTrade(intent.Symbol, intent.Side, intent.Quantity, intent.Price)
		if err != nil {
			log.WithError(err).Warnf("Trade rejected: %s %s %s @ %s",
				intent.Side, intent.Quantity, intent.Symbol, intent.Price)
			trades = append(trades, rejectedTrade(intent, err, e.now().UTC()))
			continue
		}

		trade.ID = uuid.NewString()
		trade.Reason = intent.Reason
		trades = append(trades, trade)
		log.Infof("Executed %s %s %s @ %s (%s)",
			trade.Side, trade.Quantity, trade.Symbol, trade.Price, intent.Reason)
	}
	return trades, 0
}

func rejectedTrade(intent models.TradeIntent, err error, at time.Time) models.ExecutedTrade {
	return models.ExecutedTrade{
		ID:           uuid.NewString(),
		Symbol:       intent.Symbol,
		Side:         intent.Side,
		Quantity:     intent.Quantity,
		Price:        intent.Price,
		Notional:     intent.Quantity.Mul(intent.Price),
		Rejected:     true,
		RejectReason: err.Error(),
		Reason:       intent.Reason,
		ExecutedAt:   at,
	}
}

func (e *Engine) failedSummary(cycleID string, cerr *CycleError) models.CycleSummary {
	psum := e.store.Summary(marketdata.Snapshot{})
	return models.CycleSummary{
		CycleID:       cycleID,
		Timestamp:     e.now().UTC(),
		Status:        models.CycleFailed,
		Cash:          psum.Cash,
		TotalValue:    psum.TotalValue,
		PositionCount: psum.PositionCount,
		Trades:        []models.ExecutedTrade{},
		Stale:         psum.Stale,
		Error:         cerr.Error(),
	}
}

func (e *Engine) performanceRecord(summary models.CycleSummary) models.PerformanceRecord {
	totalReturn := decimal.Zero
	if e.cfg.StartingCash.IsPositive() {
		totalReturn = summary.TotalValue.Sub(e.cfg.StartingCash).Div(e.cfg.StartingCash)
	}
	return models.PerformanceRecord{
		Timestamp:     summary.Timestamp,
		Cash:          summary.Cash,
		TotalValue:    summary.TotalValue,
		TotalReturn:   totalReturn,
		PositionCount: summary.PositionCount,
		TradeCount:    len(summary.Trades),
		Stale:         summary.Stale,
	}
}
