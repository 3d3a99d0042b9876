package runner

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmarkets/simtrader/internal/models"
)

// scriptedEngine returns the scripted statuses in order, repeating the last
// one once the script runs out.
type scriptedEngine struct {
	script []models.CycleStatus
	calls  int
}

func (s *scriptedEngine) RunCycle(_ context.Context) models.CycleSummary {
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	return models.CycleSummary{Status: s.script[i], Trades: []models.ExecutedTrade{}}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRunner(eng CycleRunner, maxRetries int) *Runner {
	return New(eng, Config{
		Interval:   time.Hour,
		Cooldown:   time.Millisecond,
		MaxRetries: maxRetries,
	}, quietLogger())
}

func TestRunOnce_SuccessNeedsNoRetry(t *testing.T) {
	eng := &scriptedEngine{script: []models.CycleStatus{models.CycleSuccess}}
	summary := testRunner(eng, 3).RunOnce(context.Background())

	assert.Equal(t, models.CycleSuccess, summary.Status)
	assert.Equal(t, 1, eng.calls)
}

func TestRunOnce_PartialIsNotRetried(t *testing.T) {
	eng := &scriptedEngine{script: []models.CycleStatus{models.CyclePartial}}
	summary := testRunner(eng, 3).RunOnce(context.Background())

	assert.Equal(t, models.CyclePartial, summary.Status)
	assert.Equal(t, 1, eng.calls)
}

func TestRunOnce_RetriesUntilSuccess(t *testing.T) {
	eng := &scriptedEngine{script: []models.CycleStatus{
		models.CycleFailed, models.CycleFailed, models.CycleSuccess,
	}}
	summary := testRunner(eng, 3).RunOnce(context.Background())

	assert.Equal(t, models.CycleSuccess, summary.Status)
	assert.Equal(t, 3, eng.calls)
}

func TestRunOnce_GivesUpAfterMaxRetries(t *testing.T) {
	eng := &scriptedEngine{script: []models.CycleStatus{models.CycleFailed}}
	summary := testRunner(eng, 2).RunOnce(context.Background())

	assert.Equal(t, models.CycleFailed, summary.Status)
	assert.Equal(t, 3, eng.calls, "initial attempt plus two retries")
}

func TestRunOnce_ZeroRetriesRunsOnce(t *testing.T) {
	eng := &scriptedEngine{script: []models.CycleStatus{models.CycleFailed}}
	summary := testRunner(eng, 0).RunOnce(context.Background())

	assert.Equal(t, models.CycleFailed, summary.Status)
	assert.Equal(t, 1, eng.calls)
}

func TestRunOnce_CanceledDuringCooldownStopsRetrying(t *testing.T) {
	eng := &scriptedEngine{script: []models.CycleStatus{models.CycleFailed}}
	r := New(eng, Config{
		Interval:   time.Hour,
		Cooldown:   time.Hour, // never elapses inside the test
		MaxRetries: 3,
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan models.CycleSummary, 1)
	go func() { done <- r.RunOnce(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case summary := <-done:
		assert.Equal(t, models.CycleFailed, summary.Status)
		assert.Equal(t, 1, eng.calls)
	case <-time.After(2 * time.Second):
		t.Fatal("RunOnce did not return after cancellation")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	eng := &scriptedEngine{script: []models.CycleStatus{models.CycleSuccess}}
	r := testRunner(eng, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Equal(t, 1, eng.calls, "one immediate cycle before the first tick")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
