package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmarkets/simtrader/internal/models"
)

type fakeSummarizer struct {
	summary models.PortfolioSummary
}

func (f *fakeSummarizer) Summary(_ context.Context) models.PortfolioSummary {
	return f.summary
}

type fakeHistory struct {
	records []models.PerformanceRecord
	err     error
	from    time.Time
	to      time.Time
}

func (f *fakeHistory) Append(rec models.PerformanceRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeHistory) History(from, to time.Time) ([]models.PerformanceRecord, error) {
	f.from, f.to = from, to
	return f.records, f.err
}

func newTestServer(t *testing.T, cfg Config, history *fakeHistory) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	summarizer := &fakeSummarizer{summary: models.PortfolioSummary{
		AsOf:          time.Now().UTC(),
		Cash:          decimal.RequireFromString("9000"),
		TotalValue:    decimal.RequireFromString("10100"),
		PositionCount: 1,
	}}
	return NewServer(cfg, summarizer, history, logger)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{Port: 8080}, &fakeHistory{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestSummaryEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{Port: 8080}, &fakeHistory{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got models.PortfolioSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Cash.Equal(decimal.RequireFromString("9000")))
	assert.Equal(t, 1, got.PositionCount)
}

func TestHistoryEndpoint(t *testing.T) {
	history := &fakeHistory{records: []models.PerformanceRecord{
		{Timestamp: time.Now().UTC(), TotalValue: decimal.RequireFromString("10100")},
	}}
	srv := newTestServer(t, Config{Port: 8080}, history)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.PerformanceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)
	assert.True(t, history.from.IsZero())
	assert.True(t, history.to.IsZero())
}

func TestHistoryEndpoint_RangeParams(t *testing.T) {
	history := &fakeHistory{}
	srv := newTestServer(t, Config{Port: 8080}, history)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/history?from=2026-08-25T00:00:00Z&to=2026-08-25T12:00:00Z", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), history.from)
	assert.Equal(t, time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC), history.to)
}

func TestHistoryEndpoint_BadTimeParam(t *testing.T) {
	srv := newTestServer(t, Config{Port: 8080}, &fakeHistory{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?from=yesterday", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEndpoint_ReadFailure(t *testing.T) {
	srv := newTestServer(t, Config{Port: 8080}, &fakeHistory{err: errors.New("disk gone")})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, Config{Port: 8080, AuthToken: "sekrit"}, &fakeHistory{})
	handler := srv.Handler()

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong token.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	req.Header.Set("X-Auth-Token", "wrong")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Header token.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	req.Header.Set("X-Auth-Token", "sekrit")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Query token.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary?token=sekrit", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
