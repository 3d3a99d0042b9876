package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultBatchSize   = 50
	defaultParallelism = 4
	// maxErrorBodyBytes caps how much of an error response body is kept.
	maxErrorBodyBytes = 512
)

// APIError represents a non-2xx response from the quote API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quote API error %d: %s", e.Status, e.Body)
}

// Unwrap maps every API-level failure to ErrUnavailable: the caller cannot
// act on status codes, only on whether the data source answered.
func (e *APIError) Unwrap() error {
	return ErrUnavailable
}

// HTTPConfig configures the HTTP quote source.
type HTTPConfig struct {
	Endpoint    string
	APIKey      string
	Timeout     time.Duration
	BatchSize   int
	Parallelism int
}

// HTTPSource fetches quotes from a JSON quote API:
//
//	GET {endpoint}/v1/quotes?symbols=AAA,BBB
//	-> {"quotes": [{"symbol": "AAA", "price": 12.34, "timestamp": 1724572800}, ...]}
//
// Symbols the venue does not know are simply absent from the response.
type HTTPSource struct {
	client  *http.Client
	baseURL string
	apiKey  string

	batchSize   int
	parallelism int
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates an HTTP quote source. Zero config fields fall back to
// defaults; the per-request timeout is enforced by the underlying client.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	return &HTTPSource{
		client:      &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:      cfg.APIKey,
		batchSize:   batch,
		parallelism: parallelism,
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func (s *HTTPSource) WithHTTPClient(c *http.Client) *HTTPSource {
	if c != nil {
		s.client = c
	}
	return s
}

// GetQuote fetches a single quote. A symbol absent from the venue returns an
// error wrapping ErrUnknownInstrument.
func (s *HTTPSource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
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

// GetQuotes fetches quotes for all symbols, batched and fanned out with a
// bounded number of concurrent requests. Unknown symbols are omitted from the
// result; any transport failure fails the whole call with ErrUnavailable.
func (s *HTTPSource) GetQuotes(ctx context.Context, symbols []string) (Snapshot, error) {
	symbols = dedupe(symbols)
	if len(symbols) == 0 {
		return Snapshot{}, nil
	}

	var mu sync.Mutex
	out := make(Snapshot, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for start := 0; start < len(symbols); start += s.batchSize {
		end := start + s.batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[start:end]

		g.Go(func() error {
			quotes, err := s.fetchBatch(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, q := range quotes {
				out[q.Symbol] = q
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type wireQuote struct {
	Symbol string          `json:"symbol"`
	Price  json.RawMessage `json:"price"`
	// Timestamp is unix seconds.
	Timestamp int64 `json:"timestamp"`
}

type quotesResponse struct {
	Quotes []wireQuote `json:"quotes"`
}

func (s *HTTPSource) fetchBatch(ctx context.Context, symbols []string) ([]Quote, error) {
	endpoint := fmt.Sprintf("%s/v1/quotes?symbols=%s",
		s.baseURL, url.QueryEscape(strings.Join(symbols, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed quotesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding quote response: %w: %v", ErrUnavailable, err)
	}

	quotes := make([]Quote, 0, len(parsed.Quotes))
	for _, wq := range parsed.Quotes {
		q, err := wq.toQuote()
		if err != nil {
			// A malformed row poisons the snapshot; treat the feed as down
			// rather than trading on garbage.
			return nil, fmt.Errorf("quote for %s: %w: %v", wq.Symbol, ErrUnavailable, err)
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (wq wireQuote) toQuote() (Quote, error) {
	var q Quote
	if wq.Symbol == "" {
		return q, fmt.Errorf("missing symbol")
	}
	q.Symbol = wq.Symbol
	if err := q.Price.UnmarshalJSON(wq.Price); err != nil {
		return q, fmt.Errorf("parsing price: %w", err)
	}
	if !q.Price.IsPositive() {
		return q, fmt.Errorf("non-positive price %s", q.Price)
	}
	q.Timestamp = time.Unix(wq.Timestamp, 0).UTC()
	return q, nil
}

// dedupe returns the unique symbols in sorted order.
func dedupe(symbols []string) []string {
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
