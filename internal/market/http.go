package market

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/resilience"
)

// HTTPOptions configures an HTTPSource.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond bounds calls to the feed. Zero means 1.
	RequestsPerSecond float64
	Client            *http.Client
}

// HTTPSource fetches a rate sheet over HTTP. Status errors from the feed are
// classified so the Feed retry policy only retries transient failures.
type HTTPSource struct {
	url     string
	format  Format
	client  *http.Client
	limiter *rate.Limiter
	ua      string
}

// NewHTTPSource returns a source for url.
func NewHTTPSource(url string, opts HTTPOptions) *HTTPSource {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "refi-monitor/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPSource{
		url:     url,
		format:  formatOf(url),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		ua:      opts.UserAgent,
	}
}

// Name implements Source.
func (s *HTTPSource) Name() string { return s.url }

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) (*model.Snapshot, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "market: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "market: create request")
	}
	req.Header.Set("User-Agent", s.ua)
	req.Header.Set("Accept", "application/json, text/csv, application/yaml, */*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "market: http get"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckStatus("market: GET "+s.url, resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	snap, err := Parse(ctx, resp.Body, s.format)
	if err != nil {
		return nil, err
	}
	if snap.FetchedAt.IsZero() {
		if t, perr := http.ParseTime(resp.Header.Get("Last-Modified")); perr == nil {
			snap.FetchedAt = t.UTC()
		}
	}
	return snap, nil
}
