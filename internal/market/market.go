// Package market loads rate market snapshots from files, HTTP feeds and FTP
// drops, normalizes them, and optionally caches the latest one in Redis.
package market

import (
	"context"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/resilience"
)

// Source produces a raw snapshot from one place.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*model.Snapshot, error)
}

// Options configures Open.
type Options struct {
	HTTP HTTPOptions
	FTP  FTPOptions
}

// Open picks a source for uri by scheme: http(s) and ftp are remote, anything
// else is a local file. The format comes from the file extension.
func Open(uri string, opts Options) (Source, error) {
	if uri == "" {
		return nil, eris.New("market: empty source")
	}
	u, err := url.Parse(uri)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return NewHTTPSource(uri, opts.HTTP), nil
		case "ftp":
			return NewFTPSource(uri, opts.FTP)
		case "file":
			return NewFileSource(u.Path)
		}
	}
	return NewFileSource(uri)
}

// Feed fetches snapshots from a source with retry, normalizes them and keeps
// the cache warm.
type Feed struct {
	source Source
	cache  *Cache
	policy resilience.Policy
	clock  func() time.Time
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithCache serves snapshots from c while fresh and refreshes it after fetches.
func WithCache(c *Cache) FeedOption {
	return func(f *Feed) { f.cache = c }
}

// WithRetry replaces the default retry policy.
func WithRetry(p resilience.Policy) FeedOption {
	return func(f *Feed) { f.policy = p }
}

// WithClock sets the clock used to stamp snapshots that carry no fetch time.
func WithClock(clock func() time.Time) FeedOption {
	return func(f *Feed) { f.clock = clock }
}

// NewFeed wraps source.
func NewFeed(source Source, opts ...FeedOption) *Feed {
	f := &Feed{source: source, policy: resilience.DefaultPolicy(), clock: time.Now}
	for _, o := range opts {
		o(f)
	}
	if f.policy.OnRetry == nil {
		f.policy.OnRetry = resilience.LogRetry("market", source.Name())
	}
	return f
}

// GetCurrentRates returns the current normalized snapshot.
func (f *Feed) GetCurrentRates(ctx context.Context) (*model.Snapshot, error) {
	if f.cache != nil {
		snap, ok, err := f.cache.Get(ctx)
		if err != nil {
			zap.L().Warn("market: cache read failed", zap.Error(err))
		} else if ok {
			return snap, nil
		}
	}

	raw, err := resilience.DoVal(ctx, f.policy, f.source.Fetch)
	if err != nil {
		return nil, eris.Wrapf(err, "market: fetch %s", f.source.Name())
	}
	if raw.FetchedAt.IsZero() {
		raw.FetchedAt = f.clock().UTC()
	}
	if raw.Source == "" {
		raw.Source = f.source.Name()
	}
	snap := Normalize(*raw)

	zap.L().Info("market: snapshot fetched",
		zap.String("source", snap.Source),
		zap.Int("quotes", len(snap.Quotes)),
		zap.Time("fetched_at", snap.FetchedAt),
	)

	if f.cache != nil {
		if err := f.cache.Set(ctx, snap); err != nil {
			zap.L().Warn("market: cache write failed", zap.Error(err))
		}
	}
	return &snap, nil
}

// Normalize drops invalid quotes, keeps the last quote per (term, credit
// tier), lowercases tiers and sorts by term then tier.
func Normalize(snap model.Snapshot) model.Snapshot {
	byKey := make(map[string]model.RateQuote, len(snap.Quotes))
	for _, q := range snap.Quotes {
		q.CreditTier = model.NormalizeTier(q.CreditTier)
		if err := q.Validate(); err != nil {
			zap.L().Warn("market: dropping invalid quote", zap.String("source", snap.Source), zap.Error(err))
			continue
		}
		if prev, dup := byKey[q.Key()]; dup {
			zap.L().Warn("market: duplicate quote, keeping last",
				zap.String("source", snap.Source),
				zap.String("key", q.Key()),
				zap.String("dropped_rate", prev.AnnualRatePercent.String()),
			)
		}
		byKey[q.Key()] = q
	}

	out := model.Snapshot{Source: snap.Source, FetchedAt: snap.FetchedAt, Quotes: make([]model.RateQuote, 0, len(byKey))}
	for _, q := range byKey {
		out.Quotes = append(out.Quotes, q)
	}
	sort.Slice(out.Quotes, func(i, j int) bool {
		a, b := out.Quotes[i], out.Quotes[j]
		if a.TermMonths != b.TermMonths {
			return a.TermMonths < b.TermMonths
		}
		return a.CreditTier < b.CreditTier
	})
	return out
}

// formatOf maps a path or URL to a parser format by extension.
func formatOf(name string) Format {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".csv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	default:
		return FormatJSON
	}
}
