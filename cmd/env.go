package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/market"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/notify"
	"github.com/sells-group/refi-monitor/internal/resilience"
	"github.com/sells-group/refi-monitor/internal/runner"
	"github.com/sells-group/refi-monitor/internal/store"
)

// storeSource is the market.source value that evaluates against the latest
// imported snapshot instead of fetching one.
const storeSource = "store"

// monitorEnv holds the store, rate feed and cache needed by the evaluate,
// schedule and serve commands.
type monitorEnv struct {
	Store  store.Store
	Rates  runner.RateSource
	Cache  *market.Cache // may be nil
	Engine *engine.Engine

	closers []func()
}

// Close releases resources held by the environment.
func (me *monitorEnv) Close() {
	for i := len(me.closers) - 1; i >= 0; i-- {
		me.closers[i]()
	}
	if me.Store != nil {
		_ = me.Store.Close()
	}
}

// initMonitor opens and migrates the store and builds the rate feed.
// Callers should defer env.Close().
func initMonitor(ctx context.Context, mode string) (*monitorEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	me := &monitorEnv{
		Store:  st,
		Engine: engine.New(engine.WithConcurrency(cfg.Runner.Concurrency)),
	}

	cache, closeCache, err := initCache(ctx)
	if err != nil {
		me.Close()
		return nil, err
	}
	if cache != nil {
		me.Cache = cache
		me.closers = append(me.closers, closeCache)
	}

	if cfg.Market.Source == storeSource {
		me.Rates = storedRates{st: st}
	} else {
		src, err := market.Open(cfg.Market.Source, marketOptions())
		if err != nil {
			me.Close()
			return nil, eris.Wrap(err, "open rate source")
		}
		me.Rates = newFeed(src, cache)
	}

	zap.L().Info("monitor initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("rates", cfg.Market.Source),
		zap.Bool("cache", cache != nil),
	)
	return me, nil
}

// Runner builds a runner over the environment. Metrics are registered with
// reg when it is non-nil.
func (me *monitorEnv) Runner(reg prometheus.Registerer) *runner.Runner {
	deps := runner.Deps{
		Properties: me.Store,
		Loans:      me.Store,
		Rates:      me.Rates,
		Alerts:     me.Store,
		Audit:      me.Store,
	}
	if n := notify.New(cfg.Notify); n.Enabled() {
		deps.Notify = n
	}

	var opts []runner.Option
	if reg != nil {
		opts = append(opts, runner.WithMetrics(runner.NewMetrics(reg)))
	}
	return runner.New(me.Engine, deps, cfg.Runner, runner.CostPolicy(cfg.ClosingCosts), opts...)
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCache connects to Redis when redis.addr is set. It returns a nil cache
// otherwise.
func initCache(ctx context.Context) (*market.Cache, func(), error) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}, nil
	}
	client, err := market.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, eris.Wrap(err, "init redis")
	}
	ttl := time.Duration(cfg.Redis.CacheTTLSecs) * time.Second
	return market.NewCache(client, cfg.Redis.Key, ttl), func() { _ = client.Close() }, nil
}

func marketOptions() market.Options {
	timeout := time.Duration(cfg.Market.TimeoutSecs) * time.Second
	return market.Options{
		HTTP: market.HTTPOptions{
			Timeout:           timeout,
			RequestsPerSecond: cfg.Market.RequestsPerSecond,
		},
		FTP: market.FTPOptions{
			Timeout:  timeout,
			User:     cfg.Market.FTPUser,
			Password: cfg.Market.FTPPassword,
		},
	}
}

func newFeed(src market.Source, cache *market.Cache) *market.Feed {
	opts := []market.FeedOption{
		market.WithRetry(resilience.PolicyFromConfig(cfg.Market.MaxRetries, cfg.Market.RetryBaseDelayMs, 0)),
	}
	if cache != nil {
		opts = append(opts, market.WithCache(cache))
	}
	return market.NewFeed(src, opts...)
}

// storedRates serves the latest imported snapshot.
type storedRates struct {
	st store.Store
}

func (s storedRates) GetCurrentRates(ctx context.Context) (*model.Snapshot, error) {
	return s.st.LatestSnapshot(ctx)
}
