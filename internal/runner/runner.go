// Package runner drives evaluation passes: it gathers loans, alerts and the
// current rate snapshot, runs the engine, persists state changes and sends
// notifications.
package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/config"
	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/notify"
	"github.com/sells-group/refi-monitor/internal/store"
)

const propertyPage = 500

// LoanSource resolves a property's loan facts at a point in time.
type LoanSource interface {
	GetLoanFacts(ctx context.Context, propertyID string, asOf time.Time) (*model.LoanFacts, error)
}

// RateSource returns the current rate snapshot.
type RateSource interface {
	GetCurrentRates(ctx context.Context) (*model.Snapshot, error)
}

// AlertStore reads alerts and persists their state. SwapAlertState must
// refuse the change with store.ErrStale when the alert moved since it was
// listed.
type AlertStore interface {
	ListAlerts(ctx context.Context, propertyID string) ([]alert.Instance, error)
	SwapAlertState(ctx context.Context, change store.StateChange) error
}

// PropertyLister pages through properties.
type PropertyLister interface {
	ListProperties(ctx context.Context, filter store.PropertyFilter) ([]model.Property, error)
}

// DecisionRecorder appends decisions to the audit log.
type DecisionRecorder interface {
	RecordDecisions(ctx context.Context, decisions []engine.Decision) error
}

// Dispatcher turns decisions into notifications and delivers them.
type Dispatcher interface {
	Build(decisions []engine.Decision) []notify.Notification
	Dispatch(ctx context.Context, notes []notify.Notification) int
}

// Deps are the runner's collaborators. Audit and Notify are optional.
type Deps struct {
	Properties PropertyLister
	Loans      LoanSource
	Rates      RateSource
	Alerts     AlertStore
	Audit      DecisionRecorder
	Notify     Dispatcher
}

// Summary reports one pass.
type Summary struct {
	Source     string        `json:"source"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Properties int           `json:"properties"`
	Alerts     int           `json:"alerts"`
	Changed    int           `json:"changed"`
	Sounding   int           `json:"sounding"`
	Failed     int           `json:"failed"`
	Persisted  int           `json:"persisted"`
	Notified   int           `json:"notified"`
	DryRun     bool          `json:"dry_run"`
	Duration   time.Duration `json:"duration"`
	Batch      engine.Batch  `json:"batch"`
}

// Runner runs evaluation passes.
type Runner struct {
	engine  *engine.Engine
	deps    Deps
	cfg     config.RunnerConfig
	costs   engine.ClosingCostPolicy
	metrics *Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records pass metrics to m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner.
func New(eng *engine.Engine, deps Deps, cfg config.RunnerConfig, costs engine.ClosingCostPolicy, opts ...Option) *Runner {
	r := &Runner{engine: eng, deps: deps, cfg: cfg, costs: costs}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CostPolicy converts the closing cost config into an engine policy.
func CostPolicy(cfg config.ClosingCostsConfig) engine.ClosingCostPolicy {
	return engine.ClosingCostPolicy{
		Flat:    cfg.Flat,
		Percent: cfg.Percent,
	}
}

// Plan evaluates every alert without persisting anything or notifying.
func (r *Runner) Plan(ctx context.Context, now time.Time) (*Summary, error) {
	return r.pass(ctx, now, true)
}

// RunOnce evaluates every alert, saves changed states, records the
// decisions and notifies for alerts that started sounding. Per-alert
// failures are reported in the summary; only a missing snapshot or an
// unreadable property list fails the pass.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) (*Summary, error) {
	return r.pass(ctx, now, false)
}

func (r *Runner) pass(ctx context.Context, now time.Time, dryRun bool) (sum *Summary, err error) {
	start := time.Now()
	if r.cfg.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutSecs)*time.Second)
		defer cancel()
	}
	defer func() {
		if r.metrics == nil || dryRun {
			return
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		r.metrics.Passes.WithLabelValues(result).Inc()
		r.metrics.Duration.Observe(time.Since(start).Seconds())
	}()

	snap, err := r.deps.Rates.GetCurrentRates(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "runner: get current rates")
	}

	props, err := r.listProperties(ctx)
	if err != nil {
		return nil, err
	}

	jobs, failures := r.gather(ctx, props, now)
	batch := r.engine.EvaluateAll(ctx, jobs, *snap, now)
	batch.Failures = append(batch.Failures, failures...)
	sortFailures(batch.Failures)

	sum = &Summary{
		Source:     snap.Source,
		FetchedAt:  snap.FetchedAt,
		Properties: len(props),
		Alerts:     len(jobs) + len(failures),
		Failed:     len(batch.Failures),
		DryRun:     dryRun,
		Batch:      batch,
	}
	for _, d := range batch.Decisions {
		if d.Changed() {
			sum.Changed++
		}
		if d.StartedSounding() {
			sum.Sounding++
		}
	}

	if !dryRun {
		saved := r.persist(ctx, batch.Decisions, seenAt(jobs))
		sum.Persisted = len(saved)
		if r.deps.Audit != nil && len(batch.Decisions) > 0 {
			if err := r.deps.Audit.RecordDecisions(ctx, batch.Decisions); err != nil {
				zap.L().Error("runner: record decisions failed", zap.Error(err))
			}
		}
		if r.deps.Notify != nil {
			sum.Notified = r.deps.Notify.Dispatch(ctx, r.deps.Notify.Build(saved))
		}
		if r.metrics != nil {
			r.metrics.Failures.Add(float64(sum.Failed))
			r.metrics.Notifications.Add(float64(sum.Notified))
		}
	}

	sum.Duration = time.Since(start)
	zap.L().Info("runner: pass complete",
		zap.Bool("dry_run", dryRun),
		zap.String("source", sum.Source),
		zap.Int("properties", sum.Properties),
		zap.Int("alerts", sum.Alerts),
		zap.Int("changed", sum.Changed),
		zap.Int("sounding", sum.Sounding),
		zap.Int("failed", sum.Failed),
		zap.Int("notified", sum.Notified),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

func (r *Runner) listProperties(ctx context.Context) ([]model.Property, error) {
	var out []model.Property
	for offset := 0; ; offset += propertyPage {
		page, err := r.deps.Properties.ListProperties(ctx, store.PropertyFilter{Limit: propertyPage, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "runner: list properties")
		}
		out = append(out, page...)
		if len(page) < propertyPage {
			return out, nil
		}
	}
}

// gather loads loan facts and alerts per property. A property whose loan or
// alerts cannot be read turns its alerts into failures.
func (r *Runner) gather(ctx context.Context, props []model.Property, now time.Time) ([]engine.Job, []engine.Failure) {
	var (
		mu       sync.Mutex
		jobs     []engine.Job
		failures []engine.Failure
	)

	var g errgroup.Group
	g.SetLimit(max(r.cfg.Concurrency, 1))
	for _, p := range props {
		g.Go(func() error {
			alerts, err := r.deps.Alerts.ListAlerts(ctx, p.ID)
			if err != nil {
				zap.L().Warn("runner: list alerts failed", zap.String("property_id", p.ID), zap.Error(err))
				mu.Lock()
				failures = append(failures, engine.Failure{PropertyID: p.ID, Err: err, Message: err.Error()})
				mu.Unlock()
				return nil
			}
			if len(alerts) == 0 {
				return nil
			}

			loan, err := r.deps.Loans.GetLoanFacts(ctx, p.ID, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("runner: loan facts unavailable", zap.String("property_id", p.ID), zap.Error(err))
				for _, a := range alerts {
					failures = append(failures, engine.Failure{AlertID: a.ID, PropertyID: p.ID, Err: err, Message: err.Error()})
				}
				return nil
			}
			costs := r.costs.Estimate(*loan)
			for _, a := range alerts {
				jobs = append(jobs, engine.Job{Loan: *loan, Alert: a, ClosingCosts: costs})
			}
			return nil
		})
	}
	_ = g.Wait()
	return jobs, failures
}

func sortFailures(fs []engine.Failure) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].AlertID != fs[j].AlertID {
			return fs[i].AlertID < fs[j].AlertID
		}
		return fs[i].PropertyID < fs[j].PropertyID
	})
}

// seenAt indexes the updated_at each alert was read with.
func seenAt(jobs []engine.Job) map[string]time.Time {
	seen := make(map[string]time.Time, len(jobs))
	for _, j := range jobs {
		seen[j.Alert.ID] = j.Alert.UpdatedAt
	}
	return seen
}

// persist saves the state of every changed decision and returns the ones
// that were saved. A save only lands if the alert is unchanged since it was
// listed, so a snooze or acknowledgement made mid-pass wins. Unsaved
// decisions are neither notified nor counted.
func (r *Runner) persist(ctx context.Context, decisions []engine.Decision, seen map[string]time.Time) []engine.Decision {
	var saved []engine.Decision
	for _, d := range decisions {
		if !d.Changed() {
			continue
		}
		change := store.StateChange{
			AlertID: d.AlertID,
			From:    d.Transition.From,
			Seen:    seen[d.AlertID],
			To:      d.Transition.To,
			At:      d.EvaluatedAt,
		}
		if d.Transition.To == alert.StateSnoozed {
			change.SnoozeUntil = d.SnoozeUntil
		}
		if err := r.deps.Alerts.SwapAlertState(ctx, change); err != nil {
			if store.IsStale(err) {
				zap.L().Info("runner: alert changed during pass, skipping",
					zap.String("alert_id", d.AlertID),
					zap.String("from", string(d.Transition.From)),
					zap.String("to", string(d.Transition.To)),
				)
				continue
			}
			zap.L().Error("runner: save alert state failed",
				zap.String("alert_id", d.AlertID),
				zap.String("to", string(d.Transition.To)),
				zap.Error(err),
			)
			continue
		}
		if r.metrics != nil {
			r.metrics.Transitions.WithLabelValues(string(d.Transition.From), string(d.Transition.To)).Inc()
		}
		saved = append(saved, d)
	}
	return saved
}

// Run evaluates on every tick until ctx is cancelled. The first pass runs
// immediately.
func (r *Runner) Run(ctx context.Context, clock func() time.Time) {
	interval := time.Duration(r.cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	if clock == nil {
		clock = time.Now
	}

	log := zap.L().With(zap.String("component", "runner"))
	log.Info("starting evaluation loop", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx, clock().UTC()); err != nil {
			log.Error("runner: pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("evaluation loop stopped")
			return
		case <-ticker.C:
		}
	}
}
