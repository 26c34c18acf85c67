package runner

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/config"
	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/notify"
	"github.com/sells-group/refi-monitor/internal/store"
	"github.com/sells-group/refi-monitor/internal/template"
)

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type staticRates struct {
	snap *model.Snapshot
	err  error
}

func (s staticRates) GetCurrentRates(context.Context) (*model.Snapshot, error) {
	return s.snap, s.err
}

type recordingDispatcher struct {
	mu    sync.Mutex
	notes []notify.Notification
	inner *notify.Notifier
}

func (r *recordingDispatcher) Build(ds []engine.Decision) []notify.Notification {
	return r.inner.Build(ds)
}

func (r *recordingDispatcher) Dispatch(_ context.Context, notes []notify.Notification) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notes...)
	return len(notes)
}

// brokenLoans fails for one property and defers to the store otherwise.
type brokenLoans struct {
	LoanSource
	propertyID string
}

func (b brokenLoans) GetLoanFacts(ctx context.Context, id string, asOf time.Time) (*model.LoanFacts, error) {
	if id == b.propertyID {
		return nil, eris.New("loan servicer unavailable")
	}
	return b.LoanSource.GetLoanFacts(ctx, id, asOf)
}

// snoozeAfterList snoozes every alert right after handing it out, as a user
// acting through the API mid-pass would.
type snoozeAfterList struct {
	*store.SQLiteStore
	until time.Time
}

func (s snoozeAfterList) ListAlerts(ctx context.Context, propertyID string) ([]alert.Instance, error) {
	alerts, err := s.SQLiteStore.ListAlerts(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	for _, a := range alerts {
		until := s.until
		if err := s.SaveAlertState(ctx, a.ID, alert.StateSnoozed, &until, now.Add(-time.Second)); err != nil {
			return nil, err
		}
	}
	return alerts, nil
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "refi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seed stores a fresh 200k 30-year loan at 7% with one monthly-savings alert.
func seed(t *testing.T, st store.Store, name string, threshold string) (*model.Property, *alert.Instance) {
	t.Helper()
	ctx := context.Background()
	p, err := st.CreateProperty(ctx, model.Property{
		Name:              name,
		OriginalPrincipal: decimal.NewFromInt(200000),
		AnnualRatePercent: decimal.NewFromInt(7),
		TermMonths:        360,
		OriginationDate:   now,
		PropertyValue:     decimal.NewFromInt(260000),
	})
	require.NoError(t, err)

	a, err := alert.New(p.ID, template.MonthlySavings{Amount: decimal.RequireFromString(threshold)}, nil, now.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, st.CreateAlert(ctx, a))
	return p, a
}

func rates6() staticRates {
	return staticRates{snap: &model.Snapshot{
		Source:    "test",
		FetchedAt: now,
		Quotes:    []model.RateQuote{{TermMonths: 360, AnnualRatePercent: decimal.NewFromInt(6)}},
	}}
}

func newRunner(st store.Store, rates RateSource, disp Dispatcher, opts ...Option) *Runner {
	deps := Deps{Properties: st, Loans: st, Rates: rates, Alerts: st, Audit: st}
	if disp != nil {
		deps.Notify = disp
	}
	cfg := config.RunnerConfig{Concurrency: 4, TimeoutSecs: 30}
	return New(engine.New(), deps, cfg, CostPolicy(config.ClosingCostsConfig{Flat: decimal.NewFromInt(3000)}), opts...)
}

func TestRunOnce_TriggersPersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	_, hit := seed(t, st, "Main St", "100")
	_, miss := seed(t, st, "Oak Ave", "500")

	disp := &recordingDispatcher{inner: notify.New(config.NotifyConfig{})}
	reg := prometheus.NewRegistry()
	r := newRunner(st, rates6(), disp, WithMetrics(NewMetrics(reg)))

	sum, err := r.RunOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Properties)
	assert.Equal(t, 2, sum.Alerts)
	assert.Equal(t, 1, sum.Changed)
	assert.Equal(t, 1, sum.Sounding)
	assert.Equal(t, 1, sum.Persisted)
	assert.Equal(t, 1, sum.Notified)
	assert.Zero(t, sum.Failed)

	got, err := st.GetAlert(ctx, hit.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StateSounding, got.State)
	got, err = st.GetAlert(ctx, miss.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StateActive, got.State)

	require.Len(t, disp.notes, 1)
	assert.Equal(t, hit.ID, disp.notes[0].AlertID)
	require.NotNil(t, disp.notes[0].Scenario)
	assert.Equal(t, "131.5", disp.notes[0].Scenario.MonthlySavings.String())

	audit, err := st.ListDecisions(ctx, hit.ID, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, alert.StateSounding, audit[0].Transition.To)

	assert.InDelta(t, 1, testutil.ToFloat64(r.metrics.Passes.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.metrics.Transitions.WithLabelValues("active", "sounding")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.metrics.Notifications), 0)

	// A second pass with the same market is a no-op for state and notifications.
	sum, err = r.RunOnce(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sum.Changed)
	assert.Zero(t, sum.Notified)
	assert.Len(t, disp.notes, 1)
}

func TestPlan_DoesNotPersist(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	_, a := seed(t, st, "Main St", "100")
	disp := &recordingDispatcher{inner: notify.New(config.NotifyConfig{})}

	sum, err := newRunner(st, rates6(), disp).Plan(ctx, now)
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Equal(t, 1, sum.Sounding)
	assert.Zero(t, sum.Persisted)
	assert.Empty(t, disp.notes)

	got, err := st.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StateActive, got.State)
	audit, err := st.ListDecisions(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestRunOnce_LoanFailureIsPerProperty(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	broken, brokenAlert := seed(t, st, "Broken", "100")
	_, ok := seed(t, st, "Fine", "100")

	r := newRunner(st, rates6(), nil)
	r.deps.Loans = brokenLoans{LoanSource: st, propertyID: broken.ID}

	sum, err := r.RunOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Alerts)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Batch.Failures, 1)
	assert.Equal(t, brokenAlert.ID, sum.Batch.Failures[0].AlertID)
	assert.Contains(t, sum.Batch.Failures[0].Message, "loan servicer unavailable")

	got, err := st.GetAlert(ctx, brokenAlert.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StateActive, got.State)
	got, err = st.GetAlert(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StateSounding, got.State)
}

func TestRunOnce_SnoozedAlertUntouched(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	_, a := seed(t, st, "Main St", "100")
	until := now.Add(48 * time.Hour)
	require.NoError(t, st.SaveAlertState(ctx, a.ID, alert.StateSnoozed, &until, now.Add(-time.Minute)))

	sum, err := newRunner(st, rates6(), nil).RunOnce(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, sum.Changed)
	require.Len(t, sum.Batch.Decisions, 1)
	assert.Equal(t, engine.ReasonSnoozed, sum.Batch.Decisions[0].Transition.Reason)

	got, err := st.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StateSnoozed, got.State)
	require.NotNil(t, got.SnoozeUntil)
	assert.True(t, until.Equal(*got.SnoozeUntil))
}

func TestRunOnce_SnoozeDuringPassWins(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	_, a := seed(t, st, "Main St", "100")
	until := now.Add(72 * time.Hour)

	disp := &recordingDispatcher{inner: notify.New(config.NotifyConfig{})}
	deps := Deps{
		Properties: st,
		Loans:      st,
		Rates:      rates6(),
		Alerts:     snoozeAfterList{SQLiteStore: st, until: until},
		Audit:      st,
		Notify:     disp,
	}
	r := New(engine.New(), deps, config.RunnerConfig{Concurrency: 2}, CostPolicy(config.ClosingCostsConfig{Flat: decimal.NewFromInt(3000)}))

	sum, err := r.RunOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sounding)
	assert.Zero(t, sum.Persisted)
	assert.Zero(t, sum.Notified)
	assert.Empty(t, disp.notes)

	got, err := st.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StateSnoozed, got.State)
	require.NotNil(t, got.SnoozeUntil)
	assert.True(t, until.Equal(*got.SnoozeUntil))
}

func TestRunOnce_RatesUnavailable(t *testing.T) {
	st := newStore(t)
	seed(t, st, "Main St", "100")
	reg := prometheus.NewRegistry()
	r := newRunner(st, staticRates{err: eris.New("feed down")}, nil, WithMetrics(NewMetrics(reg)))

	_, err := r.RunOnce(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed down")
	assert.InDelta(t, 1, testutil.ToFloat64(r.metrics.Passes.WithLabelValues("error")), 0)
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	var passes int
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		passes++
		cancel()
		return now
	}

	done := make(chan struct{})
	go func() {
		newRunner(st, rates6(), nil).Run(ctx, clock)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, passes)
}

func TestCostPolicy(t *testing.T) {
	p := CostPolicy(config.ClosingCostsConfig{Flat: decimal.NewFromInt(1500), Percent: decimal.NewFromInt(1)})
	got := p.Estimate(model.LoanFacts{Balance: decimal.NewFromInt(200000)})
	assert.Equal(t, "3500", got.String())
}
