package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/store"
)

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type testAPI struct {
	t        *testing.T
	srv      *httptest.Server
	store    *store.SQLiteStore
	uploaded int
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	ta := &testAPI{t: t, store: st}
	costs := engine.ClosingCostPolicy{Flat: decimal.NewFromInt(3000)}
	s := New(st, engine.New(), nil, costs,
		WithClock(func() time.Time { return now }),
		WithSnapshotHook(func(context.Context, model.Snapshot) { ta.uploaded++ }),
	)
	ta.srv = httptest.NewServer(s.Handler())
	t.Cleanup(ta.srv.Close)
	return ta
}

func (ta *testAPI) do(method, path, contentType string, body string) (*http.Response, []byte) {
	ta.t.Helper()
	req, err := http.NewRequest(method, ta.srv.URL+path, strings.NewReader(body))
	require.NoError(ta.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ta.t, err)
	defer resp.Body.Close() //nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	require.NoError(ta.t, err)
	return resp, data
}

func (ta *testAPI) json(method, path string, body any, out any) int {
	ta.t.Helper()
	var payload string
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ta.t, err)
		payload = string(b)
	}
	resp, data := ta.do(method, path, "application/json", payload)
	if out != nil && len(data) > 0 {
		require.NoError(ta.t, json.Unmarshal(data, out), string(data))
	}
	return resp.StatusCode
}

func (ta *testAPI) createProperty() model.Property {
	ta.t.Helper()
	var p model.Property
	code := ta.json(http.MethodPost, "/properties", map[string]any{
		"owner_id":            "owner-1",
		"name":                "Main St",
		"original_principal":  "200000",
		"annual_rate_percent": "7",
		"term_months":         360,
		"origination_date":    now.Format(time.RFC3339),
		"property_value":      "260000",
	}, &p)
	require.Equal(ta.t, http.StatusCreated, code)
	require.NotEmpty(ta.t, p.ID)
	return p
}

func (ta *testAPI) createAlert(propertyID, inputs string) alert.Instance {
	ta.t.Helper()
	var inst alert.Instance
	code := ta.json(http.MethodPost, "/properties/"+propertyID+"/alerts",
		map[string]any{"inputs": json.RawMessage(inputs)}, &inst)
	require.Equal(ta.t, http.StatusCreated, code)
	return inst
}

func (ta *testAPI) uploadRates(csv string) {
	ta.t.Helper()
	resp, body := ta.do(http.MethodPost, "/rates", "text/csv", csv)
	require.Equal(ta.t, http.StatusCreated, resp.StatusCode, string(body))
}

func TestHealthAndMetrics(t *testing.T) {
	ta := newTestAPI(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/health", nil, &body))
	assert.Equal(t, "ok", body["status"])

	resp, data := ta.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestTemplates(t *testing.T) {
	ta := newTestAPI(t)
	var views []templateView
	require.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/templates", nil, &views))
	require.Len(t, views, 6)
	for _, v := range views {
		assert.NotEmpty(t, v.Title)
		assert.Contains(t, string(v.DefaultInputs), `"kind":"`+string(v.Kind)+`"`)
	}
}

func TestPropertyCRUD(t *testing.T) {
	ta := newTestAPI(t)
	p := ta.createProperty()

	var got model.Property
	require.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/properties/"+p.ID, nil, &got))
	assert.Equal(t, "Main St", got.Name)

	var list []model.Property
	require.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/properties?owner_id=owner-1", nil, &list))
	assert.Len(t, list, 1)
	require.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/properties?owner_id=nobody", nil, &list))
	assert.Empty(t, list)

	got.Name = "Main Street"
	var updated model.Property
	require.Equal(t, http.StatusOK, ta.json(http.MethodPut, "/properties/"+p.ID, got, &updated))
	assert.Equal(t, "Main Street", updated.Name)

	var facts model.LoanFacts
	require.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/properties/"+p.ID+"/loan", nil, &facts))
	assert.Equal(t, "1330.6", facts.MonthlyPayment.String())

	assert.Equal(t, http.StatusNoContent, ta.json(http.MethodDelete, "/properties/"+p.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, ta.json(http.MethodGet, "/properties/"+p.ID, nil, nil))
}

func TestPropertyErrors(t *testing.T) {
	ta := newTestAPI(t)

	var e errorBody
	assert.Equal(t, http.StatusUnprocessableEntity, ta.json(http.MethodPost, "/properties",
		map[string]any{"name": "No Term", "original_principal": "1000"}, &e))
	assert.Contains(t, e.Error, "term must be positive")

	resp, _ := ta.do(http.MethodPost, "/properties", "application/json", `{"bogus": 1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, http.StatusBadRequest, ta.json(http.MethodGet, "/properties?limit=-1", nil, nil))
	assert.Equal(t, http.StatusNotFound, ta.json(http.MethodPut, "/properties/missing",
		map[string]any{"name": "x", "original_principal": "1", "term_months": 12}, nil))
}

func TestAlertLifecycle(t *testing.T) {
	ta := newTestAPI(t)
	p := ta.createProperty()
	inst := ta.createAlert(p.ID, `{"kind":"monthly-savings","amount":"100"}`)
	assert.Equal(t, alert.StateActive, inst.State)

	var list []alert.Instance
	require.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/properties/"+p.ID+"/alerts", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, inst.ID, list[0].ID)

	// Acknowledge is only valid while sounding.
	var e errorBody
	assert.Equal(t, http.StatusConflict, ta.json(http.MethodPost, "/alerts/"+inst.ID+"/acknowledge", nil, &e))

	var snoozed alert.Instance
	require.Equal(t, http.StatusOK, ta.json(http.MethodPost, "/alerts/"+inst.ID+"/snooze", map[string]int{"days": 7}, &snoozed))
	assert.Equal(t, alert.StateSnoozed, snoozed.State)
	require.NotNil(t, snoozed.SnoozeUntil)
	assert.True(t, now.AddDate(0, 0, 7).Equal(*snoozed.SnoozeUntil))

	var stored alert.Instance
	require.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/alerts/"+inst.ID, nil, &stored))
	assert.Equal(t, alert.StateSnoozed, stored.State)

	var active alert.Instance
	require.Equal(t, http.StatusOK, ta.json(http.MethodPost, "/alerts/"+inst.ID+"/unsnooze", nil, &active))
	assert.Equal(t, alert.StateActive, active.State)
	assert.Nil(t, active.SnoozeUntil)

	assert.Equal(t, http.StatusConflict, ta.json(http.MethodPost, "/alerts/"+inst.ID+"/snooze",
		map[string]any{"until": now.Add(-time.Hour)}, nil))
	assert.Equal(t, http.StatusBadRequest, ta.json(http.MethodPost, "/alerts/"+inst.ID+"/snooze", map[string]any{}, nil))

	assert.Equal(t, http.StatusNoContent, ta.json(http.MethodDelete, "/alerts/"+inst.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, ta.json(http.MethodGet, "/alerts/"+inst.ID, nil, nil))
}

func TestCreateAlertErrors(t *testing.T) {
	ta := newTestAPI(t)
	p := ta.createProperty()

	assert.Equal(t, http.StatusBadRequest, ta.json(http.MethodPost, "/properties/"+p.ID+"/alerts",
		map[string]any{"inputs": json.RawMessage(`{"kind":"nope"}`)}, nil))
	assert.Equal(t, http.StatusBadRequest, ta.json(http.MethodPost, "/properties/"+p.ID+"/alerts",
		map[string]any{}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, ta.json(http.MethodPost, "/properties/"+p.ID+"/alerts",
		map[string]any{"inputs": json.RawMessage(`{"kind":"break-even","months":0}`)}, nil))
	assert.Equal(t, http.StatusNotFound, ta.json(http.MethodPost, "/properties/missing/alerts",
		map[string]any{"inputs": json.RawMessage(`{"kind":"break-even","months":24}`)}, nil))
}

func TestRatesAndPreview(t *testing.T) {
	ta := newTestAPI(t)
	p := ta.createProperty()
	inst := ta.createAlert(p.ID, `{"kind":"monthly-savings","amount":"100"}`)

	// No snapshot yet.
	assert.Equal(t, http.StatusNotFound, ta.json(http.MethodGet, "/rates", nil, nil))
	assert.Equal(t, http.StatusNotFound, ta.json(http.MethodPost, "/alerts/"+inst.ID+"/evaluate", nil, nil))

	ta.uploadRates("term,rate\n360,6.5\n360,6\n180,5.5\n")
	assert.Equal(t, 1, ta.uploaded)

	var snap model.Snapshot
	require.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/rates", nil, &snap))
	assert.Equal(t, "upload", snap.Source)
	require.Len(t, snap.Quotes, 2)

	var d engine.Decision
	require.Equal(t, http.StatusOK, ta.json(http.MethodPost, "/alerts/"+inst.ID+"/evaluate", nil, &d))
	assert.True(t, d.Triggered)
	assert.Equal(t, alert.StateSounding, d.Transition.To)
	require.NotNil(t, d.Scenario)

	// Preview does not persist.
	var stored alert.Instance
	require.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/alerts/"+inst.ID, nil, &stored))
	assert.Equal(t, alert.StateActive, stored.State)

	var ds []engine.Decision
	require.Equal(t, http.StatusOK, ta.json(http.MethodGet, "/alerts/"+inst.ID+"/decisions", nil, &ds))
	assert.Empty(t, ds)
}

func TestUploadRatesErrors(t *testing.T) {
	ta := newTestAPI(t)

	resp, _ := ta.do(http.MethodPost, "/rates", "application/pdf", "x")
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp, _ = ta.do(http.MethodPost, "/rates", "text/csv", "rate\n6\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ta.do(http.MethodPost, "/rates", "application/json", `{"quotes":[{"term_months":0,"annual_rate_percent":6}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Zero(t, ta.uploaded)
}

func TestUploadRatesYAML(t *testing.T) {
	ta := newTestAPI(t)
	body := "source: lender\nquotes:\n  - term_months: 360\n    annual_rate_percent: 6.25\n"
	resp, data := ta.do(http.MethodPost, "/rates", "application/yaml; charset=utf-8", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var out struct {
		ID       string         `json:"id"`
		Snapshot model.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(bytes.NewReader(data)).Decode(&out))
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "lender", out.Snapshot.Source)
	assert.True(t, now.Equal(out.Snapshot.FetchedAt))
}

func TestCORSPreflight(t *testing.T) {
	ta := newTestAPI(t)
	req, err := http.NewRequest(http.MethodOptions, ta.srv.URL+"/properties", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
