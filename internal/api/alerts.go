package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/template"
)

type createAlertRequest struct {
	Inputs    json.RawMessage `json:"inputs"`
	LoanTerms []int           `json:"loan_terms"`
}

type snoozeRequest struct {
	Until *time.Time `json:"until"`
	Days  int        `json:"days"`
}

type templateView struct {
	Kind          template.Kind   `json:"kind"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	UsesScenarios bool            `json:"uses_scenarios"`
	DefaultInputs json.RawMessage `json:"default_inputs"`
}

func (s *Server) listTemplates(w http.ResponseWriter, _ *http.Request) {
	all := s.engine.Catalog().All()
	out := make([]templateView, 0, len(all))
	for _, t := range all {
		raw, err := template.MarshalInputs(t.DefaultInputs)
		if err != nil {
			fail(w, err)
			return
		}
		out = append(out, templateView{
			Kind:          t.Kind,
			Title:         t.Title,
			Description:   t.Description,
			UsesScenarios: t.UsesScenarios,
			DefaultInputs: raw,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "propertyID")
	if _, err := s.store.GetProperty(r.Context(), propertyID); err != nil {
		fail(w, err)
		return
	}
	alerts, err := s.store.ListAlerts(r.Context(), propertyID)
	if err != nil {
		fail(w, err)
		return
	}
	if alerts == nil {
		alerts = []alert.Instance{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) createAlert(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "propertyID")
	var req createAlertRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Inputs) == 0 {
		writeError(w, http.StatusBadRequest, "inputs are required")
		return
	}
	inputs, err := template.UnmarshalInputs(req.Inputs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetProperty(r.Context(), propertyID); err != nil {
		fail(w, err)
		return
	}

	inst, err := alert.New(propertyID, inputs, req.LoanTerms, s.now())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.store.CreateAlert(r.Context(), inst); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	inst, err := s.store.GetAlert(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) deleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAlert(r.Context(), chi.URLParam(r, "alertID")); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) snoozeAlert(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if !decode(w, r, &req) {
		return
	}
	now := s.now()
	var until time.Time
	switch {
	case req.Until != nil:
		until = *req.Until
	case req.Days > 0:
		until = now.AddDate(0, 0, req.Days)
	default:
		writeError(w, http.StatusBadRequest, "until or days is required")
		return
	}
	s.transition(w, r, func(inst *alert.Instance) error { return inst.Snooze(until, now) })
}

func (s *Server) unsnoozeAlert(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	s.transition(w, r, func(inst *alert.Instance) error { return inst.Unsnooze(now) })
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	s.transition(w, r, func(inst *alert.Instance) error { return inst.Acknowledge(now) })
}

// transition loads an alert, applies a user action and saves the new state.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, apply func(*alert.Instance) error) {
	inst, err := s.store.GetAlert(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		fail(w, err)
		return
	}
	if err := apply(inst); err != nil {
		fail(w, err)
		return
	}
	if err := s.store.SaveAlertState(r.Context(), inst.ID, inst.State, inst.SnoozeUntil, inst.UpdatedAt); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// previewAlert evaluates one alert against the current market without
// saving anything.
func (s *Server) previewAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := s.store.GetAlert(ctx, chi.URLParam(r, "alertID"))
	if err != nil {
		fail(w, err)
		return
	}
	now := s.now()
	loan, err := s.store.GetLoanFacts(ctx, inst.PropertyID, now)
	if err != nil {
		fail(w, err)
		return
	}
	snap, err := s.snapshot(r)
	if err != nil {
		fail(w, err)
		return
	}

	d, err := s.engine.Evaluate(*loan, *inst, *snap, s.costs.Estimate(*loan), now)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) snapshot(r *http.Request) (*model.Snapshot, error) {
	if s.rates != nil {
		return s.rates.GetCurrentRates(r.Context())
	}
	return s.store.LatestSnapshot(r.Context())
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if _, err := s.store.GetAlert(r.Context(), alertID); err != nil {
		fail(w, err)
		return
	}
	ds, err := s.store.ListDecisions(r.Context(), alertID, limit)
	if err != nil {
		fail(w, err)
		return
	}
	if ds == nil {
		ds = []engine.Decision{}
	}
	writeJSON(w, http.StatusOK, ds)
}
