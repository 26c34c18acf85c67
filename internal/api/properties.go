package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/store"
)

func (s *Server) listProperties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PropertyFilter{OwnerID: q.Get("owner_id")}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
	}

	props, err := s.store.ListProperties(r.Context(), filter)
	if err != nil {
		fail(w, err)
		return
	}
	if props == nil {
		props = []model.Property{}
	}
	writeJSON(w, http.StatusOK, props)
}

func (s *Server) createProperty(w http.ResponseWriter, r *http.Request) {
	var p model.Property
	if !decode(w, r, &p) {
		return
	}
	p.ID = ""
	created, err := s.store.CreateProperty(r.Context(), p)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getProperty(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProperty(r.Context(), chi.URLParam(r, "propertyID"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProperty(w http.ResponseWriter, r *http.Request) {
	var p model.Property
	if !decode(w, r, &p) {
		return
	}
	p.ID = chi.URLParam(r, "propertyID")
	if err := s.store.UpdateProperty(r.Context(), p); err != nil {
		fail(w, err)
		return
	}
	updated, err := s.store.GetProperty(r.Context(), p.ID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteProperty(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProperty(r.Context(), chi.URLParam(r, "propertyID")); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getLoanFacts(w http.ResponseWriter, r *http.Request) {
	facts, err := s.store.GetLoanFacts(r.Context(), chi.URLParam(r, "propertyID"), s.now())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, facts)
}
