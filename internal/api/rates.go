package api

import (
	"mime"
	"net/http"

	"github.com/sells-group/refi-monitor/internal/market"
)

func (s *Server) getRates(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.LatestSnapshot(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// uploadFormats maps request content types onto rate sheet formats.
var uploadFormats = map[string]market.Format{
	"application/json":   market.FormatJSON,
	"application/yaml":   market.FormatYAML,
	"application/x-yaml": market.FormatYAML,
	"text/yaml":          market.FormatYAML,
	"text/csv":           market.FormatCSV,
	xlsxMIME:             market.FormatXLSX,
}

func (s *Server) uploadRates(w http.ResponseWriter, r *http.Request) {
	format := market.FormatJSON
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		f, ok := uploadFormats[mt]
		if err != nil || !ok {
			writeError(w, http.StatusUnsupportedMediaType, "unsupported content type "+ct)
			return
		}
		format = f
	}

	raw, err := market.Parse(r.Context(), http.MaxBytesReader(w, r.Body, 10<<20), format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if raw.Source == "" {
		raw.Source = "upload"
	}
	if raw.FetchedAt.IsZero() {
		raw.FetchedAt = s.now()
	}
	snap := market.Normalize(*raw)
	if len(snap.Quotes) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "snapshot has no valid quotes")
		return
	}

	id, err := s.store.SaveSnapshot(r.Context(), snap)
	if err != nil {
		fail(w, err)
		return
	}
	if s.onUpload != nil {
		s.onUpload(r.Context(), snap)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "snapshot": snap})
}
