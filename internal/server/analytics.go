package server

import (
	"net/http"
)

func (s *Server) handleAccuracyMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.AccuracyMetrics(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "Metrics not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleFieldAccuracy lists per-field review results, weakest fields first.
func (s *Server) handleFieldAccuracy(w http.ResponseWriter, r *http.Request) {
	fields, err := s.store.FieldAccuracy(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "Metrics not found")
		return
	}
	writeJSON(w, http.StatusOK, fields)
}
