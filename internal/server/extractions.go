package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/projection"
	"github.com/leasebee/leasebee-cli/internal/store"
)

// handleExtract runs the extraction pipeline for a lease synchronously. The
// lease id doubles as the progress operation id.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	leaseID, ok := pathID(r, "leaseID")
	if !ok {
		writeError(w, http.StatusNotFound, "Lease not found")
		return
	}
	if s.extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "No extractor configured")
		return
	}

	// Finish the run even if the caller goes away; pollers read the result.
	ctx := context.WithoutCancel(r.Context())

	ext, status, err := s.runExtraction(ctx, leaseID)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ext)
}

type pipelineError struct {
	msg string
}

func (e *pipelineError) Error() string { return e.msg }

func (s *Server) runExtraction(ctx context.Context, leaseID int64) (*model.Extraction, int, error) {
	opID := strconv.FormatInt(leaseID, 10)
	log := s.log.With(zap.Int64("lease_id", leaseID))

	lease, err := s.store.GetLease(ctx, leaseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, http.StatusNotFound, &pipelineError{"Lease not found"}
	}
	if err != nil {
		log.Error("load lease", zap.Error(err))
		return nil, http.StatusInternalServerError, &pipelineError{"Internal server error"}
	}

	if err := s.store.MarkProcessing(ctx, leaseID); err != nil {
		if errors.Is(err, store.ErrAlreadyProcessing) {
			return nil, http.StatusBadRequest, &pipelineError{"Lease is already being processed"}
		}
		log.Error("mark processing", zap.Error(err))
		return nil, http.StatusInternalServerError, &pipelineError{"Internal server error"}
	}

	tr := s.trackers.Create(opID)
	fail := func(err error) (*model.Extraction, int, error) {
		raw := eris.Cause(err).Error()
		log.Warn("extraction failed", zap.String("error", raw))
		if mErr := s.store.MarkFailed(ctx, leaseID, raw); mErr != nil {
			log.Error("mark failed", zap.Error(mErr))
		}
		s.trackers.Remove(opID)
		return nil, http.StatusInternalServerError, &pipelineError{"Extraction failed: " + raw}
	}

	tr.Advance(model.StageExtractingText)
	tr.Advance(model.StageAnalyzing)
	result, err := s.extractor.Extract(ctx, *lease)
	if err != nil {
		return fail(err)
	}

	tr.Advance(model.StageParsing)
	result.LeaseID = leaseID
	if result.Extractions == nil {
		result.Extractions = map[string]any{}
	}
	clampConfidence(result.Confidence)

	tr.Advance(model.StageValidating)
	fields := projection.Project(s.schema.Fields, result)
	summary := projection.Summarize(fields)
	summary.Average = round4(summary.Average)
	summary.Minimum = round4(summary.Minimum)

	tr.Advance(model.StageSaving)
	ext, err := s.store.CreateExtraction(ctx, *result)
	if err != nil {
		return fail(err)
	}
	if err := s.store.MarkCompleted(ctx, leaseID, summary); err != nil {
		return fail(err)
	}

	tr.Complete()
	s.trackers.RemoveAfter(opID, s.trackerTTL)
	log.Info("extraction complete",
		zap.Int64("extraction_id", ext.ID),
		zap.Int("fields", summary.Count),
		zap.Float64("avg_confidence", summary.Average),
		zap.Int("low_confidence", summary.LowConfidence),
	)
	return ext, http.StatusCreated, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func clampConfidence(m map[string]float64) {
	for k, v := range m {
		switch {
		case v < 0:
			m[k] = 0
		case v > 1:
			m[k] = 1
		}
	}
}

func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	leaseID, ok := pathID(r, "leaseID")
	if !ok {
		writeError(w, http.StatusNotFound, "Lease not found")
		return
	}
	if _, err := s.store.GetLease(r.Context(), leaseID); err != nil {
		s.writeStoreError(w, err, "Lease not found")
		return
	}
	list, err := s.store.ListExtractions(r.Context(), leaseID)
	if err != nil {
		s.writeStoreError(w, err, "Lease not found")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "extractionID")
	if !ok {
		writeError(w, http.StatusNotFound, "Extraction not found")
		return
	}
	ext, err := s.store.GetExtraction(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "Extraction not found")
		return
	}
	writeJSON(w, http.StatusOK, ext)
}

// handleProgress answers 404 when the operation is not tracked, either
// because it has not started or because its record has expired.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	tr, ok := s.trackers.Get(chi.URLParam(r, "operationID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Progress not found")
		return
	}
	writeJSON(w, http.StatusOK, tr.Snapshot())
}

func (s *Server) handleCreateCorrection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "extractionID")
	if !ok {
		writeError(w, http.StatusNotFound, "Extraction not found")
		return
	}

	var c model.Correction
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if c.FieldPath == "" {
		writeError(w, http.StatusUnprocessableEntity, "field_path is required")
		return
	}
	switch c.CorrectionType {
	case model.CorrectionAccept, model.CorrectionReject, model.CorrectionEdit:
	default:
		writeError(w, http.StatusUnprocessableEntity, "correction_type must be accept, reject or edit")
		return
	}

	if _, err := s.store.GetExtraction(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "Extraction not found")
		return
	}
	fc, err := s.store.CreateCorrection(r.Context(), id, c)
	if err != nil {
		s.writeStoreError(w, err, "Extraction not found")
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handleListCorrections(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "extractionID")
	if !ok {
		writeError(w, http.StatusNotFound, "Extraction not found")
		return
	}
	list, err := s.store.ListCorrections(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "Extraction not found")
		return
	}
	writeJSON(w, http.StatusOK, list)
}
