package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/store"
	"github.com/leasebee/leasebee-cli/internal/viewer"
)

type registerLeaseRequest struct {
	FilePath         string `json:"file_path"`
	OriginalFilename string `json:"original_filename"`
}

// handleRegisterLease records a PDF that already sits on the server's disk.
func (s *Server) handleRegisterLease(w http.ResponseWriter, r *http.Request) {
	var req registerLeaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusUnprocessableEntity, "file_path is required")
		return
	}
	if !strings.EqualFold(filepath.Ext(req.FilePath), ".pdf") {
		writeError(w, http.StatusBadRequest, "Only PDF files are allowed")
		return
	}

	path, err := filepath.Abs(req.FilePath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file path")
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "File not found")
		return
	}

	lease := model.Lease{
		Filename:         filepath.Base(path),
		OriginalFilename: req.OriginalFilename,
		FilePath:         path,
		FileSize:         info.Size(),
	}
	if lease.OriginalFilename == "" {
		lease.OriginalFilename = lease.Filename
	}
	if n, err := viewer.PageCount(path); err != nil {
		s.log.Warn("page count unavailable", zap.String("path", path), zap.Error(err))
	} else {
		lease.PageCount = &n
	}

	created, err := s.store.CreateLease(r.Context(), lease)
	if err != nil {
		s.writeStoreError(w, err, "Lease not found")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListLeases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.LeaseFilter{Status: model.LeaseStatus(q.Get("status"))}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("skip")); err == nil {
		filter.Offset = v
	}

	leases, err := s.store.ListLeases(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err, "Lease not found")
		return
	}
	if leases == nil {
		leases = []model.Lease{}
	}
	writeJSON(w, http.StatusOK, leases)
}

func (s *Server) handleGetLease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "leaseID")
	if !ok {
		writeError(w, http.StatusNotFound, "Lease not found")
		return
	}
	lease, err := s.store.GetLease(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "Lease not found")
		return
	}
	writeJSON(w, http.StatusOK, lease)
}
