// Package store persists leases, extraction runs and reviewer corrections
// for the API server.
package store

import (
	"context"
	"errors"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/projection"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyProcessing is returned by MarkProcessing for a lease whose
	// extraction is still running.
	ErrAlreadyProcessing = errors.New("store: lease is already being processed")
)

// LeaseFilter specifies criteria for listing leases.
type LeaseFilter struct {
	Status model.LeaseStatus `json:"status,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// Store defines the persistence interface for the API server.
type Store interface {
	// Leases
	CreateLease(ctx context.Context, lease model.Lease) (*model.Lease, error)
	GetLease(ctx context.Context, id int64) (*model.Lease, error)
	ListLeases(ctx context.Context, filter LeaseFilter) ([]model.Lease, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, message string) error
	MarkCompleted(ctx context.Context, id int64, summary projection.Summary) error

	// Extractions
	CreateExtraction(ctx context.Context, ext model.Extraction) (*model.Extraction, error)
	GetExtraction(ctx context.Context, id int64) (*model.Extraction, error)
	ListExtractions(ctx context.Context, leaseID int64) ([]model.Extraction, error)

	// Corrections
	CreateCorrection(ctx context.Context, extractionID int64, c model.Correction) (*model.FieldCorrection, error)
	ListCorrections(ctx context.Context, extractionID int64) ([]model.FieldCorrection, error)

	// Analytics
	AccuracyMetrics(ctx context.Context) (*model.AccuracyMetrics, error)
	FieldAccuracy(ctx context.Context) ([]model.FieldAccuracy, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100
