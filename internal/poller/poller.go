// Package poller follows a running extraction until its record can be loaded.
package poller

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/pkg/leasebee"
)

const (
	DefaultInterval       = time.Second
	DefaultStatusInterval = 2 * time.Second
	DefaultGrace          = time.Second
)

// Phase is the consumer-facing state of a polled extraction.
type Phase string

const (
	PhaseExtracting Phase = "extracting"
	PhaseLoading    Phase = "loading"
	PhaseReady      Phase = "ready"
)

// Source is the subset of the API the poller reads from.
type Source interface {
	GetProgress(ctx context.Context, operationID string) (*model.ProgressDetail, error)
	GetLease(ctx context.Context, leaseID int64) (*model.Lease, error)
	ListExtractions(ctx context.Context, leaseID int64) ([]model.Extraction, error)
}

// Handlers receive poller events. Both fields are optional. Handlers are
// called from the Run goroutine and never after the context is done.
type Handlers struct {
	OnProgress func(model.ProgressDetail)
	OnPhase    func(Phase)
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the progress polling interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithStatusInterval sets how often the lease status is checked directly.
func WithStatusInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.statusInterval = d
		}
	}
}

// WithGrace sets the delay between a completed progress record and loading
// the extraction.
func WithGrace(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.grace = d
		}
	}
}

// WithBaseline ignores extractions with an id at or below extractionID. Use
// it when re-extracting a lease that already has results.
func WithBaseline(extractionID int64) Option {
	return func(p *Poller) {
		p.baseline = extractionID
	}
}

// WithHandlers registers event callbacks.
func WithHandlers(h Handlers) Option {
	return func(p *Poller) {
		p.handlers = h
	}
}

// Poller watches one lease. A Poller is single-use.
type Poller struct {
	src            Source
	leaseID        int64
	interval       time.Duration
	statusInterval time.Duration
	grace          time.Duration
	baseline       int64
	handlers       Handlers

	phase Phase
	log   *zap.Logger
}

// New creates a Poller for leaseID.
func New(src Source, leaseID int64, opts ...Option) *Poller {
	p := &Poller{
		src:            src,
		leaseID:        leaseID,
		interval:       DefaultInterval,
		statusInterval: DefaultStatusInterval,
		grace:          DefaultGrace,
		log:            zap.L().With(zap.String("component", "poller"), zap.Int64("lease_id", leaseID)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Phase returns the current phase.
func (p *Poller) Phase() Phase {
	return p.phase
}

// Run polls until the extraction record is fetched, the lease reports a
// failure, or ctx is done. A failure is returned as *ExtractionFailedError.
func (p *Poller) Run(ctx context.Context) (*model.Extraction, error) {
	p.setPhase(ctx, PhaseExtracting)

	progressTick := time.NewTicker(p.interval)
	defer progressTick.Stop()
	statusTick := time.NewTicker(p.statusInterval)
	defer statusTick.Stop()

	var graceC <-chan time.Time

	for {
		if p.phase == PhaseLoading {
			if ext := p.fetchExtraction(ctx); ext != nil {
				p.setPhase(ctx, PhaseReady)
				return ext, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-graceC:
			graceC = nil
			p.setPhase(ctx, PhaseLoading)

		case <-statusTick.C:
			// Keep checking while loading: a re-extraction can fail after
			// the previous run's completed status moved us here.
			done, err := p.checkStatus(ctx)
			if err != nil {
				return nil, err
			}
			if done && p.phase == PhaseExtracting {
				graceC = nil
				p.setPhase(ctx, PhaseLoading)
			}

		case <-progressTick.C:
			if p.phase != PhaseExtracting || graceC != nil {
				continue
			}
			sig, err := p.checkProgress(ctx)
			if err != nil {
				return nil, err
			}
			switch sig {
			case signalGrace:
				graceC = time.After(p.grace)
			case signalLoad:
				p.setPhase(ctx, PhaseLoading)
			}
		}
	}
}

type signal int

const (
	signalNone signal = iota
	signalGrace
	signalLoad
)

func (p *Poller) checkProgress(ctx context.Context) (signal, error) {
	detail, err := p.src.GetProgress(ctx, strconv.FormatInt(p.leaseID, 10))
	if err != nil {
		if !leasebee.IsNotFound(err) {
			p.log.Debug("progress fetch failed", zap.Error(err))
			return signalNone, nil
		}
		// Not tracked yet or already finished.
		done, err := p.checkStatus(ctx)
		if err != nil {
			return signalNone, err
		}
		if done || p.extractionExists(ctx) {
			return signalLoad, nil
		}
		return signalNone, nil
	}

	p.emitProgress(ctx, *detail)
	if detail.Complete() {
		return signalGrace, nil
	}
	return signalNone, nil
}

// checkStatus reports whether the lease finished. A failed lease becomes an
// *ExtractionFailedError. Fetch errors are swallowed.
func (p *Poller) checkStatus(ctx context.Context) (bool, error) {
	lease, err := p.src.GetLease(ctx, p.leaseID)
	if err != nil {
		p.log.Debug("lease status fetch failed", zap.Error(err))
		return false, nil
	}
	switch lease.Status {
	case model.LeaseStatusFailed:
		if ctx.Err() != nil {
			return false, nil
		}
		return false, newFailure(p.leaseID, lease.ErrorMessage)
	case model.LeaseStatusCompleted, model.LeaseStatusReviewed:
		return true, nil
	default:
		return false, nil
	}
}

func (p *Poller) extractionExists(ctx context.Context) bool {
	return p.fetchExtraction(ctx) != nil
}

// fetchExtraction returns the newest extraction newer than the baseline.
func (p *Poller) fetchExtraction(ctx context.Context) *model.Extraction {
	list, err := p.src.ListExtractions(ctx, p.leaseID)
	if err != nil {
		p.log.Debug("extraction fetch failed", zap.Error(err))
		return nil
	}
	for i := range list {
		if list[i].ID > p.baseline {
			ext := list[i]
			return &ext
		}
	}
	return nil
}

func (p *Poller) setPhase(ctx context.Context, phase Phase) {
	if p.phase == phase {
		return
	}
	p.phase = phase
	if ctx.Err() == nil && p.handlers.OnPhase != nil {
		p.handlers.OnPhase(phase)
	}
}

func (p *Poller) emitProgress(ctx context.Context, d model.ProgressDetail) {
	if ctx.Err() == nil && p.handlers.OnProgress != nil {
		p.handlers.OnProgress(d)
	}
}
