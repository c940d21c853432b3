package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/projection"
)

// MemoryStore is an in-process Store for local runs without a database.
// Records are deep-copied on the way in and out.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	leases      map[int64]model.Lease
	extractions map[int64]model.Extraction
	corrections map[int64][]model.FieldCorrection
	nextID      int64
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		leases:      map[int64]model.Lease{},
		extractions: map[int64]model.Extraction{},
		corrections: map[int64][]model.FieldCorrection{},
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) CreateLease(_ context.Context, lease model.Lease) (*model.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	lease.ID = m.id()
	if lease.Status == "" {
		lease.Status = model.LeaseStatusUploaded
	}
	lease.CreatedAt = now
	lease.UpdatedAt = now
	m.leases[lease.ID] = lease
	out := lease
	return &out, nil
}

func (m *MemoryStore) GetLease(_ context.Context, id int64) (*model.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: lease %d", id)
	}
	return &l, nil
}

func (m *MemoryStore) ListLeases(_ context.Context, filter LeaseFilter) ([]model.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Lease
	for _, l := range m.leases {
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) update(id int64, fn func(*model.Lease) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[id]
	if !ok {
		return eris.Wrapf(ErrNotFound, "memory: lease %d", id)
	}
	if err := fn(&l); err != nil {
		return err
	}
	l.UpdatedAt = m.now().UTC()
	m.leases[id] = l
	return nil
}

func (m *MemoryStore) MarkProcessing(_ context.Context, id int64) error {
	return m.update(id, func(l *model.Lease) error {
		if l.Status == model.LeaseStatusProcessing {
			return eris.Wrapf(ErrAlreadyProcessing, "memory: lease %d", id)
		}
		l.Status = model.LeaseStatusProcessing
		l.ErrorMessage = ""
		return nil
	})
}

func (m *MemoryStore) MarkFailed(_ context.Context, id int64, message string) error {
	return m.update(id, func(l *model.Lease) error {
		l.Status = model.LeaseStatusFailed
		l.ErrorMessage = message
		return nil
	})
}

func (m *MemoryStore) MarkCompleted(_ context.Context, id int64, summary projection.Summary) error {
	return m.update(id, func(l *model.Lease) error {
		now := m.now().UTC()
		avg, minimum, low := summary.Average, summary.Minimum, summary.LowConfidence
		l.Status = model.LeaseStatusCompleted
		l.ErrorMessage = ""
		l.AvgConfidence = &avg
		l.MinConfidence = &minimum
		l.LowConfidenceCount = &low
		l.ProcessedAt = &now
		return nil
	})
}

func (m *MemoryStore) CreateExtraction(_ context.Context, ext model.Extraction) (*model.Extraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.leases[ext.LeaseID]; !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: lease %d", ext.LeaseID)
	}
	stored, err := copyExtraction(ext)
	if err != nil {
		return nil, err
	}
	stored.ID = m.id()
	stored.CreatedAt = m.now().UTC()
	m.extractions[stored.ID] = stored

	out, err := copyExtraction(stored)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *MemoryStore) GetExtraction(_ context.Context, id int64) (*model.Extraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ext, ok := m.extractions[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: extraction %d", id)
	}
	out, err := copyExtraction(ext)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *MemoryStore) ListExtractions(_ context.Context, leaseID int64) ([]model.Extraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []model.Extraction{}
	for _, ext := range m.extractions {
		if ext.LeaseID != leaseID {
			continue
		}
		c, err := copyExtraction(ext)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateCorrection(_ context.Context, extractionID int64, c model.Correction) (*model.FieldCorrection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.extractions[extractionID]; !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: extraction %d", extractionID)
	}
	fc := model.FieldCorrection{
		ID:           m.id(),
		ExtractionID: extractionID,
		Correction:   c,
		CreatedAt:    m.now().UTC(),
	}
	m.corrections[extractionID] = append(m.corrections[extractionID], fc)
	return &fc, nil
}

func (m *MemoryStore) ListCorrections(_ context.Context, extractionID int64) ([]model.FieldCorrection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.FieldCorrection{}, m.corrections[extractionID]...), nil
}

func (m *MemoryStore) AccuracyMetrics(context.Context) (*model.AccuracyMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	recentFrom := now.Add(-TrendWindow)
	previousFrom := now.Add(-2 * TrendWindow)

	var all, recent, previous tally
	for _, list := range m.corrections {
		for _, fc := range list {
			all.add(fc.CorrectionType)
			switch {
			case !fc.CreatedAt.Before(recentFrom):
				recent.add(fc.CorrectionType)
			case !fc.CreatedAt.Before(previousFrom):
				previous.add(fc.CorrectionType)
			}
		}
	}

	var sum float64
	var n int
	for _, ext := range m.extractions {
		for _, c := range ext.Confidence {
			sum += c
			n++
		}
	}
	avg := 0.0
	if n > 0 {
		avg = sum / float64(n)
	}

	return &model.AccuracyMetrics{
		OverallAccuracy:  all.rate(),
		TotalExtractions: int64(len(m.extractions)),
		TotalCorrections: all.total,
		AvgConfidence:    avg,
		Trend:            trendOf(recent, previous),
	}, nil
}

func (m *MemoryStore) FieldAccuracy(context.Context) ([]model.FieldAccuracy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byField := map[string]*tally{}
	for _, list := range m.corrections {
		for _, fc := range list {
			t, ok := byField[fc.FieldPath]
			if !ok {
				t = &tally{}
				byField[fc.FieldPath] = t
			}
			t.add(fc.CorrectionType)
		}
	}

	out := make([]model.FieldAccuracy, 0, len(byField))
	for path, t := range byField {
		var sum float64
		var n int
		for _, ext := range m.extractions {
			if c, ok := ext.Confidence[path]; ok {
				sum += c
				n++
			}
		}
		fa := model.FieldAccuracy{Field: path, Accuracy: t.rate(), Corrections: t.total}
		if n > 0 {
			fa.AvgConfidence = sum / float64(n)
		}
		out = append(out, fa)
	}
	sortFieldAccuracy(out)
	return out, nil
}

// copyExtraction deep-copies through JSON, the same shape the database
// stores.
func copyExtraction(ext model.Extraction) (model.Extraction, error) {
	data, err := json.Marshal(ext)
	if err != nil {
		return model.Extraction{}, eris.Wrap(err, "memory: marshal extraction")
	}
	var out model.Extraction
	if err := json.Unmarshal(data, &out); err != nil {
		return model.Extraction{}, eris.Wrap(err, "memory: unmarshal extraction")
	}
	if out.Extractions == nil {
		out.Extractions = map[string]any{}
	}
	return out, nil
}
