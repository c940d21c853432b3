// Package progress persists in-progress review feedback so an interrupted
// review can be resumed.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leasebee/leasebee-cli/internal/kv"
	"github.com/leasebee/leasebee-cli/internal/model"
)

const (
	// FormatVersion is the snapshot layout this package reads and writes.
	FormatVersion = 1

	DefaultKeyPrefix = "leasebee_review_progress"
	DefaultMaxAge    = 7 * 24 * time.Hour
)

// LoadStatus is the outcome of reading a snapshot.
type LoadStatus int

const (
	LoadAbsent LoadStatus = iota
	LoadOK
	LoadInvalid
	LoadError
)

func (s LoadStatus) String() string {
	switch s {
	case LoadOK:
		return "ok"
	case LoadInvalid:
		return "invalid"
	case LoadError:
		return "error"
	default:
		return "absent"
	}
}

// LoadResult carries a snapshot read along with why it was rejected, if it
// was.
type LoadResult struct {
	Status   LoadStatus
	Snapshot *model.ProgressSnapshot
	Reason   error
}

// Store reads and writes ProgressSnapshots keyed by lease. All public
// methods are best-effort: storage failures are logged and never returned.
type Store struct {
	kv     kv.Store
	prefix string
	maxAge time.Duration
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAge overrides the staleness window.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithKeyPrefix overrides the storage key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store over the given backend.
func NewStore(backend kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:     backend,
		prefix: DefaultKeyPrefix,
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAge returns the configured staleness window.
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Key returns the storage key for a lease.
func (s *Store) Key(leaseID int64) string {
	return s.prefix + "_" + strconv.FormatInt(leaseID, 10)
}

// Restore returns the snapshot for the lease if it is valid for the given
// extraction, or nil. A stored snapshot that fails validation is deleted.
func (s *Store) Restore(ctx context.Context, leaseID, extractionID int64) *model.ProgressSnapshot {
	res := s.load(ctx, leaseID, extractionID)
	switch res.Status {
	case LoadOK:
		return res.Snapshot
	case LoadInvalid:
		zap.L().Debug("progress: discarding invalid snapshot",
			zap.Int64("lease_id", leaseID),
			zap.Int64("extraction_id", extractionID),
			zap.Error(res.Reason),
		)
		s.Clear(ctx, leaseID)
	case LoadError:
		zap.L().Warn("progress: restore failed",
			zap.Int64("lease_id", leaseID),
			zap.Error(res.Reason),
		)
	}
	return nil
}

// Save writes a fresh snapshot stamped with the current time.
func (s *Store) Save(ctx context.Context, leaseID, extractionID int64, feedback model.FeedbackMap) {
	if err := s.save(ctx, leaseID, extractionID, feedback); err != nil {
		zap.L().Warn("progress: save failed",
			zap.Int64("lease_id", leaseID),
			zap.Error(err),
		)
	}
}

// Clear deletes the stored snapshot for the lease.
func (s *Store) Clear(ctx context.Context, leaseID int64) {
	if err := s.kv.Delete(ctx, s.Key(leaseID)); err != nil {
		zap.L().Warn("progress: clear failed",
			zap.Int64("lease_id", leaseID),
			zap.Error(err),
		)
	}
}

// Peek returns the raw stored snapshot for a lease without validating it.
func (s *Store) Peek(ctx context.Context, leaseID int64) (*model.ProgressSnapshot, error) {
	return s.read(ctx, s.Key(leaseID))
}

// List returns every decodable snapshot under the key prefix.
func (s *Store) List(ctx context.Context) ([]model.ProgressSnapshot, error) {
	keys, err := s.kv.Keys(ctx, s.prefix+"_")
	if err != nil {
		return nil, eris.Wrap(err, "progress: list keys")
	}

	var out []model.ProgressSnapshot
	for _, k := range keys {
		if _, err := strconv.ParseInt(strings.TrimPrefix(k, s.prefix+"_"), 10, 64); err != nil {
			continue
		}
		snap, err := s.read(ctx, k)
		if err != nil {
			zap.L().Debug("progress: skipping unreadable snapshot", zap.String("key", k), zap.Error(err))
			continue
		}
		if snap != nil {
			out = append(out, *snap)
		}
	}
	return out, nil
}

// Validate checks a snapshot against the session being opened.
func (s *Store) Validate(snap *model.ProgressSnapshot, leaseID, extractionID int64) error {
	switch {
	case snap.Version != FormatVersion:
		return eris.Errorf("progress: format version %d, want %d", snap.Version, FormatVersion)
	case snap.LeaseID != leaseID:
		return eris.Errorf("progress: snapshot for lease %d, want %d", snap.LeaseID, leaseID)
	case snap.ExtractionID != extractionID:
		return eris.Errorf("progress: snapshot for extraction %d, want %d", snap.ExtractionID, extractionID)
	}
	if age := s.now().Sub(snap.SavedAt()); age > s.maxAge {
		return eris.Errorf("progress: snapshot is %s old, max %s", age.Round(time.Second), s.maxAge)
	}
	return nil
}

func (s *Store) load(ctx context.Context, leaseID, extractionID int64) LoadResult {
	snap, err := s.read(ctx, s.Key(leaseID))
	if err != nil {
		var corrupt *corruptError
		if errors.As(err, &corrupt) {
			return LoadResult{Status: LoadInvalid, Reason: err}
		}
		return LoadResult{Status: LoadError, Reason: err}
	}
	if snap == nil {
		return LoadResult{Status: LoadAbsent}
	}
	if err := s.Validate(snap, leaseID, extractionID); err != nil {
		return LoadResult{Status: LoadInvalid, Snapshot: snap, Reason: err}
	}
	return LoadResult{Status: LoadOK, Snapshot: snap}
}

func (s *Store) save(ctx context.Context, leaseID, extractionID int64, feedback model.FeedbackMap) error {
	snap := model.ProgressSnapshot{
		LeaseID:      leaseID,
		ExtractionID: extractionID,
		Timestamp:    s.now().UnixMilli(),
		Feedback:     feedback.Clone(),
		Version:      FormatVersion,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "progress: marshal snapshot")
	}
	return eris.Wrap(s.kv.Set(ctx, s.Key(leaseID), data), "progress: write snapshot")
}

// read returns nil, nil when the key is absent.
func (s *Store) read(ctx context.Context, key string) (*model.ProgressSnapshot, error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "progress: read snapshot")
	}

	var snap model.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &corruptError{err: err}
	}
	if snap.Feedback == nil {
		snap.Feedback = model.FeedbackMap{}
	}
	return &snap, nil
}

// corruptError marks stored data that cannot be decoded.
type corruptError struct {
	err error
}

func (e *corruptError) Error() string {
	return "progress: corrupt snapshot: " + e.err.Error()
}

func (e *corruptError) Unwrap() error {
	return e.err
}
