// Package review holds the state of one interactive extraction review.
package review

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/progress"
	"github.com/leasebee/leasebee-cli/internal/projection"
)

// DefaultConcurrency bounds in-flight correction submissions.
const DefaultConcurrency = 4

var (
	// ErrUnknownField is returned for a path outside the current projection.
	ErrUnknownField = errors.New("review: unknown field")
	// ErrNoDecision is returned when annotating a field with no decision yet.
	ErrNoDecision = errors.New("review: field has no decision")
	// ErrNothingToSubmit is returned by Submit on an empty feedback map.
	ErrNothingToSubmit = errors.New("review: nothing to submit")
	// ErrNotInitialized is returned before Initialize has been called.
	ErrNotInitialized = errors.New("review: session not initialized")
)

// Surface is the document view the session drives.
type Surface interface {
	ScrollToPage(page int)
	ScrollToField(page int, box *model.BoundingBox)
}

// Corrector submits one field correction.
type Corrector interface {
	SubmitCorrection(ctx context.Context, extractionID int64, c model.Correction) (*model.FieldCorrection, error)
}

// SubmitError reports the fields whose corrections were not accepted.
// Corrections for other fields may already have been applied.
type SubmitError struct {
	Failed []string
	Total  int
	Err    error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("review: %d of %d corrections failed (%s)", len(e.Failed), e.Total, strings.Join(e.Failed, ", "))
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Option configures a Session.
type Option func(*Session)

// WithDebounce sets the auto-save quiet period.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithConcurrency bounds parallel correction submissions.
func WithConcurrency(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Session owns the feedback map for one lease/extraction review. It is safe
// for concurrent use.
type Session struct {
	id          string
	store       *progress.Store
	corrector   Corrector
	surface     Surface
	debounce    time.Duration
	concurrency int

	mu           sync.Mutex
	log          *zap.Logger
	leaseID      int64
	extractionID int64
	fields       []model.FieldValue
	byPath       map[string]int
	feedback     model.FeedbackMap
	active       string
	restored     bool
	saver        *progress.AutoSaver
}

// New creates an uninitialized session. A nil surface disables scrolling.
func New(store *progress.Store, corrector Corrector, surface Surface, opts ...Option) *Session {
	if surface == nil {
		surface = nopSurface{}
	}
	s := &Session{
		id:          uuid.NewString(),
		store:       store,
		corrector:   corrector,
		surface:     surface,
		debounce:    progress.DefaultDebounce,
		concurrency: DefaultConcurrency,
		feedback:    model.FeedbackMap{},
		byPath:      map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = zap.L().With(zap.String("session_id", s.id))
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// Initialize binds the session to a lease and extraction and restores any
// saved feedback for that pair. It reports whether feedback was restored.
func (s *Session) Initialize(ctx context.Context, leaseID, extractionID int64, fields []model.FieldValue) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saver != nil {
		// Bound to the previous pair, so flushing cannot write to the new key.
		s.saver.Flush()
	}

	s.leaseID = leaseID
	s.extractionID = extractionID
	s.setFields(fields)
	s.active = ""
	s.log = zap.L().With(
		zap.String("session_id", s.id),
		zap.Int64("lease_id", leaseID),
		zap.Int64("extraction_id", extractionID),
	)
	s.saver = progress.NewAutoSaver(ctx, s.store, leaseID, extractionID, s.debounce)

	snap := s.store.Restore(ctx, leaseID, extractionID)
	if snap == nil {
		s.feedback = model.FeedbackMap{}
		s.restored = false
		return false
	}
	s.feedback = snap.Feedback.Clone()
	s.restored = true
	s.log.Info("review: restored saved progress",
		zap.Int("decisions", len(s.feedback)),
		zap.Time("saved_at", snap.SavedAt()),
	)
	return true
}

// UpdateFields replaces the projected field list. Existing feedback is kept.
func (s *Session) UpdateFields(fields []model.FieldValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFields(fields)
}

func (s *Session) setFields(fields []model.FieldValue) {
	s.fields = append([]model.FieldValue(nil), fields...)
	s.byPath = make(map[string]int, len(fields))
	for i, f := range s.fields {
		s.byPath[f.Path] = i
	}
}

// SelectField makes path the active field and scrolls the surface to its
// citation, if it has one.
func (s *Session) SelectField(path string) error {
	s.mu.Lock()
	i, ok := s.byPath[path]
	if !ok {
		s.mu.Unlock()
		return eris.Wrapf(ErrUnknownField, "select %q", path)
	}
	s.active = path
	cite := s.fields[i].Citation
	s.mu.Unlock()

	if cite == nil {
		return nil
	}
	if cite.BoundingBox != nil {
		box := *cite.BoundingBox
		s.surface.ScrollToField(cite.Page, &box)
	} else {
		s.surface.ScrollToPage(cite.Page)
	}
	return nil
}

// Accept marks path correct, dropping any corrected value.
func (s *Session) Accept(path string) error {
	return s.decide(path, model.FieldFeedback{FieldPath: path, IsCorrect: true})
}

// Reject marks path incorrect with no replacement value.
func (s *Session) Reject(path string) error {
	return s.decide(path, model.FieldFeedback{FieldPath: path, IsCorrect: false})
}

// Edit marks path incorrect and records the reviewer's value.
func (s *Session) Edit(path string, value any) error {
	return s.decide(path, model.FieldFeedback{FieldPath: path, IsCorrect: false, CorrectedValue: value})
}

// Annotate attaches reviewer notes to an existing decision.
func (s *Session) Annotate(path, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPath[path]; !ok {
		return eris.Wrapf(ErrUnknownField, "annotate %q", path)
	}
	fb, ok := s.feedback[path]
	if !ok {
		return eris.Wrapf(ErrNoDecision, "annotate %q", path)
	}
	fb.Notes = strings.TrimSpace(notes)
	s.feedback[path] = fb
	s.scheduleLocked()
	return nil
}

func (s *Session) decide(path string, fb model.FieldFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saver == nil {
		return ErrNotInitialized
	}
	if _, ok := s.byPath[path]; !ok {
		return eris.Wrapf(ErrUnknownField, "decide %q", path)
	}
	s.feedback[path] = fb
	s.scheduleLocked()
	return nil
}

// AcceptAll overwrites the decision for every projected field with accept.
// Earlier edits for those fields are discarded.
func (s *Session) AcceptAll() {
	s.bulk(true)
}

// RejectAll overwrites the decision for every projected field with reject.
// Earlier edits for those fields are discarded.
func (s *Session) RejectAll() {
	s.bulk(false)
}

func (s *Session) bulk(correct bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.feedback.Clone()
	for _, f := range s.fields {
		next[f.Path] = model.FieldFeedback{FieldPath: f.Path, IsCorrect: correct}
	}
	s.feedback = next
	s.scheduleLocked()
}

// DiscardRestored drops all feedback and the saved snapshot.
func (s *Session) DiscardRestored(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saver != nil {
		s.saver.Cancel()
	}
	s.feedback = model.FeedbackMap{}
	s.restored = false
	s.store.Clear(ctx, s.leaseID)
}

// Submit sends one correction per decision. On success the submitted
// decisions are dropped and, once none remain, the saved snapshot is removed.
// A decision changed while its correction was in flight is kept. If any
// correction fails, a *SubmitError is returned and everything is kept so the
// review can be retried.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.saver == nil {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	extractionID := s.extractionID
	leaseID := s.leaseID
	feedback := s.feedback.Clone()
	fields := make(map[string]model.FieldValue, len(s.fields))
	for _, f := range s.fields {
		fields[f.Path] = f
	}
	s.mu.Unlock()

	if len(feedback) == 0 {
		return ErrNothingToSubmit
	}

	paths := make([]string, 0, len(feedback))
	for p := range feedback {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var (
		failMu sync.Mutex
		failed []string
		errs   []error
	)
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, path := range paths {
		corr := model.NewCorrection(fields[path], feedback[path])
		g.Go(func() error {
			if _, err := s.corrector.SubmitCorrection(ctx, extractionID, corr); err != nil {
				failMu.Lock()
				failed = append(failed, path)
				errs = append(errs, err)
				failMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		sort.Strings(failed)
		s.log.Warn("review: submission incomplete",
			zap.Strings("failed", failed),
			zap.Int("total", len(paths)),
		)
		return &SubmitError{Failed: failed, Total: len(paths), Err: errors.Join(errs...)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("review: corrections submitted", zap.Int("count", len(paths)))
	if s.leaseID != leaseID {
		s.store.Clear(ctx, leaseID)
		return nil
	}
	if s.extractionID != extractionID {
		return nil
	}
	// Decisions changed while the corrections were in flight stay pending.
	for path, sent := range feedback {
		if cur, ok := s.feedback[path]; ok && reflect.DeepEqual(cur, sent) {
			delete(s.feedback, path)
		}
	}
	s.restored = false
	if len(s.feedback) > 0 {
		s.scheduleLocked()
		return nil
	}
	s.saver.Cancel()
	s.store.Clear(ctx, leaseID)
	return nil
}

// Close writes any pending feedback immediately.
func (s *Session) Close() {
	s.mu.Lock()
	saver := s.saver
	s.mu.Unlock()
	if saver != nil {
		saver.Flush()
	}
}

// scheduleLocked hands the current feedback to the auto-saver. s.mu must be
// held.
func (s *Session) scheduleLocked() {
	if s.saver != nil {
		s.saver.Schedule(s.feedback)
	}
}

// Feedback returns a copy of the current decisions.
func (s *Session) Feedback() model.FeedbackMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedback.Clone()
}

// Active returns the selected field path.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Restored reports whether the feedback came from a saved snapshot.
func (s *Session) Restored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored
}

// Fields returns a copy of the projected fields.
func (s *Session) Fields() []model.FieldValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.FieldValue(nil), s.fields...)
}

// Field returns the projected field at path.
func (s *Session) Field(path string) (model.FieldValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byPath[path]
	if !ok {
		return model.FieldValue{}, false
	}
	return s.fields[i], true
}

// Heatmap returns the overlay markers for the projected fields.
func (s *Session) Heatmap() []model.HeatmapField {
	s.mu.Lock()
	defer s.mu.Unlock()
	return projection.Heatmap(s.fields)
}

// Complete reports whether every projected field has a decision.
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fields) == 0 {
		return false
	}
	for _, f := range s.fields {
		if _, ok := s.feedback[f.Path]; !ok {
			return false
		}
	}
	return true
}

// Pending reports whether an auto-save is waiting to be written.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saver != nil && s.saver.Pending()
}

// LeaseID returns the bound lease.
func (s *Session) LeaseID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaseID
}

// ExtractionID returns the bound extraction.
func (s *Session) ExtractionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extractionID
}

type nopSurface struct{}

func (nopSurface) ScrollToPage(int)                      {}
func (nopSurface) ScrollToField(int, *model.BoundingBox) {}
