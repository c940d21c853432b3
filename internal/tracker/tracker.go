// Package tracker records server-side extraction progress for polling
// clients.
package tracker

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/leasebee/leasebee-cli/internal/model"
)

// TipInterval is how long each tip is shown.
const TipInterval = 8 * time.Second

var order = []model.Stage{
	model.StageUploading,
	model.StageExtractingText,
	model.StageAnalyzing,
	model.StageParsing,
	model.StageValidating,
	model.StageSaving,
}

var weights = map[model.Stage]float64{
	model.StageUploading:      5,
	model.StageExtractingText: 10,
	model.StageAnalyzing:      60,
	model.StageParsing:        10,
	model.StageValidating:     10,
	model.StageSaving:         5,
}

const totalWeight = 100.0

var descriptions = map[model.Stage]string{
	model.StageUploading:      "Uploading PDF to storage",
	model.StageExtractingText: "Reading PDF content",
	model.StageAnalyzing:      "AI analyzing lease document",
	model.StageParsing:        "Processing extraction results",
	model.StageValidating:     "Validating extracted data",
	model.StageSaving:         "Saving to database",
	model.StageComplete:       "Complete!",
}

var tips = []string{
	"Lease abstraction can save 70-90% of review time compared to manual extraction.",
	"Commercial leases typically contain 40+ key data points across 11 categories.",
	"AI can identify critical terms like rent escalations, renewal options and termination clauses.",
	"Accurate lease abstraction helps ensure compliance and avoid costly oversights.",
	"Extracted data can be exported directly to Excel.",
	"The extractor looks for specific sections: Parties, Term, Rent, Use, Maintenance and more.",
	"Manual lease review takes 2-4 hours. AI extraction takes under 2 minutes.",
	"High confidence scores (over 90%) indicate clear, unambiguous text in the document.",
	"Each extracted value comes with its reasoning and a source citation.",
	"Your feedback on extractions helps improve accuracy for future documents.",
}

// Description returns the human label for a stage.
func Description(s model.Stage) string {
	return descriptions[s]
}

// Tracker follows one extraction operation through its stages.
type Tracker struct {
	mu         sync.Mutex
	id         string
	now        func() time.Time
	start      time.Time
	stageStart time.Time
	stage      model.Stage
	completed  map[model.Stage]bool
	estimate   time.Duration
	tipIndex   int
	tipChanged time.Time
}

func newTracker(id string, now func() time.Time) *Tracker {
	t := now()
	return &Tracker{
		id:         id,
		now:        now,
		start:      t,
		stageStart: t,
		stage:      model.StageUploading,
		completed:  map[model.Stage]bool{},
		estimate:   time.Minute,
		tipChanged: t,
	}
}

// ID returns the operation id.
func (t *Tracker) ID() string {
	return t.id
}

// Stage returns the current stage.
func (t *Tracker) Stage() model.Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// Advance moves to stage, marking the current stage completed. Advancing to
// the current stage is a no-op.
func (t *Tracker) Advance(stage model.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stage == stage {
		return
	}
	t.completed[t.stage] = true
	t.stage = stage
	t.stageStart = t.now()
	t.updateEstimate()
}

// Complete marks every stage done.
func (t *Tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range order {
		t.completed[s] = true
	}
	t.stage = model.StageComplete
	t.stageStart = t.now()
}

// Snapshot returns the current progress record.
func (t *Tracker) Snapshot() model.ProgressDetail {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	elapsed := now.Sub(t.start)

	pct := int(t.progressWeight(now) * 100 / totalWeight)
	if t.stage == model.StageComplete {
		pct = 100
	} else if pct > 99 {
		pct = 99
	}

	remaining := t.estimate - elapsed
	if remaining < 0 || t.stage == model.StageComplete {
		remaining = 0
	}

	if now.Sub(t.tipChanged) > TipInterval {
		t.tipIndex = (t.tipIndex + 1) % len(tips)
		t.tipChanged = now
	}

	done := make([]string, 0, len(t.completed))
	for _, s := range order {
		if t.completed[s] {
			done = append(done, string(s))
		}
	}

	return model.ProgressDetail{
		OperationID:               t.id,
		Stage:                     t.stage,
		StageDescription:          descriptions[t.stage],
		Percentage:                pct,
		ElapsedSeconds:            int(elapsed.Seconds()),
		EstimatedRemainingSeconds: int(remaining.Seconds()),
		Tip:                       tips[t.tipIndex],
		CompletedStages:           done,
	}
}

// updateEstimate must be called with mu held.
func (t *Tracker) updateEstimate() {
	now := t.now()
	w := t.progressWeight(now)
	if w <= 0 {
		return
	}
	elapsed := now.Sub(t.start)
	total := time.Duration(float64(elapsed) / w * totalWeight)
	t.estimate = max(total, elapsed+5*time.Second)
}

func (t *Tracker) progressWeight(now time.Time) float64 {
	var w float64
	for s := range t.completed {
		w += weights[s]
	}
	return w + weights[t.stage]*t.stageFraction(now)
}

// stageFraction estimates progress within the current stage. It never
// reports a stage as finished.
func (t *Tracker) stageFraction(now time.Time) float64 {
	secs := now.Sub(t.stageStart).Seconds()
	switch t.stage {
	case model.StageAnalyzing:
		return math.Min(secs/60, 0.95)
	case model.StageExtractingText:
		return math.Min(secs/3, 0.9)
	default:
		return math.Min(secs/2, 0.9)
	}
}

// Registry holds the trackers of running operations.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	now      func() time.Time
	timers   map[string]*time.Timer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source of new trackers.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		trackers: map[string]*Tracker{},
		timers:   map[string]*time.Timer{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts tracking id, replacing any earlier tracker for it.
func (r *Registry) Create(id string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimer(id)
	t := newTracker(id, r.now)
	r.trackers[id] = t
	return t
}

// Get returns the tracker for id.
func (r *Registry) Get(id string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[id]
	return t, ok
}

// Remove stops tracking id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimer(id)
	delete(r.trackers, id)
}

// RemoveAfter removes the tracker for id after d, unless it has been
// replaced in the meantime.
func (r *Registry) RemoveAfter(id string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimer(id)
	t := r.trackers[id]
	r.timers[id] = time.AfterFunc(d, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.trackers[id] == t {
			delete(r.trackers, id)
			delete(r.timers, id)
		}
	})
}

// IDs returns the tracked operation ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.trackers))
	for id := range r.trackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// stopTimer must be called with mu held.
func (r *Registry) stopTimer(id string) {
	if tm, ok := r.timers[id]; ok {
		tm.Stop()
		delete(r.timers, id)
	}
}
