package progress

import (
	"context"
	"sync"
	"time"

	"github.com/leasebee/leasebee-cli/internal/model"
)

// AutoSaver writes the latest feedback for one lease/extraction pair after
// a quiet period. Only the state at flush time is written.
type AutoSaver struct {
	ctx          context.Context
	store        *Store
	debounce     *Debouncer
	leaseID      int64
	extractionID int64

	mu     sync.Mutex
	latest model.FeedbackMap
}

// NewAutoSaver binds an auto-saver to a session. ctx is used for the
// deferred writes.
func NewAutoSaver(ctx context.Context, store *Store, leaseID, extractionID int64, delay time.Duration) *AutoSaver {
	return &AutoSaver{
		ctx:          context.WithoutCancel(ctx),
		store:        store,
		debounce:     NewDebouncer(delay),
		leaseID:      leaseID,
		extractionID: extractionID,
	}
}

// Schedule records feedback as the latest state and re-arms the timer.
func (a *AutoSaver) Schedule(feedback model.FeedbackMap) {
	a.mu.Lock()
	a.latest = feedback.Clone()
	a.mu.Unlock()

	a.debounce.Arm(a.write)
}

// Flush writes the pending state immediately. Called on the unload signal
// and on session teardown.
func (a *AutoSaver) Flush() {
	a.debounce.Flush()
}

// Cancel drops any pending write.
func (a *AutoSaver) Cancel() {
	a.debounce.Cancel()
}

// Pending reports whether a write is armed.
func (a *AutoSaver) Pending() bool {
	return a.debounce.Pending()
}

func (a *AutoSaver) write() {
	a.mu.Lock()
	feedback := a.latest
	a.mu.Unlock()

	a.store.Save(a.ctx, a.leaseID, a.extractionID, feedback)
}
