package poller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/pkg/leasebee"
)

// fakeSource is a scripted Source. Each func field may be nil.
type fakeSource struct {
	mu          sync.Mutex
	progressFn  func(n int) (*model.ProgressDetail, error)
	leaseFn     func(n int) (*model.Lease, error)
	extractFn   func(n int) ([]model.Extraction, error)
	progressN   int
	leaseN      int
	extractionN int
}

func (f *fakeSource) GetProgress(_ context.Context, _ string) (*model.ProgressDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressN++
	if f.progressFn == nil {
		return nil, &leasebee.APIError{StatusCode: http.StatusNotFound}
	}
	return f.progressFn(f.progressN)
}

func (f *fakeSource) GetLease(_ context.Context, id int64) (*model.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaseN++
	if f.leaseFn == nil {
		return &model.Lease{ID: id, Status: model.LeaseStatusProcessing}, nil
	}
	return f.leaseFn(f.leaseN)
}

func (f *fakeSource) ListExtractions(_ context.Context, _ int64) ([]model.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractionN++
	if f.extractFn == nil {
		return nil, nil
	}
	return f.extractFn(f.extractionN)
}

func (f *fakeSource) leaseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaseN
}

type recorder struct {
	mu       sync.Mutex
	phases   []Phase
	progress []model.ProgressDetail
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnPhase: func(p Phase) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.phases = append(r.phases, p)
		},
		OnProgress: func(d model.ProgressDetail) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, d)
		},
	}
}

func fast(rec *recorder, extra ...Option) []Option {
	opts := []Option{
		WithInterval(2 * time.Millisecond),
		WithStatusInterval(4 * time.Millisecond),
		WithGrace(5 * time.Millisecond),
		WithHandlers(rec.handlers()),
	}
	return append(opts, extra...)
}

func TestRun_NotFoundWhileProcessingKeepsPolling(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	rec := &recorder{}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	ext, err := New(src, 42, fast(rec)...).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, ext)

	var failed *ExtractionFailedError
	assert.False(t, errors.As(err, &failed))
	assert.Equal(t, []Phase{PhaseExtracting}, rec.phases)
	assert.Empty(t, rec.progress)
	assert.Greater(t, src.leaseCalls(), 1)
}

func TestRun_CompletionFromProgress(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		progressFn: func(n int) (*model.ProgressDetail, error) {
			if n < 3 {
				return &model.ProgressDetail{Stage: model.StageAnalyzing, Percentage: 30 * n}, nil
			}
			return &model.ProgressDetail{Stage: model.StageComplete, Percentage: 100}, nil
		},
		extractFn: func(int) ([]model.Extraction, error) {
			return []model.Extraction{{ID: 7, LeaseID: 42}}, nil
		},
	}
	rec := &recorder{}

	ext, err := New(src, 42, fast(rec)...).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ext)
	assert.Equal(t, int64(7), ext.ID)
	assert.Equal(t, []Phase{PhaseExtracting, PhaseLoading, PhaseReady}, rec.phases)
	require.GreaterOrEqual(t, len(rec.progress), 3)
	assert.True(t, rec.progress[len(rec.progress)-1].Complete())
}

func TestRun_CompletedBeforeProgressTracked(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		leaseFn: func(int) (*model.Lease, error) {
			return &model.Lease{ID: 42, Status: model.LeaseStatusCompleted}, nil
		},
		extractFn: func(int) ([]model.Extraction, error) {
			return []model.Extraction{{ID: 3, LeaseID: 42}}, nil
		},
	}
	rec := &recorder{}

	p := New(src, 42, fast(rec)...)
	ext, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), ext.ID)
	assert.Equal(t, PhaseReady, p.Phase())
	assert.Empty(t, rec.progress)
}

func TestRun_FailedLease(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		leaseFn: func(int) (*model.Lease, error) {
			return &model.Lease{
				ID:           42,
				Status:       model.LeaseStatusFailed,
				ErrorMessage: "Error code: 400 - Your credit balance is too low to access the API",
			}, nil
		},
	}
	rec := &recorder{}

	_, err := New(src, 42, fast(rec)...).Run(context.Background())
	require.Error(t, err)

	var failed *ExtractionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, CategoryCredits, failed.Category)
	assert.Equal(t, int64(42), failed.LeaseID)
	assert.Contains(t, failed.Raw, "credit balance")
	assert.Equal(t, []Phase{PhaseExtracting}, rec.phases)
}

func TestRun_TransientErrorsSwallowed(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		progressFn: func(n int) (*model.ProgressDetail, error) {
			if n < 4 {
				return nil, &leasebee.APIError{StatusCode: http.StatusInternalServerError}
			}
			return &model.ProgressDetail{Stage: model.StageComplete, Percentage: 100}, nil
		},
		leaseFn: func(n int) (*model.Lease, error) {
			if n == 1 {
				return nil, errors.New("connection reset by peer")
			}
			return &model.Lease{ID: 42, Status: model.LeaseStatusProcessing}, nil
		},
		extractFn: func(n int) ([]model.Extraction, error) {
			if n == 1 {
				return nil, errors.New("i/o timeout")
			}
			return []model.Extraction{{ID: 9}}, nil
		},
	}
	rec := &recorder{}

	ext, err := New(src, 42, fast(rec)...).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), ext.ID)
}

func TestRun_BaselineIgnoresPreviousExtraction(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		leaseFn: func(int) (*model.Lease, error) {
			return &model.Lease{ID: 42, Status: model.LeaseStatusCompleted}, nil
		},
		extractFn: func(n int) ([]model.Extraction, error) {
			if n < 5 {
				return []model.Extraction{{ID: 7}}, nil
			}
			return []model.Extraction{{ID: 8}, {ID: 7}}, nil
		},
	}
	rec := &recorder{}

	ext, err := New(src, 42, fast(rec, WithBaseline(7))...).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), ext.ID)
}

func TestRun_FailureWhileLoadingPastBaseline(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		leaseFn: func(n int) (*model.Lease, error) {
			if n == 1 {
				return &model.Lease{ID: 42, Status: model.LeaseStatusCompleted}, nil
			}
			return &model.Lease{
				ID:           42,
				Status:       model.LeaseStatusFailed,
				ErrorMessage: "Request timed out",
			}, nil
		},
		extractFn: func(int) ([]model.Extraction, error) {
			return []model.Extraction{{ID: 7}}, nil
		},
	}
	rec := &recorder{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p := New(src, 42, fast(rec, WithBaseline(7))...)
	ext, err := p.Run(ctx)
	require.Error(t, err)
	assert.Nil(t, ext)

	var failed *ExtractionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, CategoryTimeout, failed.Category)
	assert.Equal(t, PhaseLoading, p.Phase())
	assert.Equal(t, []Phase{PhaseExtracting, PhaseLoading}, rec.phases)
}

func TestRun_NoCallbacksAfterCancel(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		progressFn: func(n int) (*model.ProgressDetail, error) {
			return &model.ProgressDetail{Stage: model.StageAnalyzing, Percentage: 10}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	calls := 0
	h := Handlers{
		OnProgress: func(model.ProgressDetail) {
			mu.Lock()
			calls++
			mu.Unlock()
			cancel()
		},
	}

	_, err := New(src, 42,
		WithInterval(time.Millisecond),
		WithStatusInterval(time.Millisecond),
		WithHandlers(h),
	).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	p := New(&fakeSource{}, 1, WithInterval(0), WithGrace(-1))
	assert.Equal(t, DefaultInterval, p.interval)
	assert.Equal(t, DefaultStatusInterval, p.statusInterval)
	assert.Equal(t, DefaultGrace, p.grace)
	assert.Equal(t, Phase(""), p.Phase())
}
