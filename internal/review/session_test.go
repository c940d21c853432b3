package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasebee/leasebee-cli/internal/kv"
	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/progress"
)

type fakeCorrector struct {
	mu     sync.Mutex
	got    []model.Correction
	ids    []int64
	failOn map[string]error
	during func(model.Correction)
}

func (f *fakeCorrector) SubmitCorrection(_ context.Context, extractionID int64, c model.Correction) (*model.FieldCorrection, error) {
	if f.during != nil {
		f.during(c)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, c)
	f.ids = append(f.ids, extractionID)
	if err := f.failOn[c.FieldPath]; err != nil {
		return nil, err
	}
	return &model.FieldCorrection{ID: int64(len(f.got)), ExtractionID: extractionID, Correction: c}, nil
}

func (f *fakeCorrector) byPath() map[string]model.Correction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]model.Correction, len(f.got))
	for _, c := range f.got {
		out[c.FieldPath] = c
	}
	return out
}

type scroll struct {
	page int
	box  *model.BoundingBox
}

type fakeSurface struct {
	pages  []int
	fields []scroll
}

func (f *fakeSurface) ScrollToPage(page int) { f.pages = append(f.pages, page) }
func (f *fakeSurface) ScrollToField(page int, box *model.BoundingBox) {
	f.fields = append(f.fields, scroll{page: page, box: box})
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store     *progress.Store
	corrector *fakeCorrector
	surface   *fakeSurface
	clock     *clock
	session   *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := progress.NewStore(kv.NewMemory(), progress.WithClock(clk.Now))
	corr := &fakeCorrector{}
	surf := &fakeSurface{}
	s := New(store, corr, surf, WithDebounce(time.Hour), WithConcurrency(2))
	return &harness{store: store, corrector: corr, surface: surf, clock: clk, session: s}
}

func fields(paths ...string) []model.FieldValue {
	out := make([]model.FieldValue, 0, len(paths))
	for i, p := range paths {
		out = append(out, model.FieldValue{
			Path:       p,
			Label:      p,
			Value:      fmt.Sprintf("value-%d", i),
			Confidence: 0.8,
		})
	}
	return out
}

func TestInitialize_Fresh(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	restored := h.session.Initialize(context.Background(), 42, 7, fields("a", "b"))
	assert.False(t, restored)
	assert.False(t, h.session.Restored())
	assert.Empty(t, h.session.Feedback())
	assert.Len(t, h.session.Fields(), 2)
	assert.NotEmpty(t, h.session.ID())
}

func TestInitialize_RestoresSnapshot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	saved := model.FeedbackMap{
		"rent.amount": {FieldPath: "rent.amount", IsCorrect: false, CorrectedValue: "1500"},
	}
	h.store.Save(ctx, 42, 7, saved)
	h.clock.Advance(time.Hour)

	restored := h.session.Initialize(ctx, 42, 7, fields("rent.amount", "dates.start"))
	require.True(t, restored)
	assert.True(t, h.session.Restored())

	fb := h.session.Feedback()
	require.Len(t, fb, 1)
	assert.Equal(t, "1500", fb["rent.amount"].CorrectedValue)
	assert.False(t, fb["rent.amount"].IsCorrect)
}

func TestInitialize_ReextractionDropsSnapshot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.store.Save(ctx, 42, 7, model.FeedbackMap{"a": {FieldPath: "a", IsCorrect: true}})

	restored := h.session.Initialize(ctx, 42, 8, fields("a"))
	assert.False(t, restored)
	assert.Empty(t, h.session.Feedback())

	snap, err := h.store.Peek(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestInitialize_FlushesPreviousSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.session.Initialize(ctx, 1, 10, fields("a"))
	require.NoError(t, h.session.Accept("a"))
	require.True(t, h.session.Pending())

	h.session.Initialize(ctx, 2, 20, fields("b"))

	snap, err := h.store.Peek(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(10), snap.ExtractionID)
	assert.True(t, snap.Feedback["a"].IsCorrect)

	none, err := h.store.Peek(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDecisions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.session.Initialize(context.Background(), 42, 7, fields("a", "b"))

	require.NoError(t, h.session.Edit("a", 1200.5))
	fb := h.session.Feedback()["a"]
	assert.False(t, fb.IsCorrect)
	assert.Equal(t, 1200.5, fb.CorrectedValue)

	require.NoError(t, h.session.Accept("a"))
	fb = h.session.Feedback()["a"]
	assert.True(t, fb.IsCorrect)
	assert.Nil(t, fb.CorrectedValue)

	require.NoError(t, h.session.Reject("b"))
	fb = h.session.Feedback()["b"]
	assert.False(t, fb.IsCorrect)
	assert.Nil(t, fb.CorrectedValue)
	assert.Equal(t, model.CorrectionReject, fb.CorrectionType())

	err := h.session.Accept("missing")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestDecisions_BeforeInitialize(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	assert.ErrorIs(t, h.session.Accept("a"), ErrNotInitialized)
	assert.ErrorIs(t, h.session.Submit(context.Background()), ErrNotInitialized)
}

func TestAnnotate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.session.Initialize(context.Background(), 42, 7, fields("a"))

	assert.ErrorIs(t, h.session.Annotate("a", "check rider"), ErrNoDecision)
	assert.ErrorIs(t, h.session.Annotate("zzz", "x"), ErrUnknownField)

	require.NoError(t, h.session.Edit("a", "2000"))
	require.NoError(t, h.session.Annotate("a", "  see rider 2  "))
	fb := h.session.Feedback()["a"]
	assert.Equal(t, "see rider 2", fb.Notes)
	assert.Equal(t, "2000", fb.CorrectedValue)
}

func TestAcceptAllRejectAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.session.Initialize(context.Background(), 42, 7, fields("a", "b", "c", "d"))

	require.NoError(t, h.session.Edit("b", "edited"))
	h.session.AcceptAll()

	fb := h.session.Feedback()
	require.Len(t, fb, 4)
	for path, f := range fb {
		assert.True(t, f.IsCorrect, path)
		assert.Nil(t, f.CorrectedValue, path)
	}
	assert.True(t, h.session.Complete())

	h.session.RejectAll()
	fb = h.session.Feedback()
	require.Len(t, fb, 4)
	for path, f := range fb {
		assert.False(t, f.IsCorrect, path)
		assert.Nil(t, f.CorrectedValue, path)
	}
}

func TestSelectField(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	box := &model.BoundingBox{X0: 10, Y0: 20, X1: 110, Y1: 40}
	fs := []model.FieldValue{
		{Path: "boxed", Citation: &model.Citation{Page: 3, Quote: "q", BoundingBox: box}},
		{Path: "paged", Citation: &model.Citation{Page: 5, Quote: "q"}},
		{Path: "bare"},
	}
	h.session.Initialize(context.Background(), 42, 7, fs)

	require.NoError(t, h.session.SelectField("boxed"))
	require.Len(t, h.surface.fields, 1)
	assert.Equal(t, 3, h.surface.fields[0].page)
	assert.Equal(t, *box, *h.surface.fields[0].box)

	require.NoError(t, h.session.SelectField("paged"))
	assert.Equal(t, []int{5}, h.surface.pages)

	require.NoError(t, h.session.SelectField("bare"))
	assert.Equal(t, "bare", h.session.Active())
	assert.Len(t, h.surface.fields, 1)
	assert.Len(t, h.surface.pages, 1)

	assert.ErrorIs(t, h.session.SelectField("nope"), ErrUnknownField)
	assert.Equal(t, "bare", h.session.Active())
}

func TestHeatmap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	fs := []model.FieldValue{
		{Path: "boxed", Confidence: 0.5, Citation: &model.Citation{Page: 2, BoundingBox: &model.BoundingBox{X1: 1, Y1: 1}}},
		{Path: "paged", Citation: &model.Citation{Page: 4}},
	}
	h.session.Initialize(context.Background(), 42, 7, fs)

	hm := h.session.Heatmap()
	require.Len(t, hm, 1)
	assert.Equal(t, "boxed", hm[0].FieldPath)
	assert.Equal(t, 2, hm[0].Page)
}

func TestAutoSave_CloseFlushes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.session.Initialize(ctx, 42, 7, fields("a", "b"))

	require.NoError(t, h.session.Accept("a"))
	require.NoError(t, h.session.Edit("b", "x"))
	assert.True(t, h.session.Pending())

	snap, err := h.store.Peek(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, snap, "nothing written inside the debounce window")

	h.session.Close()
	assert.False(t, h.session.Pending())

	snap, err = h.store.Peek(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Feedback, 2)
	assert.Equal(t, int64(7), snap.ExtractionID)
}

func TestAutoSave_DebouncedWrite(t *testing.T) {
	t.Parallel()
	clk := &clock{now: time.Now()}
	store := progress.NewStore(kv.NewMemory(), progress.WithClock(clk.Now))
	s := New(store, &fakeCorrector{}, nil, WithDebounce(5*time.Millisecond))
	ctx := context.Background()
	s.Initialize(ctx, 9, 1, fields("a"))

	require.NoError(t, s.Accept("a"))
	assert.Eventually(t, func() bool {
		snap, err := store.Peek(ctx, 9)
		return err == nil && snap != nil && snap.Feedback["a"].IsCorrect
	}, time.Second, 5*time.Millisecond)
}

func TestDiscardRestored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.store.Save(ctx, 42, 7, model.FeedbackMap{"a": {FieldPath: "a", IsCorrect: true}})
	require.True(t, h.session.Initialize(ctx, 42, 7, fields("a")))

	h.session.DiscardRestored(ctx)
	assert.False(t, h.session.Restored())
	assert.Empty(t, h.session.Feedback())
	assert.False(t, h.session.Pending())

	snap, err := h.store.Peek(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSubmit_Success(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	fs := []model.FieldValue{
		{Path: "rent.amount", Value: 1500.0, Confidence: 0.62},
		{Path: "parties.tenant", Value: "Acme LLC", Confidence: 0.95},
		{Path: "dates.start", Value: nil},
	}
	h.session.Initialize(ctx, 42, 7, fs)
	require.NoError(t, h.session.Edit("rent.amount", 1750))
	require.NoError(t, h.session.Accept("parties.tenant"))
	require.NoError(t, h.session.Reject("dates.start"))
	h.session.Close()

	require.NoError(t, h.session.Submit(ctx))

	got := h.corrector.byPath()
	require.Len(t, got, 3)

	rent := got["rent.amount"]
	assert.Equal(t, model.CorrectionEdit, rent.CorrectionType)
	require.NotNil(t, rent.OriginalValue)
	assert.Equal(t, "1500", *rent.OriginalValue)
	require.NotNil(t, rent.CorrectedValue)
	assert.Equal(t, "1750", *rent.CorrectedValue)
	require.NotNil(t, rent.OriginalConfidence)
	assert.InDelta(t, 0.62, *rent.OriginalConfidence, 1e-9)

	tenant := got["parties.tenant"]
	assert.Equal(t, model.CorrectionAccept, tenant.CorrectionType)
	assert.Equal(t, "Acme LLC", *tenant.OriginalValue)
	assert.Nil(t, tenant.CorrectedValue)

	start := got["dates.start"]
	assert.Equal(t, model.CorrectionReject, start.CorrectionType)
	assert.Nil(t, start.OriginalValue)

	for _, id := range h.corrector.ids {
		assert.Equal(t, int64(7), id)
	}

	assert.Empty(t, h.session.Feedback())
	snap, err := h.store.Peek(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSubmit_PartialFailureKeepsState(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.corrector.failOn = map[string]error{"f3": errors.New("leasebee: HTTP 500")}
	h.session.Initialize(ctx, 42, 7, fields("f1", "f2", "f3", "f4", "f5"))
	h.session.AcceptAll()
	h.session.Close()

	err := h.session.Submit(ctx)
	require.Error(t, err)

	var subErr *SubmitError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, []string{"f3"}, subErr.Failed)
	assert.Equal(t, 5, subErr.Total)
	assert.Contains(t, err.Error(), "1 of 5")

	assert.Len(t, h.corrector.byPath(), 5, "every correction is attempted")
	assert.Len(t, h.session.Feedback(), 5)

	snap, err := h.store.Peek(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Feedback, 5)
}

func TestSubmit_KeepsDecisionsChangedInFlight(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.session.Initialize(ctx, 42, 7, fields("a", "b"))
	h.session.AcceptAll()
	h.corrector.during = func(c model.Correction) {
		if c.FieldPath == "a" {
			assert.NoError(t, h.session.Edit("b", "changed"))
		}
	}

	require.NoError(t, h.session.Submit(ctx))

	fb := h.session.Feedback()
	require.Len(t, fb, 1)
	assert.Equal(t, "changed", fb["b"].CorrectedValue)
	assert.False(t, h.session.Complete())

	h.session.Close()
	snap, err := h.store.Peek(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, model.FeedbackMap{"b": fb["b"]}, snap.Feedback)
}

func TestSubmit_Empty(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.session.Initialize(context.Background(), 42, 7, fields("a"))

	assert.ErrorIs(t, h.session.Submit(context.Background()), ErrNothingToSubmit)
}

func TestComplete(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	assert.False(t, h.session.Complete())
	h.session.Initialize(context.Background(), 42, 7, fields("a", "b"))
	require.NoError(t, h.session.Accept("a"))
	assert.False(t, h.session.Complete())
	require.NoError(t, h.session.Reject("b"))
	assert.True(t, h.session.Complete())

	h.session.UpdateFields(fields("a", "b", "c"))
	assert.False(t, h.session.Complete())
	assert.Len(t, h.session.Feedback(), 2)
}
