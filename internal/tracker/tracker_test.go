package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasebee/leasebee-cli/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTracker_Stages(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	reg := NewRegistry(WithClock(clk.Now))
	tr := reg.Create("42")

	p := tr.Snapshot()
	assert.Equal(t, "42", p.OperationID)
	assert.Equal(t, model.StageUploading, p.Stage)
	assert.Equal(t, 0, p.Percentage)
	assert.Empty(t, p.CompletedStages)

	clk.Advance(2 * time.Second)
	tr.Advance(model.StageExtractingText)
	p = tr.Snapshot()
	assert.Equal(t, "Reading PDF content", p.StageDescription)
	assert.Equal(t, 5, p.Percentage)
	assert.Equal(t, 2, p.ElapsedSeconds)
	assert.Equal(t, 38, p.EstimatedRemainingSeconds)
	assert.Equal(t, []string{"uploading"}, p.CompletedStages)

	tr.Advance(model.StageAnalyzing)
	clk.Advance(2 * time.Minute)
	p = tr.Snapshot()
	assert.Equal(t, 72, p.Percentage, "analysis caps at 95% of its weight")
	assert.False(t, p.Complete())
}

func TestTracker_CappedUntilComplete(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	tr := NewRegistry(WithClock(clk.Now)).Create("1")
	for _, s := range []model.Stage{
		model.StageExtractingText, model.StageAnalyzing, model.StageParsing,
		model.StageValidating, model.StageSaving,
	} {
		clk.Advance(time.Minute)
		tr.Advance(s)
	}
	clk.Advance(time.Minute)

	p := tr.Snapshot()
	assert.Equal(t, 99, p.Percentage)
	assert.False(t, p.Complete())
	assert.Len(t, p.CompletedStages, 5)

	tr.Complete()
	p = tr.Snapshot()
	assert.Equal(t, model.StageComplete, p.Stage)
	assert.Equal(t, 100, p.Percentage)
	assert.Equal(t, 0, p.EstimatedRemainingSeconds)
	assert.Equal(t, "Complete!", p.StageDescription)
	assert.Len(t, p.CompletedStages, 6)
	assert.True(t, p.Complete())
}

func TestTracker_AdvanceSameStageNoop(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	tr := NewRegistry(WithClock(clk.Now)).Create("1")
	tr.Advance(model.StageUploading)
	assert.Empty(t, tr.Snapshot().CompletedStages)
	assert.Equal(t, model.StageUploading, tr.Stage())
}

func TestTracker_MinimumRemaining(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	tr := NewRegistry(WithClock(clk.Now)).Create("1")
	clk.Advance(10 * time.Second)
	tr.Advance(model.StageExtractingText)
	tr.Advance(model.StageAnalyzing)
	tr.Advance(model.StageParsing)
	tr.Advance(model.StageValidating)
	tr.Advance(model.StageSaving)

	p := tr.Snapshot()
	assert.GreaterOrEqual(t, p.EstimatedRemainingSeconds, 5)
}

func TestTracker_TipRotation(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	tr := NewRegistry(WithClock(clk.Now)).Create("1")

	first := tr.Snapshot().Tip
	clk.Advance(5 * time.Second)
	assert.Equal(t, first, tr.Snapshot().Tip)

	clk.Advance(4 * time.Second)
	second := tr.Snapshot().Tip
	assert.NotEqual(t, first, second)
	assert.Equal(t, tips[1], second)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Create("b")
	reg.Create("a")
	assert.Equal(t, []string{"a", "b"}, reg.IDs())

	tr, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", tr.ID())

	reg.Remove("a")
	_, ok = reg.Get("a")
	assert.False(t, ok)
}

func TestRegistry_RemoveAfter(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Create("7")
	reg.RemoveAfter("7", 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, ok := reg.Get("7")
		return !ok
	}, time.Second, 2*time.Millisecond)
}

func TestRegistry_RemoveAfterSkipsReplacement(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Create("7")
	reg.RemoveAfter("7", 5*time.Millisecond)
	replacement := reg.Create("7")

	time.Sleep(30 * time.Millisecond)
	got, ok := reg.Get("7")
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestDescription(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "AI analyzing lease document", Description(model.StageAnalyzing))
}
