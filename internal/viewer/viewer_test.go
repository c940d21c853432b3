package viewer

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasebee/leasebee-cli/internal/model"
)

func TestBand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		conf float64
		want string
	}{
		{conf: 1.0, want: "high"},
		{conf: 0.90, want: "high"},
		{conf: 0.89, want: "medium"},
		{conf: 0.70, want: "medium"},
		{conf: 0.69, want: "low"},
		{conf: 0, want: "low"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Band(tt.conf), tt.conf)
	}
}

func TestOverlay(t *testing.T) {
	t.Parallel()

	o := NewOverlay([]model.HeatmapField{
		{FieldPath: "a", Label: "Base Rent", Page: 3, Confidence: 0.95},
		{FieldPath: "b", Label: "Start Date", Page: 1, Confidence: 0.5},
		{FieldPath: "c", Label: "End Date", Page: 3, Confidence: 0.75},
	})

	assert.Equal(t, []int{1, 3}, o.Pages())
	require.Len(t, o.Page(3), 2)
	assert.Equal(t, "a", o.Page(3)[0].FieldPath)
	assert.Empty(t, o.Page(2))

	var buf bytes.Buffer
	require.NoError(t, o.RenderPage(&buf, 3))
	out := buf.String()
	assert.Contains(t, out, "page 3: 2 cited field(s)")
	assert.Contains(t, out, "Base Rent")
	assert.Contains(t, out, "high")
	assert.Contains(t, out, "medium")
}

func TestTerminal_Clamp(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(&buf, 10)

	term.ScrollToPage(25)
	assert.Equal(t, 10, term.Current())
	term.ScrollToPage(0)
	assert.Equal(t, 1, term.Current())

	term.ScrollToField(4, &model.BoundingBox{X0: 1, Y0: 2, X1: 3, Y1: 4})
	assert.Equal(t, 4, term.Current())
	assert.Contains(t, buf.String(), "-> page 4 of 10 at (1,2)-(3,4)")
}

func TestTerminal_UnknownPageCount(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(&buf, 0)
	term.SetOverlay(NewOverlay([]model.HeatmapField{{Label: "Tenant", Page: 250, Confidence: 0.6}}))

	term.ScrollToPage(250)
	assert.Equal(t, 250, term.Current())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "-> page 250", lines[0])
	assert.Contains(t, lines[2], "Tenant")
}

func TestPageCount_Errors(t *testing.T) {
	t.Parallel()

	_, err := PageCount(filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)

	_, err = PageCountReader(bytes.NewReader([]byte("not a pdf")))
	require.Error(t, err)
}
