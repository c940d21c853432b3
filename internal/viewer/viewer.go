// Package viewer renders review navigation for a terminal.
package viewer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"

	"github.com/leasebee/leasebee-cli/internal/model"
)

// Confidence bands used for overlay coloring.
const (
	HighConfidence   = 0.90
	MediumConfidence = 0.70
)

// Band names a confidence bucket.
func Band(confidence float64) string {
	switch {
	case confidence >= HighConfidence:
		return "high"
	case confidence >= MediumConfidence:
		return "medium"
	default:
		return "low"
	}
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, eris.Wrapf(err, "viewer: count pages of %s", path)
	}
	return n, nil
}

// PageCountReader counts pages in an in-memory PDF using relaxed validation.
func PageCountReader(rs io.ReadSeeker) (int, error) {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	n, err := api.PageCount(rs, conf)
	if err != nil {
		return 0, eris.Wrap(err, "viewer: count pages")
	}
	return n, nil
}

// Overlay indexes heatmap markers by page.
type Overlay struct {
	byPage map[int][]model.HeatmapField
}

// NewOverlay builds an overlay from heatmap markers. Markers on a page keep
// their input order.
func NewOverlay(markers []model.HeatmapField) *Overlay {
	o := &Overlay{byPage: map[int][]model.HeatmapField{}}
	for _, m := range markers {
		o.byPage[m.Page] = append(o.byPage[m.Page], m)
	}
	return o
}

// Page returns the markers on page.
func (o *Overlay) Page(page int) []model.HeatmapField {
	return o.byPage[page]
}

// Pages returns the pages that carry markers, ascending.
func (o *Overlay) Pages() []int {
	pages := make([]int, 0, len(o.byPage))
	for p := range o.byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// RenderPage writes a listing of the markers on page.
func (o *Overlay) RenderPage(w io.Writer, page int) error {
	markers := o.Page(page)
	if _, err := fmt.Fprintf(w, "page %d: %d cited field(s)\n", page, len(markers)); err != nil {
		return eris.Wrap(err, "viewer: render page")
	}
	for _, m := range markers {
		b := m.BoundingBox
		if _, err := fmt.Fprintf(w, "  [%-6s %3.0f%%] %-40s (%.0f,%.0f)-(%.0f,%.0f)\n",
			Band(m.Confidence), m.Confidence*100, m.Label, b.X0, b.Y0, b.X1, b.Y1); err != nil {
			return eris.Wrap(err, "viewer: render page")
		}
	}
	return nil
}

// Terminal is a review surface that reports navigation as text. It keeps
// track of the current page.
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	pages   int
	current int
	overlay *Overlay
}

// NewTerminal creates a surface writing to w. pages is the document page
// count, or 0 when unknown.
func NewTerminal(w io.Writer, pages int) *Terminal {
	if w == nil {
		w = os.Stdout
	}
	return &Terminal{w: w, pages: pages, current: 1, overlay: NewOverlay(nil)}
}

// SetOverlay replaces the markers rendered on navigation.
func (t *Terminal) SetOverlay(o *Overlay) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o == nil {
		o = NewOverlay(nil)
	}
	t.overlay = o
}

// Current returns the page last scrolled to.
func (t *Terminal) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// ScrollToPage moves to page, clamped to the document.
func (t *Terminal) ScrollToPage(page int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.clamp(page)
	fmt.Fprintf(t.w, "-> page %d%s\n", t.current, t.ofPages()) //nolint:errcheck
	_ = t.overlay.RenderPage(t.w, t.current)
}

// ScrollToField moves to page and highlights box when present.
func (t *Terminal) ScrollToField(page int, box *model.BoundingBox) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.clamp(page)
	if box == nil {
		fmt.Fprintf(t.w, "-> page %d%s\n", t.current, t.ofPages()) //nolint:errcheck
		return
	}
	fmt.Fprintf(t.w, "-> page %d%s at (%.0f,%.0f)-(%.0f,%.0f)\n", //nolint:errcheck
		t.current, t.ofPages(), box.X0, box.Y0, box.X1, box.Y1)
}

func (t *Terminal) clamp(page int) int {
	if page < 1 {
		return 1
	}
	if t.pages > 0 && page > t.pages {
		return t.pages
	}
	return page
}

func (t *Terminal) ofPages() string {
	if t.pages == 0 {
		return ""
	}
	return fmt.Sprintf(" of %d", t.pages)
}
