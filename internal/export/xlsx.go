// Package export writes reviewed extractions to spreadsheets.
package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/leasebee/leasebee-cli/internal/model"
)

// SheetName is the worksheet that holds the field rows.
const SheetName = "Review"

// Header lists the columns written by WriteXLSX.
var Header = []string{
	"Field Path", "Label", "Category", "Value", "Confidence",
	"Page", "Quote", "Decision", "Corrected Value", "Notes",
}

// Sheet is one reviewed extraction.
type Sheet struct {
	LeaseID      int64
	ExtractionID int64
	Fields       []model.FieldValue
	Feedback     model.FeedbackMap
}

// Decision labels a field's review state.
func Decision(fb model.FieldFeedback, ok bool) string {
	if !ok {
		return "pending"
	}
	return string(fb.CorrectionType())
}

// WriteXLSX writes one row per field, in field order, after a header row.
func WriteXLSX(w io.Writer, s Sheet) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	row := sheet.AddRow()
	for _, h := range Header {
		row.AddCell().SetString(h)
	}

	for _, fv := range s.Fields {
		fb, ok := s.Feedback[fv.Path]
		row := sheet.AddRow()
		row.AddCell().SetString(fv.Path)
		row.AddCell().SetString(fv.Label)
		row.AddCell().SetString(fv.Category)
		row.AddCell().SetString(stringOrEmpty(fv.Value))
		if fv.HasValue() {
			row.AddCell().SetFloat(fv.Confidence)
		} else {
			row.AddCell().SetString("")
		}
		if fv.Citation != nil {
			row.AddCell().SetInt(fv.Citation.Page)
			row.AddCell().SetString(fv.Citation.Quote)
		} else {
			row.AddCell().SetString("")
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(Decision(fb, ok))
		row.AddCell().SetString(stringOrEmpty(fb.CorrectedValue))
		row.AddCell().SetString(fb.Notes)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrapf(err, "export: write lease %d extraction %d", s.LeaseID, s.ExtractionID)
	}
	return nil
}

// ReadRows reads back the Review sheet of an exported workbook as strings.
func ReadRows(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open file")
	}
	sheet, ok := f.Sheet[SheetName]
	if !ok {
		return nil, eris.Errorf("export: sheet %q not found", SheetName)
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func stringOrEmpty(v any) string {
	s := model.Stringify(v)
	if s == nil {
		return ""
	}
	return *s
}
