package export

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasebee/leasebee-cli/internal/model"
)

func TestWriteXLSX(t *testing.T) {
	s := Sheet{
		LeaseID:      3,
		ExtractionID: 11,
		Fields: []model.FieldValue{
			{
				Path: "parties.tenant_name", Label: "Tenant Name", Category: "parties",
				Value: "Bee Coffee Co", Confidence: 0.93,
				Citation: &model.Citation{Page: 2, Quote: "Bee Coffee Co, a Delaware corporation"},
			},
			{
				Path: "rent.base_rent", Label: "Base Rent", Category: "rent",
				Value: 4500, Confidence: 0.61,
			},
			{Path: "term.renewal_options", Label: "Renewal Options", Category: "term"},
		},
		Feedback: model.FeedbackMap{
			"parties.tenant_name": {FieldPath: "parties.tenant_name", IsCorrect: true},
			"rent.base_rent":      {FieldPath: "rent.base_rent", CorrectedValue: "4750", Notes: "see amendment 2"},
		},
	}

	path := filepath.Join(t.TempDir(), "review.xlsx")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteXLSX(out, s))
	require.NoError(t, out.Close())

	rows, err := ReadRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Header, rows[0])

	tenant := rows[1]
	assert.Equal(t, "parties.tenant_name", tenant[0])
	assert.Equal(t, "Bee Coffee Co", tenant[3])
	conf, err := strconv.ParseFloat(tenant[4], 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.93, conf, 1e-9)
	page, err := strconv.Atoi(tenant[5])
	require.NoError(t, err)
	assert.Equal(t, 2, page)
	assert.Equal(t, "accept", tenant[7])

	rent := rows[2]
	assert.Equal(t, "4500", rent[3])
	assert.Equal(t, "edit", rent[7])
	assert.Equal(t, "4750", rent[8])
	assert.Equal(t, "see amendment 2", rent[9])

	pending := rows[3]
	assert.Equal(t, "term.renewal_options", pending[0])
	assert.Equal(t, "pending", pending[7])
}

func TestReadRows_MissingFile(t *testing.T) {
	_, err := ReadRows(filepath.Join(t.TempDir(), "nope.xlsx"))
	require.Error(t, err)
}

func TestDecision(t *testing.T) {
	assert.Equal(t, "pending", Decision(model.FieldFeedback{}, false))
	assert.Equal(t, "reject", Decision(model.FieldFeedback{FieldPath: "a"}, true))
	assert.Equal(t, "accept", Decision(model.FieldFeedback{FieldPath: "a", IsCorrect: true}, true))
}
