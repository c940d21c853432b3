package store

import (
	"sort"
	"time"

	"github.com/leasebee/leasebee-cli/internal/model"
)

// TrendWindow is the length of each period compared by AccuracyMetrics.
const TrendWindow = 30 * 24 * time.Hour

// tally counts corrections and how many of them were accepts.
type tally struct {
	total    int64
	accepted int64
}

func (t *tally) add(ct model.CorrectionType) {
	t.total++
	if ct == model.CorrectionAccept {
		t.accepted++
	}
}

func (t tally) rate() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.accepted) / float64(t.total)
}

func trendOf(recent, previous tally) model.Trend {
	if recent.rate() >= previous.rate() {
		return model.TrendUp
	}
	return model.TrendDown
}

// sortFieldAccuracy orders fields lowest accuracy first, then by path.
func sortFieldAccuracy(fields []model.FieldAccuracy) {
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].Accuracy != fields[j].Accuracy {
			return fields[i].Accuracy < fields[j].Accuracy
		}
		return fields[i].Field < fields[j].Field
	})
}
