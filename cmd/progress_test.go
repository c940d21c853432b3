package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasebee/leasebee-cli/internal/model"
)

func TestFormatProgressList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	snaps := []model.ProgressSnapshot{
		{
			LeaseID: 3, ExtractionID: 9, Version: 1,
			Timestamp: now.Add(-8 * 24 * time.Hour).UnixMilli(),
			Feedback:  model.FeedbackMap{"a": {FieldPath: "a", IsCorrect: true}},
		},
		{
			LeaseID: 7, ExtractionID: 12, Version: 1,
			Timestamp: now.Add(-time.Hour).UnixMilli(),
			Feedback: model.FeedbackMap{
				"a": {FieldPath: "a", IsCorrect: true},
				"b": {FieldPath: "b"},
			},
		},
	}

	var buf bytes.Buffer
	formatProgressList(&buf, snaps, now, 7*24*time.Hour)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "LEASE")
	assert.Contains(t, lines[0], "DECISIONS")

	// Newest first.
	assert.True(t, strings.HasPrefix(lines[1], "7 "))
	assert.Contains(t, lines[1], "restorable")
	assert.Contains(t, lines[1], "2025-06-15 09:30")

	assert.True(t, strings.HasPrefix(lines[2], "3 "))
	assert.Contains(t, lines[2], "expired")
}
