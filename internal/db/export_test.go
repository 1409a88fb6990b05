package db

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

func TestExportDecisionsCSV(t *testing.T) {
	t.Parallel()

	db, _ := newTestDB(t)
	startSession(t, db, "s1")
	startSession(t, db, "other")
	for _, d := range []emg.Decision{
		decision("s1", 0, "3", true, emg.ReasonAccepted),
		decision("other", 0, "1", true, emg.ReasonAccepted),
		decision("s1", 1, "2", false, emg.ReasonRejected),
		{SessionID: "s1", WindowIndex: 2, Reason: emg.ReasonStalled},
	} {
		require.NoError(t, db.RecordDecision(d))
	}

	var buf bytes.Buffer
	n, err := db.ExportDecisionsCSV(&buf, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, DecisionColumns, records[0])
	assert.Equal(t, []string{"0", "2026-03-01T12:00:00Z", "3", "0.9000", "0.5000", "1", "25.00", "0.00", "accepted", "2000"}, records[1])
	assert.Equal(t, "rejected", records[2][8])
	assert.Equal(t, "", records[3][1], "stall has no window start")

	_, err = db.ExportDecisionsCSV(&bytes.Buffer{}, "nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
}
