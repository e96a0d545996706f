package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")

	j, err := New(path)
	require.NoError(t, err)

	rec := CycleRecord{
		ID:              "cycle-1",
		Variant:         "ladder",
		Tag:             "LADDER_ENTRY",
		EntryTime:       time.Date(2026, 2, 2, 9, 45, 0, 0, time.UTC),
		ExitTime:        time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC),
		DeployedCapital: 185000,
		ExitReason:      "TARGET",
		PnL:             3700,
		FinalState:      "done",
		Legs: []LegRecord{
			{Symbol: "NSE:NIFTY05FEB2622250CE", OrderID: "1", Accepted: true},
			{Symbol: "NSE:NIFTY05FEB2622450CE", OrderID: "2", Accepted: true},
			{Symbol: "NSE:NIFTY05FEB2622650CE", OrderID: "3", Accepted: true},
		},
	}
	require.NoError(t, j.Append(rec))

	// Reopen and verify persistence
	j2, err := New(path)
	require.NoError(t, err)
	cycles := j2.Cycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, "cycle-1", cycles[0].ID)
	assert.Equal(t, "TARGET", cycles[0].ExitReason)
	assert.Len(t, cycles[0].Legs, 3)
}

func TestAppendIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")

	j, err := New(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(CycleRecord{ID: "a"}))

	// No temp file left behind after a save
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestNewWithCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := New(path)
	assert.Error(t, err)
}

func TestCyclesReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	j, err := New(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(CycleRecord{ID: "a", ExitReason: "TARGET"}))

	cycles := j.Cycles()
	cycles[0].ExitReason = "mutated"

	assert.Equal(t, "TARGET", j.Cycles()[0].ExitReason)
}
