// Package journal records completed trading cycles to a JSON file.
// The journal is an audit trail, not runtime state: the engine never
// reads it back to make decisions.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// LegRecord is the journaled outcome of one leg order.
type LegRecord struct {
	Symbol   string `json:"symbol"`
	OrderID  string `json:"order_id,omitempty"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// CycleRecord is one completed (or failed) trading cycle.
type CycleRecord struct {
	ID              string      `json:"id"`
	Variant         string      `json:"variant"`
	Tag             string      `json:"tag"`
	EntryTime       time.Time   `json:"entry_time"`
	ExitTime        time.Time   `json:"exit_time"`
	DeployedCapital float64     `json:"deployed_capital"`
	ExitReason      string      `json:"exit_reason"`
	PnL             float64     `json:"pnl"`
	FinalState      string      `json:"final_state"`
	Legs            []LegRecord `json:"legs"`
}

type journalData struct {
	Cycles      []CycleRecord `json:"cycles"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Journal persists cycle records to a single JSON file.
type Journal struct {
	mu       sync.RWMutex
	filepath string
	data     journalData
}

// New opens or creates a journal at the given path.
func New(filepath string) (*Journal, error) {
	j := &Journal{filepath: filepath}

	if _, err := os.Stat(filepath); err == nil {
		if err := j.load(); err != nil {
			return nil, fmt.Errorf("loading journal: %w", err)
		}
	}

	return j, nil
}

func (j *Journal) load() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.filepath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &j.data)
}

// Append records a cycle and persists immediately.
func (j *Journal) Append(rec CycleRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data.Cycles = append(j.data.Cycles, rec)
	j.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(j.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then rename into place
	tmpFile := j.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, j.filepath)
}

// Cycles returns a copy of all recorded cycles, newest last.
func (j *Journal) Cycles() []CycleRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]CycleRecord, len(j.data.Cycles))
	copy(out, j.data.Cycles)
	return out
}

// LastUpdated returns when the journal was last written.
func (j *Journal) LastUpdated() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.data.LastUpdated
}
