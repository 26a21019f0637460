package learner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CycleOutcome is the result of one validation gate decision.
type CycleOutcome string

const (
	CycleAccepted CycleOutcome = "accepted"
	CycleRejected CycleOutcome = "rejected"
)

const (
	maxHistoryEntries = 100
	maxVersionEntries = 20
)

// CycleRecord is one entry in the learner's bounded cycle history: the
// outcome of a single Check->Collect->Train->Validate pass, whether
// accepted or rejected.
type CycleRecord struct {
	Timestamp       time.Time    `json:"timestamp"`
	Outcome         CycleOutcome `json:"outcome"`
	NSamples        int          `json:"n_samples"`
	LossMean        float64      `json:"loss_mean"`
	AccuracyPercent float64      `json:"accuracy_percent"`
	TrainingTimeMS  int64        `json:"training_time_ms"`
}

// VersionRecord is one entry in the bounded version log. Rejected
// attempts are recorded alongside accepted ones, so an operator can see
// a rollback happened without cross-referencing a separate log.
type VersionRecord struct {
	VersionID       string       `json:"version_id"`
	Timestamp       time.Time    `json:"timestamp"`
	Outcome         CycleOutcome `json:"outcome"`
	AccuracyPercent float64      `json:"accuracy_percent"`
	LossMean        float64      `json:"loss_mean"`
}

// State is the learner's durable JSON state.
type State struct {
	LastProcessedAlertID int64           `json:"last_processed_alert_id"`
	LastTrainingTime     time.Time       `json:"last_training_time"`
	History              []CycleRecord   `json:"history"`
	Versions             []VersionRecord `json:"versions"`
}

func (s *State) appendCycle(r CycleRecord) {
	s.History = append(s.History, r)
	if len(s.History) > maxHistoryEntries {
		s.History = s.History[len(s.History)-maxHistoryEntries:]
	}
}

func (s *State) appendVersion(v VersionRecord) {
	s.Versions = append(s.Versions, v)
	if len(s.Versions) > maxVersionEntries {
		s.Versions = s.Versions[len(s.Versions)-maxVersionEntries:]
	}
}

// LoadState reads a State from path. A missing file is not an error: a
// fresh sensor starts from the zero state (last_processed_alert_id=0).
func LoadState(path string) (State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("learner: read state: %w", err)
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, fmt.Errorf("learner: unmarshal state: %w", err)
	}
	return s, nil
}

// SaveState persists s to path atomically (write-temp-then-rename),
// matching the checkpoint-save discipline used throughout the sensor.
func SaveState(path string, s State) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".learner-state-*.tmp")
	if err != nil {
		return fmt.Errorf("learner: create temp state: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("learner: encode state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("learner: close temp state: %w", err)
	}
	return os.Rename(tmpPath, path)
}
