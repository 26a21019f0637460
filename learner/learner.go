// Package learner implements the continuous learner: the single
// long-lived coordinator that periodically turns recent alerts into
// weakly-labeled training data, runs an incremental update against the
// Classifier under its exclusive lock, validates the result, and either
// commits the new checkpoint or rolls back to the pre-cycle backup.
//
// The coordinator is an explicit state machine
// (Idle->Check->Collect->Backup->Train->Validate->Commit/Rollback)
// driven by atomic.Bool flags; version records carry
// github.com/google/uuid identifiers (cycle records carry none).
package learner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
	"github.com/Nagarohit29/Safelink/alertstore"
	"github.com/Nagarohit29/Safelink/classifier"
	"github.com/Nagarohit29/Safelink/feature"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config parameterizes one Learner instance.
type Config struct {
	Tick               time.Duration
	LearningInterval   time.Duration
	MinSamples         int
	MaxHistory         int
	TrainOpts          classifier.TrainOpts
	ModelPath          string
	BackupDir          string
	StatePath          string
	MinAccuracyPercent float64 // acceptance gate, e.g. 70
	MaxLoss            float64 // acceptance gate, e.g. 2.0

	// OnCycle, if non-nil, is invoked after every completed cycle with
	// its record. The daemon wires the learner_cycles_total counter
	// through this hook, keeping this package unaware of Prometheus the
	// same way dispatch stays unaware of it.
	OnCycle func(CycleRecord)
}

// Learner is the training coordinator. Safe for concurrent use; Run and
// TrainNow may be invoked from different goroutines (the tick loop and
// the control-surface handler respectively).
type Learner struct {
	cfg    Config
	log    *zap.Logger
	alerts *alertstore.Store
	clf    *classifier.Classifier

	isTraining atomic.Bool
	shouldStop atomic.Bool

	mu    sync.Mutex
	state State
}

// New constructs a Learner, loading any prior persisted state from
// cfg.StatePath.
func New(cfg Config, log *zap.Logger, alerts *alertstore.Store, clf *classifier.Classifier) (*Learner, error) {
	if log == nil {
		log = zap.NewNop()
	}
	st, err := LoadState(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	return &Learner{cfg: cfg, log: log, alerts: alerts, clf: clf, state: st}, nil
}

// Run ticks every cfg.Tick, entering the Check state on each tick,
// until ctx is canceled or Stop is called. A tick that finds the gate
// unmet (not enough time elapsed, not enough new alerts) is a silent
// no-op, not an error.
func (l *Learner) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.shouldStop.Load() {
				return
			}
			if _, err := l.runCycle(ctx, false); err != nil {
				l.log.Warn("learner: cycle error", zap.Error(err))
			}
		}
	}
}

// Stop requests the Run loop to exit after its current tick; it does
// not interrupt a cycle already in progress.
func (l *Learner) Stop() { l.shouldStop.Store(true) }

// IsTraining reports whether a cycle is currently executing.
func (l *Learner) IsTraining() bool { return l.isTraining.Load() }

// TrainNow forces an immediate cycle, bypassing the learning_interval
// gate (the operator is explicitly asking for one now) but not the
// min_samples gate — there is nothing to train on otherwise. Returns
// ErrLearnerBusy if a cycle is already running, matching the control
// surface's 409 contract.
func (l *Learner) TrainNow(ctx context.Context) (CycleRecord, error) {
	return l.runCycle(ctx, true)
}

// runCycle is Check->Collect->Backup->Train->Validate->Commit/Rollback.
// A no-op return (zero CycleRecord, nil error) means the gate was not
// met; this is the common case on a periodic tick.
func (l *Learner) runCycle(ctx context.Context, bypassInterval bool) (CycleRecord, error) {
	if !l.isTraining.CompareAndSwap(false, true) {
		return CycleRecord{}, safelink.ErrLearnerBusy
	}
	defer l.isTraining.Store(false)

	l.mu.Lock()
	lastProcessed := l.state.LastProcessedAlertID
	lastTrainingTime := l.state.LastTrainingTime
	l.mu.Unlock()

	now := time.Now()
	if !bypassInterval && !lastTrainingTime.IsZero() && now.Sub(lastTrainingTime) < l.cfg.LearningInterval {
		return CycleRecord{}, nil
	}

	alerts, err := l.alerts.Since(ctx, lastProcessed, l.cfg.MaxHistory)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("learner: collect: %w", err)
	}
	if len(alerts) < l.cfg.MinSamples {
		return CycleRecord{}, nil
	}

	var X [][]float64
	var y []float64
	maxID := lastProcessed
	for _, a := range alerts {
		if a.ID > maxID {
			maxID = a.ID
		}
		label, ok := AutoLabel(a)
		if !ok {
			continue
		}
		X = append(X, feature.ExtractFromAlert(a))
		y = append(y, label)
	}

	backupPath, err := l.backupCheckpoint(now)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("learner: backup: %w", err)
	}

	trainStart := time.Now()
	var result classifier.TrainResult
	if err := l.clf.WithWriteLock(func(m *classifier.Model) error {
		result = m.IncrementalUpdate(X, y, l.cfg.TrainOpts)
		return nil
	}); err != nil {
		return CycleRecord{}, fmt.Errorf("learner: train: %w", err)
	}
	trainingTime := time.Since(trainStart)

	rec := CycleRecord{
		Timestamp:       now,
		NSamples:        result.NSamples,
		LossMean:        result.LossMean,
		AccuracyPercent: result.AccuracyPercent,
		TrainingTimeMS:  trainingTime.Milliseconds(),
	}

	accepted := result.AccuracyPercent >= l.cfg.MinAccuracyPercent && result.LossMean <= l.cfg.MaxLoss
	versionID := uuid.NewString()

	l.mu.Lock()
	defer l.mu.Unlock()

	if accepted {
		if err := classifier.Save(l.clf.Snapshot(), l.cfg.ModelPath); err != nil {
			return CycleRecord{}, fmt.Errorf("learner: commit save: %w", err)
		}
		rec.Outcome = CycleAccepted
		l.state.LastProcessedAlertID = maxID
		l.state.LastTrainingTime = now
		l.log.Info("learner: cycle accepted",
			zap.String("version", versionID),
			zap.Float64("accuracy_percent", result.AccuracyPercent),
			zap.Float64("loss_mean", result.LossMean),
			zap.Int("n_samples", result.NSamples))
	} else {
		if err := l.rollback(backupPath); err != nil {
			l.log.Error("learner: rollback failed", zap.Error(err))
		}
		rec.Outcome = CycleRejected
		l.log.Warn("learner: cycle rejected, rolled back",
			zap.Float64("accuracy_percent", result.AccuracyPercent),
			zap.Float64("loss_mean", result.LossMean))
	}

	l.state.appendCycle(rec)
	l.state.appendVersion(VersionRecord{
		VersionID:       versionID,
		Timestamp:       now,
		Outcome:         rec.Outcome,
		AccuracyPercent: result.AccuracyPercent,
		LossMean:        result.LossMean,
	})

	if err := SaveState(l.cfg.StatePath, l.state); err != nil {
		l.log.Error("learner: persist state failed", zap.Error(err))
	}

	if l.cfg.OnCycle != nil {
		l.cfg.OnCycle(rec)
	}

	return rec, nil
}

// backupCheckpoint copies the current on-disk checkpoint to a
// timestamped path under cfg.BackupDir, returning "" if no checkpoint
// exists yet (a sensor that has never committed a learned update).
func (l *Learner) backupCheckpoint(now time.Time) (string, error) {
	data, err := os.ReadFile(l.cfg.ModelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read current checkpoint: %w", err)
	}
	if err := os.MkdirAll(l.cfg.BackupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	dst := filepath.Join(l.cfg.BackupDir, fmt.Sprintf("classifier-%d.chkpt", now.UnixNano()))
	if err := atomicWriteFile(dst, data); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return dst, nil
}

// rollback restores the classifier's in-memory state and on-disk
// checkpoint from backupPath: a rejected cycle leaves the on-disk
// checkpoint byte-for-byte identical to its pre-cycle contents.
func (l *Learner) rollback(backupPath string) error {
	if backupPath == "" {
		return nil
	}
	m, err := classifier.Load(backupPath, l.clf.Snapshot().FeatureNames)
	if err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}
	l.clf.Replace(m)

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	return atomicWriteFile(l.cfg.ModelPath, data)
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".learner-ckpt-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Status is the shape returned by GET /learning/status.
type Status struct {
	IsTraining           bool      `json:"is_training"`
	LastProcessedAlertID int64     `json:"last_processed_alert_id"`
	LastTrainingTime     time.Time `json:"last_training_time"`
	HistoryCount         int       `json:"history_count"`
	VersionsCount        int       `json:"versions_count"`
}

// Status returns a point-in-time snapshot of the learner's state.
func (l *Learner) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		IsTraining:           l.isTraining.Load(),
		LastProcessedAlertID: l.state.LastProcessedAlertID,
		LastTrainingTime:     l.state.LastTrainingTime,
		HistoryCount:         len(l.state.History),
		VersionsCount:        len(l.state.Versions),
	}
}

// History returns a copy of the bounded cycle history.
func (l *Learner) History() []CycleRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CycleRecord(nil), l.state.History...)
}

// Versions returns a copy of the bounded version log.
func (l *Learner) Versions() []VersionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]VersionRecord(nil), l.state.Versions...)
}
