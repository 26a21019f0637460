package classifier

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	safelink "github.com/Nagarohit29/Safelink"
)

func testFeatureNames() []string {
	return []string{"f0", "f1", "f2", "f3"}
}

func TestModel_PredictDeterministic(t *testing.T) {
	m := NewModel(testFeatureNames(), []int{8, 4}, 0.2, "v1")
	x := []float64{1, 2, 3, 4}

	label1, prob1 := m.Predict(x)
	label2, prob2 := m.Predict(x)

	if label1 != label2 || prob1 != prob2 {
		t.Errorf("Predict() not deterministic: (%v,%v) vs (%v,%v)", label1, prob1, label2, prob2)
	}
	if prob1 < 0 || prob1 > 1 {
		t.Errorf("prob = %v, want in [0,1]", prob1)
	}
}

func TestModel_PredictBatchMatchesPredict(t *testing.T) {
	m := NewModel(testFeatureNames(), []int{6}, 0, "v1")
	X := [][]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 1}}

	labels, probs := m.PredictBatch(X)
	for i, x := range X {
		wantLabel, wantProb := m.Predict(x)
		if labels[i] != wantLabel || probs[i] != wantProb {
			t.Errorf("row %d: PredictBatch = (%v,%v), want (%v,%v)", i, labels[i], probs[i], wantLabel, wantProb)
		}
	}
}

func TestModel_FeatureOrderMatches(t *testing.T) {
	m := NewModel(testFeatureNames(), []int{4}, 0, "v1")

	if !m.FeatureOrderMatches(testFeatureNames()) {
		t.Errorf("expected exact feature order to match")
	}
	if m.FeatureOrderMatches([]string{"f0", "f1", "f2"}) {
		t.Errorf("expected length mismatch to fail")
	}
	if m.FeatureOrderMatches([]string{"f1", "f0", "f2", "f3"}) {
		t.Errorf("expected reordered features to fail (order is significant)")
	}
}

func TestIncrementalUpdate_ReducesLossOnSeparableData(t *testing.T) {
	m := NewModel([]string{"x"}, []int{4}, 0, "v1")

	X := make([][]float64, 0, 40)
	y := make([]float64, 0, 40)
	for i := 0; i < 20; i++ {
		X = append(X, []float64{10})
		y = append(y, 1)
		X = append(X, []float64{-10})
		y = append(y, 0)
	}

	opts := TrainOpts{Epochs: 20, LR: 0.05, WeightDecay: 0, BatchSize: 8}

	first := m.IncrementalUpdate(X[:8], y[:8], TrainOpts{Epochs: 1, LR: 0.05, WeightDecay: 0, BatchSize: 8})
	result := m.IncrementalUpdate(X, y, opts)

	if result.NSamples != len(X) {
		t.Errorf("NSamples = %d, want %d", result.NSamples, len(X))
	}
	if math.IsNaN(result.LossMean) || math.IsInf(result.LossMean, 0) {
		t.Fatalf("LossMean = %v, want finite", result.LossMean)
	}
	if result.LossMean >= first.LossMean {
		t.Errorf("LossMean after extended training = %v, want improvement over first pass %v", result.LossMean, first.LossMean)
	}
}

func TestIncrementalUpdate_EmptyInputIsNoop(t *testing.T) {
	m := NewModel(testFeatureNames(), []int{4}, 0, "v1")
	result := m.IncrementalUpdate(nil, nil, DefaultTrainOpts())
	if result.NSamples != 0 {
		t.Errorf("NSamples = %d, want 0 for empty input", result.NSamples)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	m := NewModel(testFeatureNames(), []int{8, 4}, 0.1, "v1")
	m.Scaler = Scaler{Mean: []float64{1, 2, 3, 4}, Std: []float64{1, 1, 1, 1}}

	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")

	if err := Save(m, path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load(path, testFeatureNames())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	x := []float64{5, 6, 7, 8}
	wantLabel, wantProb := m.Predict(x)
	gotLabel, gotProb := loaded.Predict(x)
	if gotLabel != wantLabel || gotProb != wantProb {
		t.Errorf("loaded model Predict() = (%v,%v), want (%v,%v)", gotLabel, gotProb, wantLabel, wantProb)
	}
}

func TestLoad_FeatureOrderMismatchIsRejected(t *testing.T) {
	m := NewModel(testFeatureNames(), []int{4}, 0, "v1")
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")

	if err := Save(m, path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	_, err := Load(path, []string{"different", "features", "entirely", "here"})
	if err != safelink.ErrModelCheckpointMismatch {
		t.Errorf("Load() error = %v, want ErrModelCheckpointMismatch", err)
	}
}

func TestSave_WritesAtomically(t *testing.T) {
	m := NewModel(testFeatureNames(), []int{4}, 0, "v1")
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")

	if err := Save(m, path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "model.ckpt" {
			t.Errorf("leftover temp file after Save(): %s", e.Name())
		}
	}
}

func TestClassifier_ConcurrentReadsDuringWrite(t *testing.T) {
	c := New(NewModel(testFeatureNames(), []int{4}, 0, "v1"))
	done := make(chan struct{})

	go func() {
		c.WithWriteLock(func(m *Model) error {
			m.IncrementalUpdate([][]float64{{1, 2, 3, 4}}, []float64{1}, DefaultTrainOpts())
			return nil
		})
		close(done)
	}()

	c.Predict([]float64{1, 2, 3, 4})
	<-done
}

func TestClassifier_ReplaceSwapsModel(t *testing.T) {
	c := New(NewModel(testFeatureNames(), []int{4}, 0, "v1"))
	replacement := NewModel(testFeatureNames(), []int{4}, 0, "v2")

	c.Replace(replacement)

	if c.Snapshot().Version != "v2" {
		t.Errorf("Snapshot().Version = %q, want v2", c.Snapshot().Version)
	}
}
