// Package classifier implements the binary frame classifier: a
// fixed-topology feed-forward model (linear + batchnorm + ReLU +
// dropout per hidden layer, final linear -> sigmoid) with
// scaler-normalized inference, incremental training, and atomic
// checkpointing.
//
// A single RWMutex guards the model state: inference takes the shared
// lock, training takes the exclusive lock, so the two never overlap.
// gonum.org/v1/gonum/mat supplies the matrix primitives for the forward
// pass and the hand-rolled gradient descent of the incremental update.
package classifier

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// layer is one hidden block: linear(in,out) + batchnorm(out) + ReLU +
// dropout.
type layer struct {
	W *mat.Dense // out x in
	B []float64  // out

	// batchnorm, eval-mode parameters (affine transform using running
	// statistics; no batch statistics are computed at inference time)
	Gamma       []float64
	Beta        []float64
	RunningMean []float64
	RunningVar  []float64
}

func newLayer(in, out int) *layer {
	w := mat.NewDense(out, in, nil)
	initXavier(w, in, out)
	gamma := make([]float64, out)
	runningVar := make([]float64, out)
	for i := range gamma {
		gamma[i] = 1.0
		runningVar[i] = 1.0
	}
	return &layer{
		W:           w,
		B:           make([]float64, out),
		Gamma:       gamma,
		Beta:        make([]float64, out),
		RunningMean: make([]float64, out),
		RunningVar:  runningVar,
	}
}

func initXavier(w *mat.Dense, in, out int) {
	bound := math.Sqrt(6.0 / float64(in+out))
	r, c := w.Dims()
	seed := uint64(1)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			frac := float64(seed>>11) / float64(1<<53)
			w.Set(i, j, (frac*2-1)*bound)
		}
	}
}

// Scaler holds per-feature standardization parameters.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// Normalize applies (x - mean) / std element-wise, guarding against a
// zero std (constant feature) by leaving it unscaled.
func (s Scaler) Normalize(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if i >= len(s.Mean) || i >= len(s.Std) || s.Std[i] == 0 {
			out[i] = v
			continue
		}
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out
}

// Model is the full network: an ordered stack of hidden layer blocks
// plus a final linear layer producing a single logit.
type Model struct {
	FeatureNames []string
	Scaler       Scaler
	HiddenDims   []int
	Dropout      float64
	Version      string

	hidden []*layer
	outW   *mat.Dense // 1 x lastHiddenDim
	outB   float64

	inputSize int
}

// NewModel constructs an untrained Model with the given feature schema
// and hidden-layer topology (typically [512,256,128,64]).
func NewModel(featureNames []string, hiddenDims []int, dropout float64, version string) *Model {
	m := &Model{
		FeatureNames: featureNames,
		HiddenDims:   hiddenDims,
		Dropout:      dropout,
		Version:      version,
		inputSize:    len(featureNames),
		Scaler:       Scaler{Mean: make([]float64, len(featureNames)), Std: ones(len(featureNames))},
	}
	in := m.inputSize
	for _, h := range hiddenDims {
		m.hidden = append(m.hidden, newLayer(in, h))
		in = h
	}
	m.outW = mat.NewDense(1, in, nil)
	initXavier(m.outW, in, 1)
	return m
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// forward runs the network with batchnorm on running statistics,
// applying dropout only when training is true, and returns the post-ReLU
// output of every hidden layer (needed by training's backward pass) plus
// the final logit.
func (m *Model) forward(x []float64, training bool) (hiddenOuts [][]float64, logit float64) {
	cur := x
	for _, l := range m.hidden {
		lin := linear(l.W, l.B, cur)
		bn := batchNorm(lin, l.Gamma, l.Beta, l.RunningMean, l.RunningVar)
		relu := reluVec(bn)
		if training && m.Dropout > 0 {
			relu = dropoutVec(relu, m.Dropout)
		}
		hiddenOuts = append(hiddenOuts, relu)
		cur = relu
	}
	logit = dot(m.outW.RawRowView(0), cur) + m.outB
	return hiddenOuts, logit
}

func linear(w *mat.Dense, b []float64, x []float64) []float64 {
	r, _ := w.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = dot(w.RawRowView(i), x) + b[i]
	}
	return out
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func batchNorm(x, gamma, beta, mean, vr []float64) []float64 {
	const eps = 1e-5
	out := make([]float64, len(x))
	for i, v := range x {
		norm := (v - mean[i]) / math.Sqrt(vr[i]+eps)
		out[i] = gamma[i]*norm + beta[i]
	}
	return out
}

func reluVec(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if v > 0 {
			out[i] = v
		}
	}
	return out
}

// dropoutVec is a deterministic dropout approximation used only during
// training's forward pass: every unit is scaled by the keep probability
// (1-rate) instead of being zeroed by a sampled mask. Inference always
// runs in eval mode and never calls this.
func dropoutVec(x []float64, rate float64) []float64 {
	if rate <= 0 {
		return x
	}
	keep := 1 - rate
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * keep // expected-value scaling in place of per-unit sampling
	}
	return out
}

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

// Predict scales x by the persisted scaler and returns (label, prob).
// Deterministic: no randomness at inference time.
func (m *Model) Predict(x []float64) (bool, float64) {
	scaled := m.Scaler.Normalize(padOrTrim(x, m.inputSize))
	_, logit := m.forward(scaled, false)
	prob := sigmoid(logit)
	return prob >= 0.5, prob
}

// PredictBatch runs Predict over every row of X.
func (m *Model) PredictBatch(X [][]float64) ([]bool, []float64) {
	labels := make([]bool, len(X))
	probs := make([]float64, len(X))
	for i, x := range X {
		labels[i], probs[i] = m.Predict(x)
	}
	return labels, probs
}

func padOrTrim(x []float64, n int) []float64 {
	if len(x) == n {
		return x
	}
	out := make([]float64, n)
	copy(out, x)
	return out
}

// InputSize returns the model's expected feature-vector width.
func (m *Model) InputSize() int { return m.inputSize }

// FeatureOrderMatches reports whether names matches the model's
// persisted feature order exactly. Order is significant: the scaler
// parameters and first-layer weights are positional.
func (m *Model) FeatureOrderMatches(names []string) bool {
	if len(names) != len(m.FeatureNames) {
		return false
	}
	for i, n := range names {
		if n != m.FeatureNames[i] {
			return false
		}
	}
	return true
}

func (m *Model) String() string {
	return fmt.Sprintf("classifier(version=%s, input=%d, hidden=%v)", m.Version, m.inputSize, m.HiddenDims)
}

// Classifier wraps a Model behind a read/write lock: inference takes a
// shared lock, training takes the exclusive lock.
type Classifier struct {
	mu    sync.RWMutex
	model *Model
}

// New wraps an initial Model.
func New(m *Model) *Classifier { return &Classifier{model: m} }

// Predict takes a shared lock for the duration of one inference.
func (c *Classifier) Predict(x []float64) (bool, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model.Predict(x)
}

// PredictBatch takes a shared lock for the duration of one batch.
func (c *Classifier) PredictBatch(X [][]float64) ([]bool, []float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model.PredictBatch(X)
}

// WithWriteLock runs fn with the classifier's exclusive lock held, for
// the continuous learner's train/rollback/commit critical sections.
func (c *Classifier) WithWriteLock(fn func(m *Model) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.model)
}

// Snapshot returns the current model under a shared lock, for save().
func (c *Classifier) Snapshot() *Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// Replace atomically swaps in a new model under the exclusive lock
// (used by rollback to restore a backed-up checkpoint).
func (c *Classifier) Replace(m *Model) {
	c.mu.Lock()
	c.model = m
	c.mu.Unlock()
}
