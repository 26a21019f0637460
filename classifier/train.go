package classifier

import "math"

// TrainOpts configures one incremental_update invocation. Zero values
// are NOT valid; callers should start from DefaultTrainOpts.
type TrainOpts struct {
	Epochs       int
	LR           float64
	WeightDecay  float64
	BatchSize    int
}

// DefaultTrainOpts returns the incremental-update defaults: a short,
// low-learning-rate pass that nudges an existing model rather than
// retraining it.
func DefaultTrainOpts() TrainOpts {
	return TrainOpts{Epochs: 3, LR: 1e-4, WeightDecay: 1e-4, BatchSize: 32}
}

// TrainResult is the summary IncrementalUpdate returns.
type TrainResult struct {
	LossMean       float64
	AccuracyPercent float64
	NSamples       int
}

// IncrementalUpdate performs a small number of gradient-descent epochs
// over (X, y) against the hidden-layer and output linear weights. Only
// the linear weights are learnable here: batchnorm affine parameters
// are treated as fixed running statistics during incremental updates,
// which keeps the single-writer critical section a bounded,
// self-contained nudge rather than a from-scratch training loop.
//
// The model is left in eval mode on return (no dropout, batchnorm on
// running stats).
func (m *Model) IncrementalUpdate(X [][]float64, y []float64, opts TrainOpts) TrainResult {
	n := len(X)
	if n == 0 || opts.BatchSize <= 0 {
		return TrainResult{}
	}

	var totalLoss float64
	var totalCorrect int
	var totalSeen int

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for start := 0; start < n; start += opts.BatchSize {
			end := start + opts.BatchSize
			if end > n {
				end = n
			}
			loss, correct := m.trainBatch(X[start:end], y[start:end], opts)
			totalLoss += loss * float64(end-start)
			totalCorrect += correct
			totalSeen += end - start
		}
	}

	result := TrainResult{NSamples: n}
	if totalSeen > 0 {
		result.LossMean = totalLoss / float64(totalSeen)
		result.AccuracyPercent = 100.0 * float64(totalCorrect) / float64(totalSeen)
	}
	return result
}

// trainBatch runs one minibatch of SGD and returns the batch's mean
// loss and correct-prediction count.
func (m *Model) trainBatch(X [][]float64, y []float64, opts TrainOpts) (meanLoss float64, correct int) {
	type layerGrad struct {
		dW [][]float64
		dB []float64
	}
	grads := make([]layerGrad, len(m.hidden))
	for i, l := range m.hidden {
		r, c := l.W.Dims()
		grads[i] = layerGrad{dW: make([][]float64, r), dB: make([]float64, r)}
		for j := range grads[i].dW {
			grads[i].dW[j] = make([]float64, c)
		}
	}
	_, lastDim := m.outW.Dims()
	doutW := make([]float64, lastDim)
	var doutB float64

	var lossSum float64
	for bi := range X {
		scaled := m.Scaler.Normalize(padOrTrim(X[bi], m.inputSize))
		hiddenOuts, logit := m.forward(scaled, true)
		prob := sigmoid(logit)
		label := y[bi]

		lossSum += bceLoss(prob, label)
		if (prob >= 0.5) == (label >= 0.5) {
			correct++
		}

		dLogit := prob - label // dL/dlogit for BCE with sigmoid

		// output layer gradient
		last := scaled
		if len(hiddenOuts) > 0 {
			last = hiddenOuts[len(hiddenOuts)-1]
		}
		for i, v := range last {
			doutW[i] += dLogit * v
		}
		doutB += dLogit

		// backprop into hidden stack
		dUpstream := make([]float64, len(last))
		for i := range dUpstream {
			dUpstream[i] = dLogit * m.outW.At(0, i)
		}

		inputs := append([][]float64{scaled}, hiddenOuts...)
		for li := len(m.hidden) - 1; li >= 0; li-- {
			l := m.hidden[li]
			preAct := hiddenOuts[li]
			dz := make([]float64, len(preAct))
			for i, a := range preAct {
				if a > 0 {
					dz[i] = dUpstream[i] * l.Gamma[i] / math.Sqrt(l.RunningVar[i]+1e-5)
				}
			}
			in := inputs[li]
			for i := range dz {
				for j := range in {
					grads[li].dW[i][j] += dz[i] * in[j]
				}
				grads[li].dB[i] += dz[i]
			}

			if li > 0 {
				next := make([]float64, len(in))
				r, c := l.W.Dims()
				for j := 0; j < c; j++ {
					var sum float64
					for i := 0; i < r; i++ {
						sum += l.W.At(i, j) * dz[i]
					}
					next[j] = sum
				}
				dUpstream = next
			}
		}
	}

	batchN := float64(len(X))
	lr := opts.LR
	wd := opts.WeightDecay

	for i := 0; i < lastDim; i++ {
		g := doutW[i]/batchN + wd*m.outW.At(0, i)
		m.outW.Set(0, i, m.outW.At(0, i)-lr*g)
	}
	m.outB -= lr * (doutB/batchN + wd*m.outB)

	for li, l := range m.hidden {
		r, c := l.W.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				g := grads[li].dW[i][j]/batchN + wd*l.W.At(i, j)
				l.W.Set(i, j, l.W.At(i, j)-lr*g)
			}
			l.B[i] -= lr * (grads[li].dB[i]/batchN + wd*l.B[i])
		}
	}

	return lossSum / batchN, correct
}

func bceLoss(prob, label float64) float64 {
	const eps = 1e-7
	p := math.Min(math.Max(prob, eps), 1-eps)
	if label >= 0.5 {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}
