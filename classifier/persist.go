package classifier

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	safelink "github.com/Nagarohit29/Safelink"
)

// checkpoint is the on-disk representation of a Model, round-tripped
// through encoding/gob. It is the single source of truth for a saved
// model: feature order, scaler, every layer's parameters, and the
// version tag travel together so a load can never mix halves of two
// different models.
type checkpoint struct {
	FeatureNames []string
	ScalerMean   []float64
	ScalerStd    []float64
	HiddenDims   []int
	Dropout      float64
	Version      string

	HiddenW           [][][]float64
	HiddenB           [][]float64
	HiddenGamma       [][]float64
	HiddenBeta        [][]float64
	HiddenRunningMean [][]float64
	HiddenRunningVar  [][]float64

	OutW []float64
	OutB float64
}

func toCheckpoint(m *Model) checkpoint {
	ck := checkpoint{
		FeatureNames: m.FeatureNames,
		ScalerMean:   m.Scaler.Mean,
		ScalerStd:    m.Scaler.Std,
		HiddenDims:   m.HiddenDims,
		Dropout:      m.Dropout,
		Version:      m.Version,
	}
	for _, l := range m.hidden {
		r, c := l.W.Dims()
		w := make([][]float64, r)
		for i := 0; i < r; i++ {
			row := make([]float64, c)
			for j := 0; j < c; j++ {
				row[j] = l.W.At(i, j)
			}
			w[i] = row
		}
		ck.HiddenW = append(ck.HiddenW, w)
		ck.HiddenB = append(ck.HiddenB, append([]float64(nil), l.B...))
		ck.HiddenGamma = append(ck.HiddenGamma, append([]float64(nil), l.Gamma...))
		ck.HiddenBeta = append(ck.HiddenBeta, append([]float64(nil), l.Beta...))
		ck.HiddenRunningMean = append(ck.HiddenRunningMean, append([]float64(nil), l.RunningMean...))
		ck.HiddenRunningVar = append(ck.HiddenRunningVar, append([]float64(nil), l.RunningVar...))
	}
	_, c := m.outW.Dims()
	outW := make([]float64, c)
	for j := 0; j < c; j++ {
		outW[j] = m.outW.At(0, j)
	}
	ck.OutW = outW
	ck.OutB = m.outB
	return ck
}

func fromCheckpoint(ck checkpoint) *Model {
	m := NewModel(ck.FeatureNames, ck.HiddenDims, ck.Dropout, ck.Version)
	m.Scaler = Scaler{Mean: ck.ScalerMean, Std: ck.ScalerStd}
	for i, l := range m.hidden {
		r, c := l.W.Dims()
		for ri := 0; ri < r; ri++ {
			for ci := 0; ci < c; ci++ {
				l.W.Set(ri, ci, ck.HiddenW[i][ri][ci])
			}
		}
		copy(l.B, ck.HiddenB[i])
		copy(l.Gamma, ck.HiddenGamma[i])
		copy(l.Beta, ck.HiddenBeta[i])
		copy(l.RunningMean, ck.HiddenRunningMean[i])
		copy(l.RunningVar, ck.HiddenRunningVar[i])
	}
	for j, v := range ck.OutW {
		m.outW.Set(0, j, v)
	}
	m.outB = ck.OutB
	return m
}

// Save persists m to path atomically: encode to a temp file in the same
// directory, then rename over the destination.
func Save(m *Model, path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".classifier-*.tmp")
	if err != nil {
		return fmt.Errorf("classifier: create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := gob.NewEncoder(tmp).Encode(toCheckpoint(m)); err != nil {
		tmp.Close()
		return fmt.Errorf("classifier: encode checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("classifier: close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("classifier: rename checkpoint into place: %w", err)
	}
	return nil
}

// Load reads a checkpoint from path. If expectedFeatures is non-nil, the
// loaded checkpoint's feature order must match it exactly, or
// ErrModelCheckpointMismatch is returned — callers treat that as fatal
// rather than inferring against a misaligned scaler.
func Load(path string, expectedFeatures []string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: open checkpoint: %w", err)
	}
	defer f.Close()

	var ck checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, fmt.Errorf("classifier: decode checkpoint: %w", err)
	}

	if expectedFeatures != nil {
		if len(expectedFeatures) != len(ck.FeatureNames) {
			return nil, safelink.ErrModelCheckpointMismatch
		}
		for i, n := range expectedFeatures {
			if n != ck.FeatureNames[i] {
				return nil, safelink.ErrModelCheckpointMismatch
			}
		}
	}

	return fromCheckpoint(ck), nil
}
