package model

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RadianceField is a linear map from ray features to RGB, trained with SGD on
// squared error.
type RadianceField struct {
	inputSize int
	weights   *mat.Dense
	bias      [3]float64
	lr        float64
}

// NewRadianceField constructs the model with small random weights.
func NewRadianceField(inputSize int, lr float64, seed uint64) *RadianceField {
	if inputSize <= 0 {
		inputSize = 4
	}
	if lr <= 0 {
		lr = 0.01
	}
	rng := rand.New(rand.NewSource(seed))
	weights := mat.NewDense(3, inputSize, nil)
	for c := 0; c < 3; c++ {
		row := weights.RawRowView(c)
		for j := range row {
			row[j] = (rng.Float64()*2 - 1) * 0.01
		}
	}
	return &RadianceField{inputSize: inputSize, weights: weights, lr: lr}
}

// Predict returns the colour for one ray's features.
func (m *RadianceField) Predict(input []float64) [3]float64 {
	var out [3]float64
	if len(input) != m.inputSize {
		return out
	}
	for c := 0; c < 3; c++ {
		out[c] = floats.Dot(m.weights.RawRowView(c), input) + m.bias[c]
	}
	return out
}

// TrainStep executes one SGD step per ray and returns the mean squared error.
// Batches whose targets do not pair up with their inputs are skipped.
func (m *RadianceField) TrainStep(batch Batch) float64 {
	if len(batch.Inputs) == 0 || len(batch.Targets) != len(batch.Inputs) {
		return 0
	}
	total := 0.0
	for i, input := range batch.Inputs {
		if len(input) != m.inputSize {
			continue
		}
		pred := m.Predict(input)
		for c := 0; c < 3; c++ {
			diff := pred[c] - batch.Targets[i][c]
			total += diff * diff / 3
			grad := 2 * diff / 3
			m.bias[c] -= m.lr * grad
			floats.AddScaled(m.weights.RawRowView(c), -m.lr*grad, input)
		}
	}
	return total / float64(len(batch.Inputs))
}
