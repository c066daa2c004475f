package model

// Batch represents a minibatch of ray features and target colours.
type Batch struct {
	Inputs  [][]float64
	Targets [][3]float64
}

// Model defines the minimal training functionality required by the trainer.
type Model interface {
	TrainStep(batch Batch) float64
	Predict(input []float64) [3]float64
}
