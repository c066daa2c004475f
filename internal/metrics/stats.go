package metrics

import (
	"time"

	"gonum.org/v1/gonum/floats"
)

// Window accumulates timing stats across multiple steps.
type Window struct {
	rays     int
	data     time.Duration
	compute  time.Duration
	steps    int
	lastLoss float64
	rgbSum   [3]float64
}

// Record adds a new measurement to the window. meanRGB is the batch's mean colour.
func (w *Window) Record(rays int, dataTime, computeTime time.Duration, loss float64, meanRGB [3]float64) {
	w.rays += rays
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lastLoss = loss
	floats.Add(w.rgbSum[:], meanRGB[:])
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.RaysPerSec = float64(w.rays) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		floats.ScaleTo(snap.MeanRGB[:], 1/float64(w.steps), w.rgbSum[:])
	}
	snap.LastLoss = w.lastLoss

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	RaysPerSec   float64
	AvgDataMS    float64
	AvgComputeMS float64
	LastLoss     float64
	MeanRGB      [3]float64
}
