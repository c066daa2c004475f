package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 1.2, [3]float64{0.2, 0.4, 0.6})
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond, 0.8, [3]float64{0.4, 0.6, 0.8})
	snap := w.Snapshot()
	if math.Abs(snap.RaysPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.RaysPerSec)
	}
	if w.rays != 0 || w.steps != 0 {
		t.Fatalf("window was not reset")
	}
	if snap.LastLoss != 0.8 {
		t.Fatalf("expected last loss 0.8, got %.2f", snap.LastLoss)
	}
	want := [3]float64{0.3, 0.5, 0.7}
	for i := range want {
		if math.Abs(snap.MeanRGB[i]-want[i]) > 1e-12 {
			t.Fatalf("mean rgb %v, want %v", snap.MeanRGB, want)
		}
	}
}

func TestEmptySnapshot(t *testing.T) {
	var w Window
	snap := w.Snapshot()
	if snap.RaysPerSec != 0 || snap.AvgDataMS != 0 || snap.MeanRGB != [3]float64{} {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}
