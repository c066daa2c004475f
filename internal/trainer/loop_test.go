package trainer

import (
	"context"
	"math"
	"testing"

	"raysampler/internal/dataset"
)

func newProvider(t *testing.T, split string, opts dataset.Options) *dataset.Provider {
	t.Helper()
	poses, rays, err := dataset.Synthetic(4, 8, 6, 4, 2)
	if err != nil {
		t.Fatalf("Synthetic: %v", err)
	}
	opts.Split = split
	opts.Width, opts.Height = 8, 6
	p, err := dataset.NewProvider(poses, rays, opts)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p
}

func TestRayFeatures(t *testing.T) {
	p := newProvider(t, "train", dataset.Options{RandomRays: true, BatchSize: 4})
	got := rayFeatures(p, 3, 7*6+5, 0.5)
	want := []float64{1, 1, 1, 0.5, 1}
	if len(got) != featureSize {
		t.Fatalf("expected %d features, got %d", featureSize, len(got))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("features %v, want %v", got, want)
		}
	}
}

func TestRunAndEvaluate(t *testing.T) {
	train := newProvider(t, "train", dataset.Options{Strategy: dataset.AllImages, RandomRays: true, BatchSize: 32})
	mdl, err := Run(context.Background(), RunConfig{
		Provider:     train,
		Steps:        200,
		NumWorkers:   2,
		LogEvery:     100,
		Seed:         3,
		LearningRate: 0.05,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	val := newProvider(t, "val", dataset.Options{})
	res, err := Evaluate(context.Background(), val, mdl)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Images != 4 || res.Skipped != 0 {
		t.Fatalf("evaluated %d images, skipped %d", res.Images, res.Skipped)
	}
	if res.MSE <= 0 || res.MSE > 0.25 {
		t.Fatalf("unexpected mse %f", res.MSE)
	}
	if math.Abs(res.PSNR+10*math.Log10(res.MSE)) > 1e-9 {
		t.Fatalf("psnr %f inconsistent with mse %f", res.PSNR, res.MSE)
	}
}

func TestRunPatchMode(t *testing.T) {
	train := newProvider(t, "train", dataset.Options{Strategy: dataset.SameImage, PatchSize: 2, PatchSamplingSize: 2})
	if _, err := Run(context.Background(), RunConfig{Provider: train, Steps: 5, Seed: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunPropagatesSamplingError(t *testing.T) {
	train := newProvider(t, "train", dataset.Options{PatchSize: 3, PatchSamplingSize: 2})
	if _, err := Run(context.Background(), RunConfig{Provider: train, Steps: 5}); err == nil {
		t.Fatal("expected sampling window error")
	}
}

func TestEvaluateRejectsTrainSplit(t *testing.T) {
	train := newProvider(t, "train", dataset.Options{RandomRays: true, BatchSize: 4})
	mdl, err := Run(context.Background(), RunConfig{Provider: train, Steps: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := Evaluate(context.Background(), train, mdl); err == nil {
		t.Fatal("expected error evaluating a training split")
	}
}
