package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"raysampler/internal/dataset"
)

const demoYAML = `
# demo run
data_root: /data/lego
split: train
eval_split: val
ray_sampling_strategy: same_image
batch_size: 128
img_w: 32
img_h: 24
random_rays: true
steps: 10
seed: 7
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(demoYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot != "/data/lego" || cfg.Strategy != "same_image" || cfg.BatchSize != 128 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.LogEvery != 50 || cfg.Downsample != 1 || cfg.PatchSamplingSize != 1 || cfg.NumWorkers != 1 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	opts := cfg.ProviderOptions(cfg.Split)
	if opts.Strategy != dataset.SameImage || opts.Width != 32 || opts.Height != 24 || !opts.RandomRays || opts.Seed != 7 {
		t.Fatalf("unexpected provider options %+v", opts)
	}
}

func TestParseRejectsUnknownKey(t *testing.T) {
	if _, err := Parse(strings.NewReader("steps: 3\nbogus: 1\n")); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestValidateRejectsStrategy(t *testing.T) {
	cfg := &Config{SyntheticImages: 2, Strategy: "every_image", ImgW: 8, ImgH: 8, Steps: 1, RandomRays: true, BatchSize: 4}
	if err := cfg.Validate(); !errors.Is(err, dataset.ErrUnsupportedConfiguration) {
		t.Fatalf("expected ErrUnsupportedConfiguration, got %v", err)
	}
}

func TestValidateRejectsPatchWindow(t *testing.T) {
	cfg := &Config{SyntheticImages: 2, ImgW: 8, ImgH: 8, Steps: 1, PatchSize: 4, PatchSamplingSize: 2}
	if err := cfg.Validate(); !errors.Is(err, dataset.ErrInvalidSamplingWindow) {
		t.Fatalf("expected ErrInvalidSamplingWindow, got %v", err)
	}
	cfg.PatchSize = 2
	if err := cfg.Validate(); err != nil {
		t.Fatalf("2x2 patch with stride 2 in 8x8: %v", err)
	}
}

func TestValidateNeedsSource(t *testing.T) {
	cfg := &Config{ImgW: 8, ImgH: 8, Steps: 1, RandomRays: true, BatchSize: 4}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without data_root or synthetic_images")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{Steps: 5, RandomRays: true, Strategy: "all_images"}
	off := false
	cfg.ApplyOverrides(Overrides{Steps: 9, RandomRays: &off, Strategy: "same_image", Seed: 3})
	if cfg.Steps != 9 || cfg.RandomRays || cfg.Strategy != "same_image" || cfg.Seed != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	cfg.ApplyOverrides(Overrides{})
	if cfg.Steps != 9 || cfg.RandomRays {
		t.Fatalf("zero overrides changed config: %+v", cfg)
	}
}
