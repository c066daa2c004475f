package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"raysampler/internal/dataset"
)

// Config captures the runtime knobs for a sampling and training run.
type Config struct {
	DataRoot          string  `yaml:"data_root"`
	Split             string  `yaml:"split"`
	EvalSplit         string  `yaml:"eval_split"`
	Downsample        float64 `yaml:"downsample"`
	Strategy          string  `yaml:"ray_sampling_strategy"`
	BatchSize         int     `yaml:"batch_size"`
	PatchSize         int     `yaml:"patch_size"`
	PatchSamplingSize int     `yaml:"patch_sampling_size"`
	ImgW              int     `yaml:"img_w"`
	ImgH              int     `yaml:"img_h"`
	RandomRays        bool    `yaml:"random_rays"`
	Steps             int     `yaml:"steps"`
	NumWorkers        int     `yaml:"num_workers"`
	Seed              uint64  `yaml:"seed"`
	LogEvery          int     `yaml:"log_every"`
	LearningRate      float64 `yaml:"learning_rate"`
	SyntheticImages   int     `yaml:"synthetic_images"`
	SyntheticChannels int     `yaml:"synthetic_channels"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataRoot        string
	Split           string
	EvalSplit       string
	Strategy        string
	RandomRays      *bool
	Steps           int
	BatchSize       int
	NumWorkers      int
	Seed            uint64
	LogEvery        int
	SyntheticImages int
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ReadFile reads a Config from YAML without validating it, so that CLI
// overrides can be applied first.
func ReadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML without validating it. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataRoot != "" {
		c.DataRoot = o.DataRoot
	}
	if o.Split != "" {
		c.Split = o.Split
	}
	if o.EvalSplit != "" {
		c.EvalSplit = o.EvalSplit
	}
	if o.Strategy != "" {
		c.Strategy = o.Strategy
	}
	if o.RandomRays != nil {
		c.RandomRays = *o.RandomRays
	}
	if o.Steps > 0 {
		c.Steps = o.Steps
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.SyntheticImages > 0 {
		c.SyntheticImages = o.SyntheticImages
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Split == "" {
		c.Split = "train"
	}
	if c.Strategy == "" {
		c.Strategy = "all_images"
	}
	if c.Downsample == 0 {
		c.Downsample = 1
	}
	if c.PatchSamplingSize == 0 {
		c.PatchSamplingSize = 1
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.05
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.SyntheticChannels == 0 {
		c.SyntheticChannels = 3
	}

	if c.DataRoot == "" && c.SyntheticImages <= 0 {
		return errors.New("either data_root or synthetic_images must be set")
	}
	if _, err := dataset.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.Downsample < 0 {
		return fmt.Errorf("downsample must be > 0 (got %g)", c.Downsample)
	}
	if c.ImgW <= 0 || c.ImgH <= 0 {
		return fmt.Errorf("img_w and img_h must be > 0 (got %dx%d)", c.ImgW, c.ImgH)
	}
	if c.Steps <= 0 {
		return fmt.Errorf("steps must be > 0 (got %d)", c.Steps)
	}
	if c.RandomRays && c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if !c.RandomRays {
		if c.PatchSize <= 0 {
			return fmt.Errorf("patch_size must be > 0 (got %d)", c.PatchSize)
		}
		if c.PatchSamplingSize < 0 {
			return fmt.Errorf("patch_sampling_size must be > 0 (got %d)", c.PatchSamplingSize)
		}
		extent := c.PatchSize * c.PatchSamplingSize
		if extent >= c.ImgW || extent >= c.ImgH {
			return fmt.Errorf("%w: patch extent %d does not fit %dx%d", dataset.ErrInvalidSamplingWindow, extent, c.ImgW, c.ImgH)
		}
	}
	if c.SyntheticChannels != 3 && c.SyntheticChannels != 4 {
		return fmt.Errorf("synthetic_channels must be 3 or 4 (got %d)", c.SyntheticChannels)
	}
	return nil
}

// ProviderOptions maps the config onto dataset options for split.
func (c *Config) ProviderOptions(split string) dataset.Options {
	strategy, _ := dataset.ParseStrategy(c.Strategy)
	return dataset.Options{
		Split:             split,
		Downsample:        c.Downsample,
		Strategy:          strategy,
		BatchSize:         c.BatchSize,
		PatchSize:         c.PatchSize,
		PatchSamplingSize: c.PatchSamplingSize,
		Width:             c.ImgW,
		Height:            c.ImgH,
		RandomRays:        c.RandomRays,
		Seed:              c.Seed,
	}
}
