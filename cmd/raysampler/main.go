package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"raysampler/internal/config"
	"raysampler/internal/dataset"
	"raysampler/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	dataRoot := flag.String("data-root", "", "Override dataset root (holds one directory of shards per split)")
	split := flag.String("split", "", "Override training split")
	evalSplit := flag.String("eval-split", "", "Override evaluation split")
	strategy := flag.String("strategy", "", "Ray sampling strategy: all_images or same_image")
	randomRays := flag.String("random-rays", "", "Override pixel-wise sampling: true or false")
	steps := flag.Int("steps", 0, "Number of training steps")
	batchSize := flag.Int("batch-size", 0, "Rays per batch in pixel-wise mode")
	numWorkers := flag.Int("num-workers", 0, "Number of prefetch and loader workers")
	seed := flag.Uint64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")
	synthetic := flag.Int("synthetic", 0, "Generate N synthetic images instead of reading shards")
	export := flag.String("export", "", "Write the loaded tables as shards under this root and exit")

	flag.Parse()

	cfg, err := config.ReadFile(*cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("config=%s missing, using flags only", *cfgPath)
		cfg = &config.Config{}
	} else if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	overrides := config.Overrides{
		DataRoot:        *dataRoot,
		Split:           *split,
		EvalSplit:       *evalSplit,
		Strategy:        *strategy,
		Steps:           *steps,
		BatchSize:       *batchSize,
		NumWorkers:      *numWorkers,
		Seed:            *seed,
		LogEvery:        *logEvery,
		SyntheticImages: *synthetic,
	}
	switch *randomRays {
	case "":
	case "true":
		on := true
		overrides.RandomRays = &on
	case "false":
		off := false
		overrides.RandomRays = &off
	default:
		log.Fatalf("invalid -random-rays %q", *randomRays)
	}
	cfg.ApplyOverrides(overrides)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poses, rays, err := loadSplit(ctx, cfg, cfg.Split)
	if err != nil {
		log.Fatalf("load split %s: %v", cfg.Split, err)
	}
	log.Printf("split=%s images=%d channels=%d downsample=%g", cfg.Split, len(poses), rays.Channels(), cfg.Downsample)

	if *export != "" {
		path := filepath.Join(*export, cfg.Split, dataset.ShardName(0))
		if err := dataset.WriteShardFile(path, dataset.Records(poses, rays)); err != nil {
			log.Fatalf("export: %v", err)
		}
		log.Printf("exported shard=%s images=%d", path, len(poses))
		return
	}

	train, err := dataset.NewProvider(poses, rays, cfg.ProviderOptions(cfg.Split))
	if err != nil {
		log.Fatalf("build provider: %v", err)
	}

	mdl, err := trainer.Run(ctx, trainer.RunConfig{
		Provider:     train,
		Steps:        cfg.Steps,
		NumWorkers:   cfg.NumWorkers,
		LogEvery:     cfg.LogEvery,
		Seed:         cfg.Seed,
		LearningRate: cfg.LearningRate,
	})
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}

	if cfg.EvalSplit == "" {
		return
	}
	evalPoses, evalRays, err := loadSplit(ctx, cfg, cfg.EvalSplit)
	if err != nil {
		log.Fatalf("load split %s: %v", cfg.EvalSplit, err)
	}
	evalProvider, err := dataset.NewProvider(evalPoses, evalRays, cfg.ProviderOptions(cfg.EvalSplit))
	if err != nil {
		log.Fatalf("build eval provider: %v", err)
	}
	res, err := trainer.Evaluate(ctx, evalProvider, mdl)
	if err != nil {
		log.Fatalf("evaluation failed: %v", err)
	}
	log.Printf("eval split=%s images=%d skipped=%d mse=%.5f psnr=%.2f", cfg.EvalSplit, res.Images, res.Skipped, res.MSE, res.PSNR)
}

// loadSplit reads split's shards, or synthesises tables when no data root is set.
// Synthetic splits differ only by seed.
func loadSplit(ctx context.Context, cfg *config.Config, split string) (dataset.PoseTable, dataset.RayTable, error) {
	if cfg.DataRoot == "" {
		seed := cfg.Seed
		if split != cfg.Split {
			seed++
		}
		return dataset.Synthetic(cfg.SyntheticImages, cfg.ImgW, cfg.ImgH, cfg.SyntheticChannels, seed)
	}
	shards, err := dataset.DiscoverSplit(cfg.DataRoot, split)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("split=%s shards=%d", split, len(shards))
	return dataset.LoadTables(ctx, shards, dataset.LoaderOptions{NumWorkers: cfg.NumWorkers})
}

