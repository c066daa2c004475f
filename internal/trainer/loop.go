package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"raysampler/internal/dataset"
	"raysampler/internal/metrics"
	"raysampler/internal/model"
)

// featureSize is the width of the vector built by rayFeatures.
const featureSize = 5

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Provider     *dataset.Provider
	Steps        int
	NumWorkers   int
	LogEvery     int
	Seed         uint64
	LearningRate float64
}

// Run executes the training workload and returns the trained model.
func Run(ctx context.Context, cfg RunConfig) (*model.RadianceField, error) {
	if cfg.Provider == nil {
		return nil, errors.New("trainer: provider is nil")
	}
	if cfg.Steps <= 0 {
		return nil, errors.New("trainer: steps must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	samples, samplerErr, err := dataset.StartPrefetch(ctx, cfg.Provider, dataset.PrefetchOptions{
		NumWorkers: cfg.NumWorkers,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	mdl := model.NewRadianceField(featureSize, cfg.LearningRate, cfg.Seed)
	var window metrics.Window

	for step := 1; step <= cfg.Steps; step++ {
		startData := time.Now()
		sample, err := nextSample(ctx, samples, samplerErr)
		if err != nil {
			return nil, err
		}
		batch, mean := toBatch(cfg.Provider, sample)
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss := mdl.TrainStep(batch)
		computeTime := time.Since(startCompute)

		window.Record(len(batch.Inputs), dataTime, computeTime, loss, mean)

		if step%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			log.Printf("step=%d rays_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.5f mean_rgb=%.3f,%.3f,%.3f",
				step,
				snap.RaysPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.LastLoss,
				snap.MeanRGB[0], snap.MeanRGB[1], snap.MeanRGB[2],
			)
		}
	}

	return mdl, nil
}

func nextSample(ctx context.Context, samples <-chan dataset.Sample, errs <-chan error) (dataset.Sample, error) {
	for {
		select {
		case <-ctx.Done():
			return dataset.Sample{}, ctx.Err()
		case err, ok := <-errs:
			if ok && err != nil {
				return dataset.Sample{}, err
			}
			if !ok {
				errs = nil
			}
		case sample, ok := <-samples:
			if !ok {
				return dataset.Sample{}, errors.New("sampler closed")
			}
			return sample, nil
		}
	}
}

func toBatch(p *dataset.Provider, s dataset.Sample) (model.Batch, [3]float64) {
	n := s.Rays()
	batch := model.Batch{
		Inputs:  make([][]float64, n),
		Targets: make([][3]float64, n),
	}
	var mean [3]float64
	for i := 0; i < n; i++ {
		exposure := 0.0
		if len(s.Exposure) > 0 {
			exposure = s.Exposure[i]
		}
		batch.Inputs[i] = rayFeatures(p, s.ImgIdxs[i], s.PixIdxs[i], exposure)
		for c := 0; c < 3; c++ {
			batch.Targets[i][c] = s.RGB.At(i, c)
			mean[c] += s.RGB.At(i, c)
		}
	}
	if n > 0 {
		for c := range mean {
			mean[c] /= float64(n)
		}
	}
	return batch, mean
}

// rayFeatures encodes a ray as normalised pixel coordinates, the image's
// position in the table, its exposure and a constant term.
func rayFeatures(p *dataset.Provider, img, pix int, exposure float64) []float64 {
	opts := p.Options()
	x, y := pix/opts.Height, pix%opts.Height
	u := float64(x) / math.Max(1, float64(opts.Width-1))
	v := float64(y) / math.Max(1, float64(opts.Height-1))
	frac := 0.0
	if n := p.NumImages(); n > 1 {
		frac = float64(img) / float64(n-1)
	}
	return []float64{u, v, frac, exposure, 1}
}

// EvalResult summarises an evaluation pass.
type EvalResult struct {
	Images  int
	Skipped int
	MSE     float64
	PSNR    float64
}

// Evaluate predicts every pixel of every record of an evaluation provider and
// compares against ground truth. Records without ground truth are skipped.
func Evaluate(ctx context.Context, p *dataset.Provider, mdl model.Model) (EvalResult, error) {
	var res EvalResult
	if p == nil || mdl == nil {
		return res, errors.New("trainer: evaluate needs a provider and a model")
	}
	if p.Train() {
		return res, fmt.Errorf("trainer: cannot evaluate training split %q", p.Options().Split)
	}
	total := 0.0
	for i := 0; i < p.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s, err := p.Get(i)
		if err != nil {
			return res, err
		}
		if s.RGB == nil {
			res.Skipped++
			continue
		}
		exposure := 0.0
		if len(s.Exposure) > 0 {
			exposure = s.Exposure[0]
		}
		rows, _ := s.RGB.Dims()
		sq := 0.0
		for pix := 0; pix < rows; pix++ {
			pred := mdl.Predict(rayFeatures(p, i, pix, exposure))
			for c := 0; c < 3; c++ {
				d := pred[c] - s.RGB.At(pix, c)
				sq += d * d
			}
		}
		total += sq / float64(rows*3)
		res.Images++
	}
	if res.Images > 0 {
		res.MSE = total / float64(res.Images)
		res.PSNR = psnr(res.MSE)
	}
	return res, nil
}

func psnr(mse float64) float64 {
	if mse <= 0 {
		return math.Inf(1)
	}
	return -10 * math.Log10(mse)
}
