package dataset

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// TrainLength is the nominal epoch size reported for training splits. Training
// draws with replacement, so the epoch size is decoupled from the image count.
const TrainLength = 1000

var (
	// ErrIndexOutOfRange reports a bad record index or sampling from an empty table.
	ErrIndexOutOfRange = errors.New("dataset: index out of range")
	// ErrUnsupportedConfiguration reports an unknown sampling strategy or invalid option.
	ErrUnsupportedConfiguration = errors.New("dataset: unsupported configuration")
	// ErrInvalidSamplingWindow reports a patch that does not fit inside the image.
	ErrInvalidSamplingWindow = errors.New("dataset: invalid sampling window")
)

// Strategy selects how image indices are drawn for a training batch.
type Strategy int

const (
	// AllImages draws an independent image per ray.
	AllImages Strategy = iota
	// SameImage draws one image for the whole batch.
	SameImage
)

func (s Strategy) String() string {
	switch s {
	case AllImages:
		return "all_images"
	case SameImage:
		return "same_image"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.TrimSpace(name) {
	case "all_images":
		return AllImages, nil
	case "same_image":
		return SameImage, nil
	default:
		return 0, fmt.Errorf("%w: ray sampling strategy %q", ErrUnsupportedConfiguration, name)
	}
}

// PoseTable holds one 3x4 camera-to-world matrix per image.
type PoseTable []*mat.Dense

// RayTable holds one [pixels, channels] block per image.
type RayTable []*mat.Dense

// Channels returns the per-ray channel count, or 0 for an empty table.
func (t RayTable) Channels() int {
	if len(t) == 0 {
		return 0
	}
	_, c := t[0].Dims()
	return c
}

// Options configures a Provider.
type Options struct {
	Split             string
	Downsample        float64
	Strategy          Strategy
	BatchSize         int
	PatchSize         int
	PatchSamplingSize int
	Width             int
	Height            int
	RandomRays        bool
	// Seed seeds the provider's own random source; 0 means the default seed 42.
	Seed              uint64
}

// Sample is one unit handed to the training loop.
//
// Training samples carry one entry per ray in ImgIdxs, PixIdxs and RGB rows;
// Exposure is per ray when the rays carry a fourth channel. Evaluation samples
// carry the pose, ImgIdxs of length one, the full image in RGB when ground
// truth is loaded, and a single exposure value.
type Sample struct {
	ImgIdxs  []int
	PixIdxs  []int
	RGB      *mat.Dense
	Exposure []float64
	Pose     *mat.Dense
	Eval     bool
}

// Image reports the image index shared by every ray of the sample.
func (s Sample) Image() (int, bool) {
	if len(s.ImgIdxs) == 0 {
		return 0, false
	}
	first := s.ImgIdxs[0]
	for _, idx := range s.ImgIdxs[1:] {
		if idx != first {
			return 0, false
		}
	}
	return first, true
}

// Rays returns the number of rays carried by the sample.
func (s Sample) Rays() int {
	if s.RGB == nil {
		return 0
	}
	r, _ := s.RGB.Dims()
	return r
}

// Provider yields ray batches for training splits and whole images otherwise.
// The tables are never mutated; Get serialises access to the provider's own
// random source, GetRand lets callers bring their own.
type Provider struct {
	opts  Options
	poses PoseTable
	rays  RayTable

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider validates the tables against opts and builds a Provider.
func NewProvider(poses PoseTable, rays RayTable, opts Options) (*Provider, error) {
	if opts.Strategy != AllImages && opts.Strategy != SameImage {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfiguration, opts.Strategy)
	}
	if opts.Downsample <= 0 {
		opts.Downsample = 1
	}
	if opts.PatchSamplingSize <= 0 {
		opts.PatchSamplingSize = 1
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	train := isTrainSplit(opts.Split)
	if train {
		if opts.Width <= 0 || opts.Height <= 0 {
			return nil, fmt.Errorf("%w: image size %dx%d", ErrUnsupportedConfiguration, opts.Width, opts.Height)
		}
		if opts.RandomRays && opts.BatchSize <= 0 {
			return nil, fmt.Errorf("%w: batch size %d", ErrUnsupportedConfiguration, opts.BatchSize)
		}
		if !opts.RandomRays && opts.PatchSize <= 0 {
			return nil, fmt.Errorf("%w: patch size %d", ErrUnsupportedConfiguration, opts.PatchSize)
		}
	}
	if len(rays) > 0 {
		if len(rays) != len(poses) {
			return nil, fmt.Errorf("%w: %d ray blocks for %d poses", ErrShapeMismatch, len(rays), len(poses))
		}
		if opts.Width <= 0 || opts.Height <= 0 {
			return nil, fmt.Errorf("%w: image size %dx%d with rays loaded", ErrUnsupportedConfiguration, opts.Width, opts.Height)
		}
		channels := rays.Channels()
		if channels != 3 && channels != 4 {
			return nil, fmt.Errorf("%w: %d channels per ray", ErrShapeMismatch, channels)
		}
		for i, block := range rays {
			r, c := block.Dims()
			if c != channels {
				return nil, fmt.Errorf("%w: image %d has %d channels, want %d", ErrShapeMismatch, i, c, channels)
			}
			if r != opts.Width*opts.Height {
				return nil, fmt.Errorf("%w: image %d has %d rays, want %d", ErrShapeMismatch, i, r, opts.Width*opts.Height)
			}
		}
	}
	return &Provider{
		opts:  opts,
		poses: poses,
		rays:  rays,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

func isTrainSplit(split string) bool {
	return strings.HasPrefix(split, "train")
}

// Train reports whether the provider samples random batches.
func (p *Provider) Train() bool { return isTrainSplit(p.opts.Split) }

// Downsample returns the configured downsample factor.
func (p *Provider) Downsample() float64 { return p.opts.Downsample }

// Options returns the effective options.
func (p *Provider) Options() Options { return p.opts }

// NumImages returns the pose count.
func (p *Provider) NumImages() int { return len(p.poses) }

// Channels returns the per-ray channel count, 0 when no rays are loaded.
func (p *Provider) Channels() int { return p.rays.Channels() }

// Len returns TrainLength for training splits and the pose count otherwise.
func (p *Provider) Len() int {
	if p.Train() {
		return TrainLength
	}
	return len(p.poses)
}

// Get returns the sample at index. Training splits ignore index.
func (p *Provider) Get(index int) (Sample, error) {
	if !p.Train() {
		return p.record(index)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sample(p.rng)
}

// GetRand is Get drawing from a caller-owned random source.
func (p *Provider) GetRand(r *rand.Rand, index int) (Sample, error) {
	if !p.Train() {
		return p.record(index)
	}
	return p.sample(r)
}

func (p *Provider) record(index int) (Sample, error) {
	if index < 0 || index >= len(p.poses) {
		return Sample{}, fmt.Errorf("%w: record %d of %d", ErrIndexOutOfRange, index, len(p.poses))
	}
	s := Sample{Pose: p.poses[index], ImgIdxs: []int{index}, Eval: true}
	if len(p.rays) == 0 {
		return s, nil
	}
	block := p.rays[index]
	r, c := block.Dims()
	s.RGB = block.Slice(0, r, 0, 3).(*mat.Dense)
	if c == 4 {
		// exposure is constant across an evaluation image
		s.Exposure = []float64{block.At(0, 3)}
	}
	return s, nil
}

func (p *Provider) sample(r *rand.Rand) (Sample, error) {
	n := len(p.poses)
	if n == 0 || len(p.rays) == 0 {
		return Sample{}, fmt.Errorf("%w: sampling from %d poses and %d ray blocks", ErrIndexOutOfRange, n, len(p.rays))
	}

	var imgs, pixs []int
	if p.opts.RandomRays {
		var err error
		imgs, err = p.drawImages(r, n)
		if err != nil {
			return Sample{}, err
		}
		pixs = p.drawPixels(r)
	} else {
		var err error
		pixs, err = p.drawPatch(r)
		if err != nil {
			return Sample{}, err
		}
		img := r.Intn(n)
		imgs = make([]int, len(pixs))
		for i := range imgs {
			imgs[i] = img
		}
	}
	return p.gather(imgs, pixs), nil
}

func (p *Provider) drawImages(r *rand.Rand, n int) ([]int, error) {
	imgs := make([]int, p.opts.BatchSize)
	switch p.opts.Strategy {
	case AllImages:
		for i := range imgs {
			imgs[i] = r.Intn(n)
		}
	case SameImage:
		img := r.Intn(n)
		for i := range imgs {
			imgs[i] = img
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfiguration, p.opts.Strategy)
	}
	return imgs, nil
}

func (p *Provider) drawPixels(r *rand.Rand) []int {
	total := p.opts.Width * p.opts.Height
	pixs := make([]int, p.opts.BatchSize)
	for i := range pixs {
		pixs[i] = r.Intn(total)
	}
	return pixs
}

// drawPatch picks a strided patch; pixel (x, y) flattens to x*Height + y.
func (p *Provider) drawPatch(r *rand.Rand) ([]int, error) {
	size, stride := p.opts.PatchSize, p.opts.PatchSamplingSize
	extent := size * stride
	spanX := p.opts.Width - extent
	spanY := p.opts.Height - extent
	if spanX <= 0 || spanY <= 0 {
		return nil, fmt.Errorf("%w: patch extent %d in %dx%d image", ErrInvalidSamplingWindow, extent, p.opts.Width, p.opts.Height)
	}
	x0 := r.Intn(spanX)
	y0 := r.Intn(spanY)
	pixs := make([]int, 0, size*size)
	for i := 0; i < size; i++ {
		x := x0 + i*stride
		for j := 0; j < size; j++ {
			y := y0 + j*stride
			pixs = append(pixs, x*p.opts.Height+y)
		}
	}
	return pixs, nil
}

func (p *Provider) gather(imgs, pixs []int) Sample {
	channels := p.rays.Channels()
	rgb := mat.NewDense(len(pixs), 3, nil)
	var exposure []float64
	if channels == 4 {
		exposure = make([]float64, len(pixs))
	}
	for i, pix := range pixs {
		row := p.rays[imgs[i]].RawRowView(pix)
		rgb.SetRow(i, row[:3])
		if exposure != nil {
			exposure[i] = row[3]
		}
	}
	return Sample{ImgIdxs: imgs, PixIdxs: pixs, RGB: rgb, Exposure: exposure}
}
