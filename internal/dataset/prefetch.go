package dataset

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/exp/rand"
)

// PrefetchOptions configures StartPrefetch.
type PrefetchOptions struct {
	NumWorkers int
	Buffer     int
	// Seed is the first worker's seed; 0 means the default seed 42.
	Seed       uint64
}

// StartPrefetch launches workers that draw training samples from p, each with
// its own random source seeded Seed+i. The sample channel closes when ctx is
// cancelled or a worker fails; the first failure is sent on the error channel.
func StartPrefetch(ctx context.Context, p *Provider, opts PrefetchOptions) (<-chan Sample, <-chan error, error) {
	if p == nil {
		return nil, nil, errors.New("prefetch: nil provider")
	}
	if !p.Train() {
		return nil, nil, errors.New("prefetch: provider is not a training split")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = opts.NumWorkers * 2
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Sample, opts.Buffer)
	errCh := make(chan error, 1)

	var once sync.Once
	fail := func(err error) {
		once.Do(func() {
			errCh <- err
			cancel()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		rng := rand.New(rand.NewSource(opts.Seed + uint64(i)))
		go func() {
			defer wg.Done()
			for {
				sample, err := p.GetRand(rng, 0)
				if err != nil {
					fail(err)
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- sample:
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		cancel()
		close(out)
		close(errCh)
	}()

	return out, errCh, nil
}
