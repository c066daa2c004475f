package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// LoaderOptions configures LoadTables.
type LoaderOptions struct {
	NumWorkers int
	PendingCap int
}

type shardJob struct {
	id   int
	path string
}

type shardResult struct {
	id      int
	records []Record
	err     error
}

// LoadTables reads every shard and concatenates its records, in shard order
// then in-shard order, into a pose table and a ray table. The ray table is
// empty when no shard carries rays.
func LoadTables(parent context.Context, shards []string, opts LoaderOptions) (PoseTable, RayTable, error) {
	if len(shards) == 0 {
		return nil, nil, errors.New("loader: no shards provided")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	jobs := make(chan shardJob)
	results := make(chan shardResult, opts.NumWorkers)

	go func() {
		defer close(jobs)
		for id, path := range shards {
			select {
			case <-ctx.Done():
				return
			case jobs <- shardJob{id: id, path: path}:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loadWorker(ctx, jobs, results, opts.PendingCap)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	byShard := make([][]Record, len(shards))
	for res := range results {
		if res.err != nil {
			cancel()
			for range results {
			}
			return nil, nil, res.err
		}
		byShard[res.id] = res.records
	}
	if err := parent.Err(); err != nil {
		return nil, nil, err
	}

	var records []Record
	for _, recs := range byShard {
		records = append(records, recs...)
	}
	return assembleTables(records)
}

func loadWorker(ctx context.Context, jobs <-chan shardJob, results chan<- shardResult, pendingCap int) {
	for job := range jobs {
		recs, err := collectShard(ctx, job.path, pendingCap)
		select {
		case <-ctx.Done():
			return
		case results <- shardResult{id: job.id, records: recs, err: err}:
		}
	}
}

func collectShard(ctx context.Context, path string, pendingCap int) ([]Record, error) {
	stream, errCh := StreamShard(ctx, path, pendingCap)
	var recs []Record
	for rec := range stream {
		recs = append(recs, rec)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return recs, nil
}

func assembleTables(records []Record) (PoseTable, RayTable, error) {
	poses := make(PoseTable, 0, len(records))
	var rays RayTable
	withRays := 0
	for _, rec := range records {
		poses = append(poses, rec.Pose)
		if rec.Rays != nil {
			withRays++
		}
	}
	if withRays == 0 {
		return poses, nil, nil
	}
	if withRays != len(records) {
		return nil, nil, fmt.Errorf("%w: %d of %d images carry rays", ErrShapeMismatch, withRays, len(records))
	}
	rays = make(RayTable, 0, len(records))
	wantRows, wantCols := records[0].Rays.Dims()
	for _, rec := range records {
		r, c := rec.Rays.Dims()
		if r != wantRows || c != wantCols {
			return nil, nil, fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrShapeMismatch, rec.Key, r, c, wantRows, wantCols)
		}
		rays = append(rays, rec.Rays)
	}
	return poses, rays, nil
}
