package dataset

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPrefetchStreamsBatches(t *testing.T) {
	p := mustProvider(t, 4, 6, 6, 4, Options{Split: "train", Strategy: SameImage, RandomRays: true, BatchSize: 8})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, errCh, err := StartPrefetch(ctx, p, PrefetchOptions{NumWorkers: 3, Seed: 5})
	if err != nil {
		t.Fatalf("StartPrefetch: %v", err)
	}
	deadline := time.After(time.Second)
	for got := 0; got < 10; {
		select {
		case s, ok := <-stream:
			if !ok {
				t.Fatalf("stream closed after %d samples", got)
			}
			if s.Rays() != 8 || len(s.Exposure) != 8 {
				t.Fatalf("unexpected batch: rays=%d exposure=%d", s.Rays(), len(s.Exposure))
			}
			got++
		case err := <-errCh:
			t.Fatalf("prefetch error: %v", err)
		case <-deadline:
			t.Fatal("timed out waiting for samples")
		}
	}
	cancel()
	for range stream {
	}
}

func TestPrefetchReportsSamplingError(t *testing.T) {
	p := mustProvider(t, 2, 4, 4, 3, Options{Split: "train", PatchSize: 4, PatchSamplingSize: 1})
	stream, errCh, err := StartPrefetch(context.Background(), p, PrefetchOptions{NumWorkers: 2})
	if err != nil {
		t.Fatalf("StartPrefetch: %v", err)
	}
	for range stream {
	}
	if err := <-errCh; !errors.Is(err, ErrInvalidSamplingWindow) {
		t.Fatalf("expected ErrInvalidSamplingWindow, got %v", err)
	}
}

func TestPrefetchRejectsEvalSplit(t *testing.T) {
	p := mustProvider(t, 2, 4, 4, 3, Options{Split: "test"})
	if _, _, err := StartPrefetch(context.Background(), p, PrefetchOptions{}); err == nil {
		t.Fatal("expected error for evaluation split")
	}
}
