package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverShardsBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, ShardName(0)))
	mustWrite(t, filepath.Join(dir, "nested", ShardName(1)))
	mustWrite(t, filepath.Join(dir, "ignore.txt"))

	shards, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "nested", "shard-000001.tar"),
		filepath.Join(dir, "shard-000000.tar"),
	}
	if len(shards) != len(want) {
		t.Fatalf("expected %d shards, got %d", len(want), len(shards))
	}
	for i, shard := range want {
		if shards[i] != shard {
			t.Fatalf("shard[%d]=%s want %s", i, shards[i], shard)
		}
	}
}

func TestDiscoverSplit(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "train", ShardName(0)))
	mustWrite(t, filepath.Join(dir, "val", ShardName(0)))

	shards, err := DiscoverSplit(dir, "train")
	if err != nil {
		t.Fatalf("DiscoverSplit: %v", err)
	}
	if len(shards) != 1 || shards[0] != filepath.Join(dir, "train", "shard-000000.tar") {
		t.Fatalf("unexpected shards %v", shards)
	}

	if err := os.MkdirAll(filepath.Join(dir, "test"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := DiscoverSplit(dir, "test"); err == nil {
		t.Fatal("expected error for split without shards")
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
