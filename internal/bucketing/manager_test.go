package bucketing

import (
	"strings"
	"testing"
	"time"
)

func TestStorageShardIsStableAndInRange(t *testing.T) {
	bm := NewBucketingManager(16)
	for _, key := range []string{"tenant-a", "tenant-b", "t/1", ""} {
		first := bm.StorageShard(key)
		if first < 0 || first >= 16 {
			t.Fatalf("shard %d out of range for %q", first, key)
		}
		if again := bm.StorageShard(key); again != first {
			t.Fatalf("shard for %q changed: %d then %d", key, first, again)
		}
	}
}

func TestObjectKeyLayout(t *testing.T) {
	bm := NewBucketingManager(8)
	at := time.Date(2026, 3, 7, 23, 59, 0, 0, time.FixedZone("x", -2*3600))

	key := bm.ObjectKey("tenant-a", "cc-1", at)
	parts := strings.Split(key, "/")
	if len(parts) != 6 {
		t.Fatalf("expected 6 path segments, got %q", key)
	}
	if parts[0] != "tenant-a" {
		t.Fatalf("tenant prefix = %q", parts[0])
	}
	// 23:59 at UTC-2 is the next UTC day.
	if got := strings.Join(parts[2:5], "/"); got != "2026/03/08" {
		t.Fatalf("date segments = %q", got)
	}
	if parts[5] != "cc-1.json" {
		t.Fatalf("object name = %q", parts[5])
	}
}

func TestNonPositiveShardCountFallsBackToOne(t *testing.T) {
	bm := NewBucketingManager(0)
	if bm.StorageShards() != 1 || bm.StorageShard("anything") != 0 {
		t.Fatalf("expected single shard")
	}
}
