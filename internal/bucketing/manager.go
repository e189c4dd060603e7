package bucketing

import (
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads claim-check objects across storage prefixes so
// a single busy tenant does not hot-spot one prefix of the bucket.
type BucketingManager struct {
	storageShards int
	hasherPool    sync.Pool
}

func NewBucketingManager(storageShards int) *BucketingManager {
	if storageShards <= 0 {
		storageShards = 1
	}
	bm := &BucketingManager{storageShards: storageShards}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// StorageShard returns a consistent shard for key (0 to storageShards-1).
func (bm *BucketingManager) StorageShard(key string) int {
	return bm.getBucket(key, bm.storageShards)
}

// DateBucket returns the UTC calendar day of t.
func (bm *BucketingManager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006/01/02")
}

// ObjectKey builds the storage key for a raw batch:
// <tenant>/<shard>/<yyyy>/<mm>/<dd>/<object-id>.json
// objectID must be server generated; client supplied ids would let two
// batches share one object.
func (bm *BucketingManager) ObjectKey(tenantID, objectID string, at time.Time) string {
	return fmt.Sprintf("%s/%03d/%s/%s.json",
		tenantID, bm.StorageShard(tenantID+"/"+objectID), bm.DateBucket(at), objectID)
}

func (bm *BucketingManager) StorageShards() int {
	return bm.storageShards
}

// Private methods
func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	hash := bm.getHash(key)
	return int(hash % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
