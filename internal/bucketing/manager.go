package bucketing

import (
	"hash"
	"strconv"
	"sync"
	"time"

	"clinic-secops/internal/config"

	"github.com/spaolacci/murmur3"
)

const defaultEventBuckets = 64

// BucketingManager spreads audit events across archive partitions and stream keys.
type BucketingManager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

type BucketAssignment struct {
	EventBucket int    `json:"event_bucket"`
	DateBucket  string `json:"date_bucket"`
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	buckets := cfg.Security.EventBuckets
	if buckets <= 0 {
		buckets = defaultEventBuckets
	}

	bm := &BucketingManager{eventBuckets: buckets}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetEventBucket returns a stable bucket in [0, eventBuckets) for a principal or resource id
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return int(bm.getHash(identifier) % uint64(bm.eventBuckets))
}

// GetDateBucket returns the UTC day partition for t
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) Assign(identifier string, at time.Time) BucketAssignment {
	return BucketAssignment{
		EventBucket: bm.GetEventBucket(identifier),
		DateBucket:  bm.GetDateBucket(at),
	}
}

// PartitionKey is used as the Kafka message key so one principal's events stay ordered.
func (bm *BucketingManager) PartitionKey(identifier string) []byte {
	return []byte(strconv.Itoa(bm.GetEventBucket(identifier)))
}

func (bm *BucketingManager) EventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
