// Package oracle keeps the spot price history the pool settles against.
package oracle

import (
	"sync"

	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"

	"github.com/google/btree"
)

const bucketSeconds = int64(3600)

// PricePoint is one observation.
type PricePoint struct {
	Timestamp int64        `json:"timestamp"`
	Price     fpmath.Fixed `json:"price"`
}

// bucket holds the first observation of one hour.
type bucket struct {
	hour  int64
	point PricePoint
}

func lessBucket(a, b bucket) bool { return a.hour < b.hour }

// BucketOracle records spot observations into hour buckets. The first
// observation in an hour is the one kept for settlement; the latest
// observation overall is the live spot.
type BucketOracle struct {
	mu      sync.RWMutex
	buckets *btree.BTreeG[bucket]
	latest  PricePoint
	hasAny  bool
}

func NewBucketOracle() *BucketOracle {
	return &BucketOracle{
		buckets: btree.NewG[bucket](16, lessBucket),
	}
}

// Record stores an observation. Timestamps must not go backwards.
func (o *BucketOracle) Record(ts int64, price fpmath.Fixed) error {
	if !price.IsPositive() {
		return poolerr.Newf(poolerr.ErrInvalidAmount, "price must be positive, got %s", price)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.hasAny && ts < o.latest.Timestamp {
		return poolerr.Newf(poolerr.ErrStalePrice, "observation at %d older than latest %d", ts, o.latest.Timestamp)
	}

	p := PricePoint{Timestamp: ts, Price: price}
	o.latest = p
	o.hasAny = true

	b := bucket{hour: ts / bucketSeconds, point: p}
	if _, exists := o.buckets.Get(b); !exists {
		o.buckets.ReplaceOrInsert(b)
	}
	return nil
}

// LatestPrice returns the most recent observation.
func (o *BucketOracle) LatestPrice() (PricePoint, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest, o.hasAny
}

// PriceAtOrAfter returns the first kept observation with timestamp >= ts.
func (o *BucketOracle) PriceAtOrAfter(ts int64) (PricePoint, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var (
		found PricePoint
		ok    bool
	)
	o.buckets.AscendGreaterOrEqual(bucket{hour: ts / bucketSeconds}, func(b bucket) bool {
		if b.point.Timestamp < ts {
			return true
		}
		found, ok = b.point, true
		return false
	})
	return found, ok
}

// Snapshot returns every kept observation plus the latest one.
func (o *BucketOracle) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := Snapshot{Buckets: make([]PricePoint, 0, o.buckets.Len())}
	o.buckets.Ascend(func(b bucket) bool {
		snap.Buckets = append(snap.Buckets, b.point)
		return true
	})
	if o.hasAny {
		latest := o.latest
		snap.Latest = &latest
	}
	return snap
}

// Restore replaces the history with snap.
func (o *BucketOracle) Restore(snap Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.buckets = btree.NewG[bucket](16, lessBucket)
	for _, p := range snap.Buckets {
		o.buckets.ReplaceOrInsert(bucket{hour: p.Timestamp / bucketSeconds, point: p})
	}
	o.hasAny = snap.Latest != nil
	if snap.Latest != nil {
		o.latest = *snap.Latest
	} else {
		o.latest = PricePoint{}
	}
}

type Snapshot struct {
	Buckets []PricePoint `json:"buckets"`
	Latest  *PricePoint  `json:"latest,omitempty"`
}
