// Package holders rebuilds the growth of a token's holder base and the median
// holder contribution over adaptively sized time buckets.
package holders

import "time"

// MaxBuckets caps the number of buckets spanning a history.
const MaxBuckets = 240

// maxMultipleScan bounds the search for the smallest fitting multiple of the
// coarsest rung. Past it the guaranteed fit is returned.
const maxMultipleScan = 4096

// bucketLadder lists candidate bucket widths in seconds from finest to coarsest.
var bucketLadder = []int64{
	seconds(time.Minute),
	seconds(5 * time.Minute),
	seconds(15 * time.Minute),
	seconds(30 * time.Minute),
	seconds(time.Hour),
	seconds(2 * time.Hour),
	seconds(6 * time.Hour),
	seconds(12 * time.Hour),
	seconds(24 * time.Hour),
	seconds(48 * time.Hour),
	seconds(7 * 24 * time.Hour),
}

func seconds(d time.Duration) int64 { return int64(d / time.Second) }

// ChooseBucket returns, in seconds, the finest ladder width whose
// epoch-aligned buckets covering [minSec, maxSec] number at most MaxBuckets.
// Degenerate spans use the finest width. Spans too long for the coarsest rung
// use the smallest multiple of it that fits. Widths are int64 seconds; they
// can exceed the range of time.Duration.
func ChooseBucket(minSec, maxSec int64) int64 {
	if maxSec <= minSec {
		return bucketLadder[0]
	}

	for _, width := range bucketLadder {
		if BucketCount(minSec, maxSec, width) <= MaxBuckets {
			return width
		}
	}

	// Unsigned so the span of any int64 pair is exact.
	span := uint64(maxSec) - uint64(minSec)
	week := uint64(bucketLadder[len(bucketLadder)-1])

	// A width of at least span/(MaxBuckets-1) always fits. Anything narrower
	// than span/MaxBuckets never does.
	hi := ceilDiv(ceilDiv(span, MaxBuckets-1), week)
	lo := max(span/(MaxBuckets*week), 2)
	for m, n := lo, 0; m < hi && n < maxMultipleScan; m, n = m+1, n+1 {
		if width := int64(m * week); BucketCount(minSec, maxSec, width) <= MaxBuckets {
			return width
		}
	}
	return int64(hi * week)
}

// BucketCount returns how many epoch-aligned buckets of widthSec seconds
// cover [minSec, maxSec].
func BucketCount(minSec, maxSec, widthSec int64) int64 {
	if maxSec < minSec {
		return 0
	}
	w := max(widthSec, 1)
	return floorDiv(maxSec, w) - floorDiv(minSec, w) + 1
}

func ceilDiv(a, b uint64) uint64 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
