// Package retention implements the rolling-window merge used by every
// in-memory series the engine keeps: ordered by timestamp, deduplicated
// with latest-write-wins, pruned to a retention horizon.
package retention

import (
	"sort"
	"time"
)

// Point is any time-stamped sample.
type Point interface {
	At() time.Time
}

// Merge combines existing and incoming points into a single series that is
// strictly ascending by timestamp, has unique timestamps, and contains no
// point older than now-horizon.
//
// When two points share a timestamp the later-arriving one wins: incoming
// overrides existing, and within incoming the last occurrence overrides
// earlier ones. This makes Merge idempotent (merging a merged series with
// itself is a no-op) and insensitive to the arrival order of
// non-overlapping batches.
func Merge[P Point](existing, incoming []P, now time.Time, horizon time.Duration) []P {
	cutoff := now.Add(-horizon)

	type indexed struct {
		point P
		seq   int
	}

	byTS := make(map[int64]indexed, len(existing)+len(incoming))
	seq := 0
	absorb := func(points []P) {
		for _, p := range points {
			ts := p.At().UnixNano()
			if cur, ok := byTS[ts]; !ok || seq >= cur.seq {
				byTS[ts] = indexed{point: p, seq: seq}
			}
			seq++
		}
	}
	absorb(existing)
	absorb(incoming)

	merged := make([]P, 0, len(byTS))
	for _, entry := range byTS {
		if entry.point.At().Before(cutoff) {
			continue
		}
		merged = append(merged, entry.point)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].At().Before(merged[j].At())
	})
	return merged
}

// Window returns the suffix of a merged series no older than now-span. It
// is a view used for display-window selection; the retained series is the
// single store.
func Window[P Point](points []P, span time.Duration, now time.Time) []P {
	cutoff := now.Add(-span)
	// Points are ascending, so find the first one inside the window.
	idx := sort.Search(len(points), func(i int) bool {
		return !points[i].At().Before(cutoff)
	})
	out := make([]P, len(points)-idx)
	copy(out, points[idx:])
	return out
}
