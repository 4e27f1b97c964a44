// Package compliance maintains bounded per-owner sliding-window aggregates
// and evaluates an ordered rule set against them. Rule outcomes form a total
// order and are always aggregated by maximum, so adding a rule can never
// weaken an existing decision.
package compliance

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type bucket struct {
	index  int64
	count  uint32
	volume map[string]decimal.Decimal
}

type window struct {
	buckets []bucket
}

// State holds one fixed-size ring of time buckets per owner. Record rotates
// buckets as the clock advances; rotation is O(1) amortized because a stale
// slot is reset in place the first time it is touched.
//
// Time always comes from entry timestamps, never from the wall clock, so
// replay rebuilds the exact same windows the live path saw.
type State struct {
	bucketWidth time.Duration
	numBuckets  int
	windows     map[string]*window
	asOf        uint64
}

// NewState builds windows of numBuckets buckets, each bucketWidth wide.
// The default geometry is sixty one-minute buckets.
func NewState(numBuckets int, bucketWidth time.Duration) *State {
	return &State{
		bucketWidth: bucketWidth,
		numBuckets:  numBuckets,
		windows:     make(map[string]*window),
	}
}

func (s *State) bucketIndex(ts time.Time) int64 {
	return ts.UnixNano() / int64(s.bucketWidth)
}

func (s *State) slot(w *window, index int64) *bucket {
	b := &w.buckets[index%int64(s.numBuckets)]
	if b.index != index {
		b.index = index
		b.count = 0
		b.volume = make(map[string]decimal.Decimal, 1)
	}
	return b
}

// Record adds one transaction to the owner's current bucket.
func (s *State) Record(owner, asset string, amount decimal.Decimal, ts time.Time, sequence uint64) {
	w, ok := s.windows[owner]
	if !ok {
		w = &window{buckets: make([]bucket, s.numBuckets)}
		// unused slots must never alias a live bucket index
		for i := range w.buckets {
			w.buckets[i].index = -1
		}
		s.windows[owner] = w
	}
	b := s.slot(w, s.bucketIndex(ts))
	b.count++
	b.volume[asset] = b.volume[asset].Add(amount)
	if sequence > s.asOf {
		s.asOf = sequence
	}
}

// CountInLast returns the number of recorded transactions for the owner in
// the last span, measured back from now.
func (s *State) CountInLast(owner string, span time.Duration, now time.Time) uint32 {
	var total uint32
	s.eachLiveBucket(owner, span, now, func(b *bucket) {
		total += b.count
	})
	return total
}

// VolumeInLast returns the recorded volume for one asset over the span.
func (s *State) VolumeInLast(owner, asset string, span time.Duration, now time.Time) decimal.Decimal {
	total := decimal.Zero
	s.eachLiveBucket(owner, span, now, func(b *bucket) {
		total = total.Add(b.volume[asset])
	})
	return total
}

func (s *State) eachLiveBucket(owner string, span time.Duration, now time.Time, fn func(*bucket)) {
	w, ok := s.windows[owner]
	if !ok {
		return
	}
	nowIndex := s.bucketIndex(now)
	spanBuckets := int64(span / s.bucketWidth)
	if spanBuckets > int64(s.numBuckets) {
		spanBuckets = int64(s.numBuckets)
	}
	oldest := nowIndex - spanBuckets + 1
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.index >= oldest && b.index <= nowIndex {
			fn(b)
		}
	}
}

// AsOf is the sequence of the last recorded entry.
func (s *State) AsOf() uint64 { return s.asOf }

// NumBuckets and BucketWidth expose the window geometry so a replay can
// build a fresh state with identical shape.
func (s *State) NumBuckets() int { return s.numBuckets }

func (s *State) BucketWidth() time.Duration { return s.bucketWidth }

// Fingerprint folds all live window contents into a stable string for
// replay-determinism assertions.
func (s *State) Fingerprint() string {
	owners := make([]string, 0, len(s.windows))
	for o := range s.windows {
		owners = append(owners, o)
	}
	sort.Strings(owners)

	var out []byte
	for _, o := range owners {
		w := s.windows[o]
		type snap struct {
			index  int64
			count  uint32
			assets []string
			b      *bucket
		}
		var snaps []snap
		for i := range w.buckets {
			b := &w.buckets[i]
			if b.index < 0 || b.count == 0 {
				continue
			}
			assets := make([]string, 0, len(b.volume))
			for a := range b.volume {
				assets = append(assets, a)
			}
			sort.Strings(assets)
			snaps = append(snaps, snap{index: b.index, count: b.count, assets: assets, b: b})
		}
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].index < snaps[j].index })
		for _, sn := range snaps {
			out = append(out, o...)
			out = append(out, '#')
			out = strconv.AppendInt(out, sn.index, 10)
			out = append(out, ':')
			out = strconv.AppendUint(out, uint64(sn.count), 10)
			for _, a := range sn.assets {
				out = append(out, ',')
				out = append(out, a...)
				out = append(out, '=')
				out = append(out, sn.b.volume[a].String()...)
			}
			out = append(out, ';')
		}
	}
	return string(out)
}
