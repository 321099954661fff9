// Package unique implements the probabilistic duplicate detector over the
// stream of generated queries (spec.md §4.6, §8 P3). It is the one shared
// mutable structure on the generation hot path (spec.md §5): concurrent
// check_and_add calls probe a bit array split into independently locked
// shards, so unrelated probes rarely contend (§5's "sharded locking
// strategy"); the only thing serialized across all of Filter is the rare
// rotation pointer-swap, guarded by a RWMutex that CheckAndAdd only holds
// long enough to read the current/sealed pointers.
package unique

import (
	"hash/fnv"
	"hash/maphash"
	"math"
	"sync"
	"sync/atomic"
)

// Fingerprint is the 128-bit content hash of a generated query, split
// across two independent 64-bit halves so the Bloom filter's k probes can
// be derived from them via double hashing (Kirsch–Mitzenmacher) without
// re-hashing the original string k times.
type Fingerprint [2]uint64

var maphashSeed = maphash.MakeSeed()

// Fingerprint128 hashes a query string into a Fingerprint. The two halves
// come from independent hash families (fnv-1a and the seeded, AES-backed
// hash/maphash) — per DESIGN.md, the retrieval pack has no Bloom-filter or
// generic 128-bit hash library, but fnv is the pack's own convention for
// this kind of content hash (sqldef's testutil.go, gokanlogic's pldb.go),
// so it supplies one half; maphash supplies an independent second half.
func Fingerprint128(query string) Fingerprint {
	f1 := fnv.New64a()
	_, _ = f1.Write([]byte(query))

	var h maphash.Hash
	h.SetSeed(maphashSeed)
	_, _ = h.WriteString(query)

	return Fingerprint{f1.Sum64(), h.Sum64()}
}

const shardCount = 64

// bits is a fixed-size bit array split into shardCount independently
// locked shards, so unrelated probes rarely contend.
type bits struct {
	m      uint64 // total bit count
	shards []shard
}

type shard struct {
	mu   sync.Mutex
	bits []uint64
}

func newBits(m uint64) *bits {
	if m == 0 {
		m = 1
	}
	perShard := (m + shardCount - 1) / shardCount
	words := (perShard + 63) / 64
	b := &bits{m: m, shards: make([]shard, shardCount)}
	for i := range b.shards {
		b.shards[i].bits = make([]uint64, words)
	}
	return b
}

func (b *bits) shardFor(pos uint64) (*shard, uint64) {
	perShard := (b.m + shardCount - 1) / shardCount
	shardIdx := pos / perShard
	if shardIdx >= shardCount {
		shardIdx = shardCount - 1
	}
	within := pos % perShard
	return &b.shards[shardIdx], within
}

// testAndSet sets the bit at pos and reports whether it was already set.
func (b *bits) testAndSet(pos uint64) bool {
	s, within := b.shardFor(pos)
	word := within / 64
	bit := within % 64
	s.mu.Lock()
	defer s.mu.Unlock()
	mask := uint64(1) << bit
	was := s.bits[word]&mask != 0
	s.bits[word] |= mask
	return was
}

// test reports whether the bit at pos is set, without setting it.
func (b *bits) test(pos uint64) bool {
	s, within := b.shardFor(pos)
	word := within / 64
	bit := within % 64
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits[word]&(uint64(1)<<bit) != 0
}

func (b *bits) popcount() uint64 {
	var n uint64
	for i := range b.shards {
		b.shards[i].mu.Lock()
		for _, w := range b.shards[i].bits {
			n += uint64(popcountWord(w))
		}
		b.shards[i].mu.Unlock()
	}
	return n
}

func popcountWord(w uint64) int {
	count := 0
	for w != 0 {
		w &= w - 1
		count++
	}
	return count
}

// filter is one generation's Bloom filter: sized m bits, k hash probes.
// setBits tracks 0->1 bit transitions incrementally so loadFactor never
// has to re-popcount the whole array on the hot path.
type filter struct {
	b       *bits
	k       int
	m       uint64
	setBits atomic.Uint64
}

func newFilter(capacityN uint64, targetFPR float64) *filter {
	if capacityN == 0 {
		capacityN = 1
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}
	m := uint64(math.Ceil(-float64(capacityN) * math.Log(targetFPR) / (math.Ln2 * math.Ln2)))
	if m == 0 {
		m = 1
	}
	k := int(math.Round(float64(m) / float64(capacityN) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return &filter{b: newBits(m), k: k, m: m}
}

func (f *filter) probes(fp Fingerprint) []uint64 {
	positions := make([]uint64, f.k)
	h1, h2 := fp[0], fp[1]
	for i := 0; i < f.k; i++ {
		positions[i] = (h1 + uint64(i)*h2) % f.m
	}
	return positions
}

// addAndCheck sets every probe bit and reports whether all of them were
// already set (i.e. this fingerprint was, modulo false positives, already
// present).
func (f *filter) addAndCheck(fp Fingerprint) bool {
	allSet := true
	for _, pos := range f.probes(fp) {
		if !f.b.testAndSet(pos) {
			allSet = false
			f.setBits.Add(1)
		}
	}
	return allSet
}

// contains reports whether every probe bit is set, without mutating the
// filter — used for the sealed (read-only) half of a Filter's rotation
// window.
func (f *filter) contains(fp Fingerprint) bool {
	for _, pos := range f.probes(fp) {
		if !f.b.test(pos) {
			return false
		}
	}
	return true
}

// loadFactor reads the incremental setBits counter rather than popcounting
// the bit array; popcount() remains for tests that want to cross-check it.
func (f *filter) loadFactor() float64 {
	return float64(f.setBits.Load()) / float64(f.m)
}

// Filter is the C6 Uniqueness filter: two generations (current write
// target and one sealed read-only generation) unioned on lookup, rotated
// when the write target's load factor crosses RotateThreshold. This
// bounds memory to roughly 2x one filter's size while preserving
// uniqueness over a sliding window of about 2*capacity_n queries — the
// explicit trade for bounded memory at billion-query scale (spec.md
// §4.6).
type Filter struct {
	// rotateMu guards only the current/sealed pointer swap; the bit-probe
	// path (filter.addAndCheck/contains) takes a brief RLock to read the
	// pointers and otherwise relies on bits' per-shard locks, so unrelated
	// CheckAndAdd calls parallelize instead of serializing on one mutex.
	rotateMu sync.RWMutex

	capacityN uint64
	targetFPR float64
	threshold float64

	current *filter
	sealed  *filter // nil until the first rotation

	fresh      atomic.Uint64
	duplicates atomic.Uint64
}

// Config carries the Bloom-filter sizing and rotation knobs from run
// configuration (spec.md §6.2 uniqueness.*).
type Config struct {
	CapacityN       uint64
	TargetFPR       float64
	RotateThreshold float64 // load factor at which the write target seals; default 0.5
}

// New creates a Filter ready to accept check_and_add calls.
func New(cfg Config) *Filter {
	threshold := cfg.RotateThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Filter{
		capacityN: cfg.CapacityN,
		targetFPR: cfg.TargetFPR,
		threshold: threshold,
		current:   newFilter(cfg.CapacityN, cfg.TargetFPR),
	}
}

// Result is the outcome of CheckAndAdd.
type Result int

const (
	Fresh Result = iota
	Duplicate
)

// CheckAndAdd reports Fresh or Duplicate for fp, per spec.md §4.6/§8 P3:
// it never falsely reports Fresh for a fingerprint already observed in
// the current rotation window, but may falsely report Duplicate at a
// rate bounded by the configured target FPR.
func (f *Filter) CheckAndAdd(fp Fingerprint) Result {
	f.rotateMu.RLock()
	current, sealed := f.current, f.sealed
	f.rotateMu.RUnlock()

	seenInSealed := sealed != nil && sealed.contains(fp)
	allSetInCurrent := current.addAndCheck(fp)

	if seenInSealed || allSetInCurrent {
		f.duplicates.Add(1)
		return Duplicate
	}
	f.fresh.Add(1)
	f.maybeRotate(current)
	return Fresh
}

// maybeRotate seals current and starts a fresh write target once its load
// factor crosses the threshold. current is the pointer the caller already
// probed; the f.current != current recheck under the write lock means a
// rotation only ever happens once even if many goroutines cross the
// threshold concurrently.
func (f *Filter) maybeRotate(current *filter) {
	if current.loadFactor() < f.threshold {
		return
	}
	f.rotateMu.Lock()
	defer f.rotateMu.Unlock()
	if f.current != current {
		return
	}
	f.sealed = f.current
	f.current = newFilter(f.capacityN, f.targetFPR)
}

// LoadFactor returns the current write target's load factor.
func (f *Filter) LoadFactor() float64 {
	f.rotateMu.RLock()
	current := f.current
	f.rotateMu.RUnlock()
	return current.loadFactor()
}

// Stats returns the running fresh/duplicate counters.
func (f *Filter) Stats() (fresh, duplicates uint64) {
	return f.fresh.Load(), f.duplicates.Load()
}
