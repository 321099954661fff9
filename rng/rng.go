// Package rng provides the deterministic, splittable random source used by
// grammar expansion. Every stream is derived from a master seed plus an
// integer label (worker id, global index, ...) so that a given
// (seed, label...) tuple always produces the same sequence, independent of
// any other stream derived from the same master seed.
package rng

import (
	"math/bits"
	"math/rand/v2"
)

// Stream is a thread-local source of uniform integers and reals. It holds
// no lock and must not be shared between goroutines; callers derive one
// Stream per worker (see Split) and keep it on that worker's goroutine.
type Stream struct {
	src *rand.PCG
	r   *rand.Rand
}

// Split derives a child stream from a master seed and an arbitrary number
// of integer labels (typically worker id, then global index). The
// derivation mixes the labels through a splitmix64-style avalanche before
// seeding a PCG generator, so siblings with different labels are
// independent under the PRF assumption even though they share a master
// seed.
func Split(masterSeed uint64, labels ...uint64) *Stream {
	h := masterSeed
	for _, l := range labels {
		h = mix(h ^ mix(l))
	}
	seed1 := mix(h)
	seed2 := mix(seed1 ^ masterSeed)
	src := rand.NewPCG(seed1, seed2)
	return &Stream{src: src, r: rand.New(src)}
}

// mix is the splitmix64 finalizer: a bijective avalanche over 64 bits.
func mix(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x = x ^ (x >> 31)
	return x
}

// Uint64 returns a uniform uint64.
func (s *Stream) Uint64() uint64 {
	return s.r.Uint64()
}

// Float64 returns a uniform float64 in [0, 1).
func (s *Stream) Float64() float64 {
	return s.r.Float64()
}

// IntRange returns a uniform integer in [lo, hi] inclusive. It panics if
// hi < lo, which indicates a grammar-construction bug; Freeze rejects
// Repeat bounds with min > max, but does not check Number's Lo/Hi.
func (s *Stream) IntRange(lo, hi int64) int64 {
	if hi < lo {
		panic("rng: IntRange requires hi >= lo")
	}
	span := uint64(hi-lo) + 1
	if span == 0 {
		// hi-lo+1 overflowed uint64: the full range was requested.
		return int64(s.r.Uint64())
	}
	return lo + int64(s.boundedUint64(span))
}

// boundedUint64 returns a uniform value in [0, bound) using Lemire's
// multiply-and-reject method, avoiding modulo bias for non-power-of-two
// bounds; a draw is rejected and redrawn only when the low product falls
// below the bias threshold.
func (s *Stream) boundedUint64(bound uint64) uint64 {
	hi, lo := bits.Mul64(s.r.Uint64(), bound)
	if lo < bound {
		threshold := -bound % bound
		for lo < threshold {
			hi, lo = bits.Mul64(s.r.Uint64(), bound)
		}
	}
	return hi
}

// WeightedIndex draws an index in [0, len(weights)) with probability
// proportional to weights[i]. Weights must be positive integers; callers
// validate this at Grammar freeze time per spec invariant 3.
func (s *Stream) WeightedIndex(weights []int) int {
	var total uint64
	for _, w := range weights {
		total += uint64(w)
	}
	r := s.boundedUint64(total)
	var cum uint64
	for i, w := range weights {
		cum += uint64(w)
		if r < cum {
			return i
		}
	}
	return len(weights) - 1
}
