// Package partition implements the Work partitioner (spec.md §4.7): it
// maps a total query budget to deterministic per-worker index ranges and
// derives each query's seed, and it owns the checkpoint file format that
// makes a run resumable (spec.md §6.3, §8 P7).
package partition

import (
	"github.com/queryforge/rqg/rng"
)

// Assignment is one worker's contiguous slice of the global index space.
type Assignment struct {
	Worker int
	Start  uint64
	Len    uint64
}

// End returns the exclusive upper bound of the assignment.
func (a Assignment) End() uint64 { return a.Start + a.Len }

// Plan assigns contiguous index ranges of size floor(total/workers) to
// each worker, with the remainder distributed to the first
// total%workers workers, per spec.md §4.7.
func Plan(total uint64, workers int) []Assignment {
	if workers <= 0 {
		workers = 1
	}
	base := total / uint64(workers)
	rem := total % uint64(workers)

	out := make([]Assignment, workers)
	var cursor uint64
	for w := 0; w < workers; w++ {
		length := base
		if uint64(w) < rem {
			length++
		}
		out[w] = Assignment{Worker: w, Start: cursor, Len: length}
		cursor += length
	}
	return out
}

// SeedFor derives the per-query seed for global index i generated by
// worker w, under masterSeed. This is the splittable derivation spec.md
// §4.7 requires to guarantee §3 invariant 5 and §8 P1/P2: the same
// (masterSeed, w, i) always yields the same seed, independent of how the
// run was partitioned, because the Stream derivation (rng.Split) only
// depends on these three values, never on worker count or batch size.
func SeedFor(masterSeed uint64, w int, i uint64) *rng.Stream {
	return rng.Split(masterSeed, uint64(w), i)
}
