package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitDeterministic(t *testing.T) {
	a := Split(42, 3, 7)
	b := Split(42, 3, 7)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Uint64(), b.Uint64())
	}
}

func TestSplitIndependence(t *testing.T) {
	a := Split(42, 0)
	b := Split(42, 1)
	same := true
	for i := 0; i < 8; i++ {
		if a.Uint64() != b.Uint64() {
			same = false
			break
		}
	}
	assert.False(t, same, "streams split with different labels should diverge")
}

func TestIntRangeBounds(t *testing.T) {
	s := Split(1, 0)
	for i := 0; i < 1000; i++ {
		v := s.IntRange(3, 3)
		assert.Equal(t, int64(3), v)
	}
	for i := 0; i < 1000; i++ {
		v := s.IntRange(-5, 5)
		assert.GreaterOrEqual(t, v, int64(-5))
		assert.LessOrEqual(t, v, int64(5))
	}
}

func TestWeightedIndexDistribution(t *testing.T) {
	s := Split(1, 0)
	counts := make([]int, 2)
	const n = 40000
	for i := 0; i < n; i++ {
		counts[s.WeightedIndex([]int{3, 1})]++
	}
	ratio := float64(counts[0]) / float64(n)
	assert.InDelta(t, 0.75, ratio, 0.02)
}
