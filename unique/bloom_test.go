package unique

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S4 (first half): N distinct draws forced report all fresh, 0 duplicate.
func TestDistinctValuesAllFresh(t *testing.T) {
	f := New(Config{CapacityN: 16, TargetFPR: 0.01})
	for i := 0; i < 10; i++ {
		fp := Fingerprint128(fmt.Sprintf("SELECT %d", i))
		res := f.CheckAndAdd(fp)
		require.Equal(t, Fresh, res)
	}
	fresh, dup := f.Stats()
	assert.Equal(t, uint64(10), fresh)
	assert.Equal(t, uint64(0), dup)
}

// S4 (second half): repeated draws over a small population surface
// duplicates, with no false negatives — the first occurrence of each
// value must report Fresh, and every later occurrence must report
// Duplicate.
func TestRepeatedValuesReportDuplicate(t *testing.T) {
	f := New(Config{CapacityN: 16, TargetFPR: 0.01})
	seen := map[string]bool{}
	freshCount := 0
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("SELECT %d", i%10)
		fp := Fingerprint128(key)
		res := f.CheckAndAdd(fp)
		if !seen[key] {
			require.Equal(t, Fresh, res, "first occurrence of %q must be fresh", key)
			seen[key] = true
			freshCount++
		} else {
			require.Equal(t, Duplicate, res, "later occurrence of %q must be duplicate", key)
		}
	}
	assert.GreaterOrEqual(t, freshCount, 10)
	_, dup := f.Stats()
	assert.Greater(t, dup, uint64(0))
}

func TestNoFalseNegativesWithinWindow(t *testing.T) {
	f := New(Config{CapacityN: 10000, TargetFPR: 0.001})
	fps := make([]Fingerprint, 0, 500)
	for i := 0; i < 500; i++ {
		fp := Fingerprint128(fmt.Sprintf("q-%d", i))
		require.Equal(t, Fresh, f.CheckAndAdd(fp))
		fps = append(fps, fp)
	}
	for _, fp := range fps {
		assert.Equal(t, Duplicate, f.CheckAndAdd(fp))
	}
}

func TestRotationBoundsMemoryAndPreservesRecentWindow(t *testing.T) {
	f := New(Config{CapacityN: 64, TargetFPR: 0.01, RotateThreshold: 0.3})
	for i := 0; i < 400; i++ {
		fp := Fingerprint128(fmt.Sprintf("rot-%d", i))
		f.CheckAndAdd(fp)
	}
	// A very recently added fingerprint must still be recognized as a
	// duplicate even after several rotations.
	last := Fingerprint128("rot-399")
	assert.Equal(t, Duplicate, f.CheckAndAdd(last))
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a := Fingerprint128("SELECT 1")
	b := Fingerprint128("SELECT 1")
	assert.Equal(t, a, b)

	c := Fingerprint128("SELECT 2")
	assert.NotEqual(t, a, c)
}
