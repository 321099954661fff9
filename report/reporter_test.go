package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentilesOfKnownDistribution(t *testing.T) {
	samples := make([]time.Duration, 0, 100)
	for i := 1; i <= 100; i++ {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	p50, p95 := percentiles(samples)
	assert.Equal(t, 50*time.Millisecond, p50)
	assert.Equal(t, 95*time.Millisecond, p95)
}

func TestPercentilesEmptyIsZero(t *testing.T) {
	p50, p95 := percentiles(nil)
	assert.Zero(t, p50)
	assert.Zero(t, p95)
}

func TestRunEmitsPeriodicAndFinalSnapshots(t *testing.T) {
	var mu sync.Mutex
	var snaps []Snapshot

	r := New(Config{
		Interval: 10 * time.Millisecond,
		Sink: func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			snaps = append(snaps, s)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(snaps), 2)
	assert.True(t, snaps[len(snaps)-1].Final)
	for _, s := range snaps[:len(snaps)-1] {
		assert.False(t, s.Final)
	}
}

func TestStopEmitsFinalSnapshotAndReturnsPromptly(t *testing.T) {
	var mu sync.Mutex
	var snaps []Snapshot

	r := New(Config{
		Interval: time.Hour, // long enough that only Stop triggers output
		Sink: func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			snaps = append(snaps, s)
		},
	})

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Final)
}

func TestRecordGenerationTimeBoundsSampleWindow(t *testing.T) {
	r := New(Config{})
	for i := 0; i < maxLatencySamples+100; i++ {
		r.RecordGenerationTime(time.Millisecond)
	}
	assert.Len(t, r.latencies, maxLatencySamples)
}
