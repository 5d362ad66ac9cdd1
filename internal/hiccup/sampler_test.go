package hiccup

import (
	"sync"
	"testing"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptClock advances virtual time instead of sleeping. Each sleep elapses
// the next scripted duration (so the script is the sequence of *actual*
// elapsed times the sampler observes); once the script runs dry, sleeps
// elapse exactly what was requested.
type scriptClock struct {
	mu     sync.Mutex
	nowNs  int64
	script []int64
	i      int
}

func (c *scriptClock) NowNs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowNs
}

func (c *scriptClock) WallMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowNs / 1e6
}

func (c *scriptClock) SleepNs(ns int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.i < len(c.script) {
		c.nowNs += c.script[c.i]
		c.i++
		return
	}
	c.nowNs += ns
}

// drainSampler swap-polls the live sampler until the collected histograms
// hold at least want samples, or the deadline passes.
func drainSampler(t *testing.T, s *LiveSampler, rec *Recorder, want int64) *hdrhistogram.Histogram {
	t.Helper()
	total := rec.NewHistogram()
	deadline := time.Now().Add(5 * time.Second)
	for total.TotalCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d samples, have %d", want, total.TotalCount())
		}
		old := s.SwapInterval(rec.NewHistogram())
		total.Merge(old)
	}
	return total
}

func TestLiveSamplerRecordsNonNegativeHiccups(t *testing.T) {
	const res = int64(1e6)
	clock := &scriptClock{}
	rec := newTestRecorder()
	s := NewLiveSampler(clock, rec, res, false)
	s.Start()

	total := drainSampler(t, s, rec, 100)
	s.Terminate()
	s.Join()

	assert.GreaterOrEqual(t, total.Min(), int64(0))
}

func TestLiveSamplerStallIsCorrected(t *testing.T) {
	const res = int64(1e6)
	clock := &scriptClock{
		// Three clean ticks establish the rolling minimum, then a 201ms
		// elapsed sleep is a 200ms hiccup.
		script: []int64{1e6, 1e6, 1e6, 201e6},
	}
	rec := newTestRecorder()
	s := NewLiveSampler(clock, rec, res, false)
	s.Start()

	// First delta is skipped; two zeros, then the stall expands to 200
	// corrected counts, then zeros from the script fallback.
	total := drainSampler(t, s, rec, 210)
	s.Terminate()
	s.Join()

	assert.InDelta(t, 200e6, float64(total.Max()), 3e6)
	assert.GreaterOrEqual(t, total.TotalCount(), int64(202))
}

func TestLiveSamplerFirstSampleSkipped(t *testing.T) {
	clock := &scriptClock{}
	rec := newTestRecorder()
	s := NewLiveSampler(clock, rec, 1e6, false)
	s.Start()
	total := drainSampler(t, s, rec, 10)
	s.Terminate()
	s.Join()

	// With a constant scripted delta every hiccup is zero: the first delta
	// never sets a nonzero floor because it is not recorded at all.
	assert.EqualValues(t, 0, total.Max())
}

func TestLiveSamplerAllocationProbe(t *testing.T) {
	clock := &scriptClock{}
	rec := newTestRecorder()
	s := NewLiveSampler(clock, rec, 1e6, true)
	s.Start()
	drainSampler(t, s, rec, 10)
	s.Terminate()
	s.Join()

	require.NotNil(t, s.probe.Load())
}

func TestLiveSamplerAdvanceToReachesDeadline(t *testing.T) {
	clock := &scriptClock{}
	rec := newTestRecorder()
	s := NewLiveSampler(clock, rec, 1e6, false)

	out := s.AdvanceTo(500e6)
	assert.False(t, out.Terminated)
	assert.GreaterOrEqual(t, out.NowNs, int64(500e6))

	// Advancing again with the clock already past the deadline returns the
	// same outcome kind immediately.
	out2 := s.AdvanceTo(500e6)
	assert.False(t, out2.Terminated)
	assert.GreaterOrEqual(t, out2.NowNs, int64(500e6))
}

func TestLiveSamplerAdvanceToObservesTermination(t *testing.T) {
	clock := &scriptClock{}
	rec := newTestRecorder()
	s := NewLiveSampler(clock, rec, 1e6, false)
	s.Start()
	s.Terminate()
	s.Join()

	out := s.AdvanceTo(clock.NowNs() + int64(time.Hour))
	assert.True(t, out.Terminated)
}

func TestLiveSamplerSwapAfterTermination(t *testing.T) {
	clock := &scriptClock{}
	rec := newTestRecorder()
	s := NewLiveSampler(clock, rec, 1e6, false)
	s.Start()
	drainSampler(t, s, rec, 5)
	s.Terminate()
	s.Join()

	// The writer is gone; the swap must still complete.
	old := s.SwapInterval(rec.NewHistogram())
	assert.NotNil(t, old)
}
