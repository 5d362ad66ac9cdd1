package hiccup

import (
	"sync/atomic"

	"github.com/codahale/hdrhistogram"
)

// IntervalHistogram is one reporting interval's worth of samples, stamped
// with the interval's start and end (wall-clock ms for live sampling, input
// timeline ms for file replay).
type IntervalHistogram struct {
	StartMs int64
	EndMs   int64
	H       *hdrhistogram.Histogram
}

// Recorder owns the live histogram accumulator. Exactly one goroutine records
// into it (the sampler) and exactly one other goroutine rotates it (the
// reporter). The record path is wait-free and allocation-free: a pending swap
// is published through an atomic pointer and answered by the writer at its
// next record, so the writer never blocks and the swapper waits at most one
// sampling iteration.
type Recorder struct {
	live    *hdrhistogram.Histogram
	lowest  int64
	highest int64
	sigfigs int

	swapRequest atomic.Pointer[hdrhistogram.Histogram]
	swapped     chan *hdrhistogram.Histogram
}

func NewRecorder(lowestTrackableNs, highestTrackableNs int64, significantDigits int) *Recorder {
	// The backing library sizes buckets from 1..5 significant digits; the
	// historical surface admits 0, which collapses to 1 here.
	if significantDigits < 1 {
		significantDigits = 1
	}
	return &Recorder{
		live:    hdrhistogram.New(lowestTrackableNs, highestTrackableNs, significantDigits),
		lowest:  lowestTrackableNs,
		highest: highestTrackableNs,
		sigfigs: significantDigits,
		swapped: make(chan *hdrhistogram.Histogram, 1),
	}
}

// NewHistogram returns a fresh histogram sized like the recorder's own, for
// use as a swap replacement.
func (r *Recorder) NewHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(r.lowest, r.highest, r.sigfigs)
}

// Record adds one value with coordinated-omission correction: a value that
// exceeds the expected interval also records synthetic values at decreasing
// magnitudes, one expected interval apart, down to and including the
// expected interval itself (k counts for a value of k intervals). Values are
// clamped to the trackable range first so the wait-free path cannot fail.
// Writer goroutine only.
func (r *Recorder) Record(valueNs, expectedIntervalNs int64) {
	if valueNs > r.highest {
		valueNs = r.highest
	}
	if valueNs < 0 {
		valueNs = 0
	}
	r.live.RecordCorrectedValue(valueNs, expectedIntervalNs)
	r.pollSwap()
}

// RecordCount bulk-records count occurrences of a value without correction.
// Used for synthetic zero fill in file replay. Writer goroutine only.
func (r *Recorder) RecordCount(valueNs, count int64) {
	if count <= 0 {
		return
	}
	if valueNs > r.highest {
		valueNs = r.highest
	}
	if valueNs < 0 {
		valueNs = 0
	}
	r.live.RecordValues(valueNs, count)
	r.pollSwap()
}

// pollSwap answers a pending swap request: exchange the live histogram for
// the published replacement and hand the old one back on the (1-buffered)
// swapped channel. Never blocks.
func (r *Recorder) pollSwap() {
	repl := r.swapRequest.Load()
	if repl == nil {
		return
	}
	old := r.live
	r.live = repl
	r.swapRequest.Store(nil)
	r.swapped <- old
}

// requestSwap publishes a replacement for the writer to pick up.
func (r *Recorder) requestSwap(replacement *hdrhistogram.Histogram) {
	r.swapRequest.Store(replacement)
}

// takeRequest withdraws an unanswered swap request, if any.
func (r *Recorder) takeRequest() *hdrhistogram.Histogram {
	return r.swapRequest.Swap(nil)
}

// SwapDirect exchanges the live histogram in place. Only valid when the
// recording side and the swapping side share a goroutine (file replay), or
// after the writer has stopped.
func (r *Recorder) SwapDirect(replacement *hdrhistogram.Histogram) *hdrhistogram.Histogram {
	old := r.live
	r.live = replacement
	return old
}

// Reset discards all counts in the live histogram without reallocating.
// Only valid while no writer is running.
func (r *Recorder) Reset() {
	r.live.Reset()
}

// Live returns the live accumulator. Only valid once the writer has stopped.
func (r *Recorder) Live() *hdrhistogram.Histogram {
	return r.live
}
