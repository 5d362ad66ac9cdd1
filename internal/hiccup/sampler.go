package hiccup

import (
	"math"
	"sync/atomic"

	"github.com/codahale/hdrhistogram"
)

// AdvanceOutcome is the result of driving a sampler to a deadline. Terminated
// means the sampler has no more samples to produce (end of input, or a
// cooperative stop was observed).
type AdvanceOutcome struct {
	NowNs      int64
	Terminated bool
}

// Sampler is the contract between the interval reporter and a sample source.
// The two variants — live sampling and file replay — differ in where their
// samples and their notion of "now" come from, and in how an interval
// histogram is handed over, so the swap is dispatched through here as well.
type Sampler interface {
	// Start begins producing samples (a no-op for pull-driven sources).
	Start()
	// AdvanceTo produces samples until the source's clock reaches the
	// deadline, then reports where it stopped.
	AdvanceTo(deadlineNs int64) AdvanceOutcome
	// SwapInterval exchanges the recorder's live histogram for the given
	// replacement and returns the previous one.
	SwapInterval(replacement *hdrhistogram.Histogram) *hdrhistogram.Histogram
	// Terminate requests a cooperative stop.
	Terminate()
	// Join blocks until the sampler has fully stopped.
	Join()
}

// tsSentinel marks "no previous timestamp"; the first delta of a sampling
// epoch is never recorded.
const tsSentinel = int64(math.MaxInt64)

// advancePollNs is the reporter-side poll granularity while sleeping toward a
// deadline. Coarse on purpose: the reporter's wakeups are not measurements.
const advancePollNs = int64(100e6)

// LiveSampler runs the hot sampling loop on its own goroutine: sleep for one
// resolution tick, read the clock, and record the elapsed time minus the
// rolling minimum ever observed. The rolling minimum is the empirical floor
// of sleep+wake+clock-read overhead, so the recorded hiccup means "time worse
// than the best this platform has shown", not "overslept the request".
type LiveSampler struct {
	clock        Clock
	rec          *Recorder
	resolutionNs int64
	allocate     bool

	stop atomic.Bool
	done chan struct{}

	// probe keeps the per-iteration allocation's store observable so the
	// allocator path cannot be optimized out.
	probe atomic.Pointer[int64]
}

func NewLiveSampler(clock Clock, rec *Recorder, resolutionNs int64, allocate bool) *LiveSampler {
	return &LiveSampler{
		clock:        clock,
		rec:          rec,
		resolutionNs: resolutionNs,
		allocate:     allocate,
		done:         make(chan struct{}),
	}
}

func (s *LiveSampler) Start() {
	go s.run()
}

func (s *LiveSampler) run() {
	defer close(s.done)
	// Answer a swap request that raced with termination; after done closes,
	// SwapInterval falls back to a direct exchange.
	defer s.rec.pollSwap()

	rollingMin := int64(math.MaxInt64)
	last := tsSentinel

	for !s.stop.Load() {
		if s.resolutionNs > 0 {
			s.clock.SleepNs(s.resolutionNs)
		}
		if s.allocate {
			p := new(int64)
			*p = last
			s.probe.Store(p)
		}
		now := s.clock.NowNs()
		delta := now - last
		if last == tsSentinel || delta < 0 {
			// First iteration of the epoch, or a clock anomaly that a
			// monotonic source must not produce. Either way there is no
			// meaningful delta yet.
			last = now
			continue
		}
		last = now
		if delta < rollingMin {
			rollingMin = delta
		}
		s.rec.Record(delta-rollingMin, s.resolutionNs)
	}
}

// AdvanceTo sleeps in coarse increments until the monotonic clock reaches the
// deadline. The sampling loop keeps running concurrently the whole time.
func (s *LiveSampler) AdvanceTo(deadlineNs int64) AdvanceOutcome {
	for {
		now := s.clock.NowNs()
		if now >= deadlineNs {
			return AdvanceOutcome{NowNs: now}
		}
		if s.stop.Load() {
			return AdvanceOutcome{NowNs: now, Terminated: true}
		}
		wait := deadlineNs - now
		if wait > advancePollNs {
			wait = advancePollNs
		}
		s.clock.SleepNs(wait)
	}
}

// SwapInterval hands a replacement histogram to the sampling goroutine and
// waits for the previous one. The writer answers at its next iteration
// boundary; if it exits first, the exchange completes directly.
func (s *LiveSampler) SwapInterval(replacement *hdrhistogram.Histogram) *hdrhistogram.Histogram {
	s.rec.requestSwap(replacement)
	select {
	case old := <-s.rec.swapped:
		return old
	case <-s.done:
		if repl := s.rec.takeRequest(); repl != nil {
			// The writer exited without seeing the request; it is safe to
			// exchange directly now.
			return s.rec.SwapDirect(repl)
		}
		// The writer answered on its way out.
		return <-s.rec.swapped
	}
}

func (s *LiveSampler) Terminate() {
	s.stop.Store(true)
}

func (s *LiveSampler) Join() {
	<-s.done
}
