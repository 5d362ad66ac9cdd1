package hiccup

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/codahale/hdrhistogram"
	"k8s.io/klog/v2"
)

// FileSampler replays a time-stamped latency stream through the recorder.
// Each input line carries two whitespace-separated numbers: a timestamp and a
// latency, both in milliseconds (integer or real). The deadline/timeline unit
// across the Sampler interface stays nanoseconds; input milliseconds are
// scaled by 1e6.
//
// Two interpretations of a line, per the fill-zeros switch:
//   - default: a latency sample taken at ts
//   - fill-zeros: a pause ending at ts that began at ts-latency, with every
//     uncovered resolution tick in between recorded as a zero
//
// All work happens on the caller's goroutine; the swap is a direct exchange.
type FileSampler struct {
	rec          *Recorder
	resolutionNs int64
	fillZeros    bool

	scanner *bufio.Scanner
	closer  io.Closer

	prevTsMs    float64
	lastInputMs float64

	haveLine  bool
	tsMs      float64
	latencyMs float64

	inputDone    bool
	finalEmitted bool
}

// OpenFileSampler opens the input file. The caller maps an open failure to
// the input-file exit code.
func OpenFileSampler(rec *Recorder, path string, resolutionNs int64, fillZeros bool) (*FileSampler, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file %q: %w", path, err)
	}
	s := NewFileSampler(rec, f, resolutionNs, fillZeros)
	s.closer = f
	return s, nil
}

func NewFileSampler(rec *Recorder, r io.Reader, resolutionNs int64, fillZeros bool) *FileSampler {
	return &FileSampler{
		rec:          rec,
		resolutionNs: resolutionNs,
		fillZeros:    fillZeros,
		scanner:      bufio.NewScanner(r),
		lastInputMs:  -1,
	}
}

func (s *FileSampler) Start() {}

// fetchLine buffers the next input event. Fail-soft: a parse error or a
// timestamp running backwards ends the input cleanly.
func (s *FileSampler) fetchLine() {
	for !s.haveLine && !s.inputDone {
		if !s.scanner.Scan() {
			s.inputDone = true
			return
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			klog.V(2).Infof("input line %q not parseable, treating as end of input", line)
			s.inputDone = true
			return
		}
		ts, err1 := strconv.ParseFloat(fields[0], 64)
		lat, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			klog.V(2).Infof("input line %q not parseable, treating as end of input", line)
			s.inputDone = true
			return
		}
		if ts < s.lastInputMs {
			klog.V(2).Infof("input timestamp %.3f runs backwards, treating as end of input", ts)
			s.inputDone = true
			return
		}
		s.lastInputMs = ts
		s.tsMs, s.latencyMs = ts, lat
		s.haveLine = true
	}
}

// FirstTimestampMs primes the input buffer and returns the first event's
// timestamp. It also pins the replay origin there, so gaps before the input
// starts are never zero-filled.
func (s *FileSampler) FirstTimestampMs() (float64, bool) {
	s.fetchLine()
	if !s.haveLine {
		return 0, false
	}
	if s.tsMs > s.prevTsMs {
		s.prevTsMs = s.tsMs
	}
	return s.tsMs, true
}

// SkipTo discards events whose timestamp precedes startMs (warm-up
// consumption) without recording anything.
func (s *FileSampler) SkipTo(startMs float64) {
	for {
		s.fetchLine()
		if !s.haveLine || s.tsMs >= startMs {
			break
		}
		s.haveLine = false
	}
	if startMs > s.prevTsMs {
		s.prevTsMs = startMs
	}
}

func (s *FileSampler) AdvanceTo(deadlineNs int64) AdvanceOutcome {
	if s.finalEmitted {
		return AdvanceOutcome{NowNs: deadlineNs, Terminated: true}
	}
	deadlineMs := float64(deadlineNs) / 1e6
	for {
		s.fetchLine()
		if !s.haveLine {
			// End of input: one final deadline with trailing zero fill, then
			// Terminated on subsequent calls.
			if s.fillZeros {
				s.recordZeros(s.prevTsMs, deadlineMs)
			}
			if deadlineMs > s.prevTsMs {
				s.prevTsMs = deadlineMs
			}
			s.finalEmitted = true
			return AdvanceOutcome{NowNs: deadlineNs}
		}

		preceding := s.tsMs
		if s.fillZeros {
			preceding = s.tsMs - math.Ceil(s.latencyMs)
		}

		if deadlineMs < preceding {
			// The next event lies beyond the deadline.
			if s.fillZeros {
				s.recordZeros(s.prevTsMs, deadlineMs)
			}
			if deadlineMs > s.prevTsMs {
				s.prevTsMs = deadlineMs
			}
			return AdvanceOutcome{NowNs: deadlineNs}
		}

		if preceding >= s.prevTsMs {
			if s.fillZeros {
				s.recordZeros(s.prevTsMs, preceding)
			}
			s.rec.Record(int64(s.latencyMs*1e6), s.resolutionNs)
			if s.tsMs > s.prevTsMs {
				s.prevTsMs = s.tsMs
			}
		} else {
			// The event's window overlaps time already covered (a pause
			// reaching back past the replay origin, or past a previous
			// event). Record the value; never fill or move backwards.
			s.rec.Record(int64(s.latencyMs*1e6), s.resolutionNs)
			if s.tsMs > s.prevTsMs {
				s.prevTsMs = s.tsMs
			}
		}
		s.haveLine = false
	}
}

// recordZeros bulk-records one zero per whole resolution tick in
// [fromMs, toMs).
func (s *FileSampler) recordZeros(fromMs, toMs float64) {
	if toMs <= fromMs || s.resolutionNs <= 0 {
		return
	}
	resMs := float64(s.resolutionNs) / 1e6
	n := int64((toMs - fromMs) / resMs)
	if n > 0 {
		s.rec.RecordCount(0, n)
	}
}

// SwapInterval exchanges directly: replay and reporting share a goroutine.
func (s *FileSampler) SwapInterval(replacement *hdrhistogram.Histogram) *hdrhistogram.Histogram {
	return s.rec.SwapDirect(replacement)
}

func (s *FileSampler) Terminate() {
	s.finalEmitted = true
}

func (s *FileSampler) Join() {}

func (s *FileSampler) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
