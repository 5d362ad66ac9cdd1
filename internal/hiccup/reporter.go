package hiccup

import (
	"fmt"

	"github.com/codahale/hdrhistogram"
	"k8s.io/klog/v2"
)

// hgrmValueUnitRatio renders nanosecond histogram values as milliseconds in
// the percentile-distribution output.
const hgrmValueUnitRatio = 1e6

// Reporter drives the reporting-interval cadence: advance the sampler to the
// next deadline, rotate the interval histogram, and emit a log line for every
// non-empty interval. It is the sole swapper and the sole writer to the log
// sink; it never records samples itself.
type Reporter struct {
	cfg     *Config
	clock   Clock
	rec     *Recorder
	sampler Sampler
	logw    *LogWriter

	fileMode bool

	// accumulated merges every interval for the cumulative .hgrm output.
	accumulated *hdrhistogram.Histogram

	reportingStartMs int64
	runStartNs       int64
}

func NewReporter(cfg *Config, clock Clock, rec *Recorder, sampler Sampler, logw *LogWriter) *Reporter {
	return &Reporter{
		cfg:         cfg,
		clock:       clock,
		rec:         rec,
		sampler:     sampler,
		logw:        logw,
		fileMode:    cfg.InputFileName != "",
		accumulated: rec.NewHistogram(),
	}
}

// Run loops until the configured runtime elapses or the sampler terminates.
// runStartNs is the monotonic start of measurement; reportingStartMs anchors
// the timestamps written to the log.
func (rp *Reporter) Run(runStartNs, reportingStartMs int64) error {
	rp.runStartNs = runStartNs
	rp.reportingStartMs = reportingStartMs

	intervalNs := rp.cfg.ReportingIntervalNs()
	runTimeNs := rp.cfg.RunTimeMs * 1e6
	next := runStartNs + intervalNs

	spare := rp.rec.NewHistogram()
	lastMarkMs := rp.intervalMark(runStartNs)

	for {
		out := rp.sampler.AdvanceTo(next)
		if out.Terminated {
			return nil
		}
		now := out.NowNs

		if now >= next {
			old := rp.sampler.SwapInterval(spare)
			endMs := rp.intervalMark(now)
			// Consume every deadline the gap covers; empty intervals are
			// skipped, the next emission spans the whole gap.
			for now >= next {
				next += intervalNs
			}
			if old.TotalCount() > 0 {
				rp.accumulated.Merge(old)
				ih := &IntervalHistogram{StartMs: lastMarkMs, EndMs: endMs, H: old}
				if err := rp.logw.WriteInterval(ih, reportingStartMs); err != nil {
					return fmt.Errorf("write interval log: %w", err)
				}
				if err := rp.writeHgrm(now); err != nil {
					return err
				}
			}
			lastMarkMs = endMs
			old.Reset()
			spare = old
		}

		if runTimeNs > 0 && now-runStartNs >= runTimeNs {
			return nil
		}
	}
}

// intervalMark is the timestamp an interval boundary is stamped with: the
// input-stream timeline for file replay, the wall clock for live sampling.
func (rp *Reporter) intervalMark(nowNs int64) int64 {
	if rp.fileMode {
		return nowNs / 1e6
	}
	return rp.clock.WallMs()
}

// writeHgrm refreshes the cumulative percentile-distribution file. Failures
// inside the startup grace window are swallowed: some hosting environments
// install startup-phase security filters that reject file creation for a
// short while.
func (rp *Reporter) writeHgrm(nowNs int64) error {
	err := WriteHgrmFile(rp.cfg.LogFileName+".hgrm", rp.accumulated, hgrmValueUnitRatio)
	if err == nil {
		return nil
	}
	if (nowNs-rp.runStartNs)/1e6 < rp.cfg.LogWriteErrorGraceMs {
		klog.V(2).Infof("suppressing histogram file error during startup window: %v", err)
		return nil
	}
	return fmt.Errorf("write histogram file: %w", err)
}

// Finish folds the sampler's final live histogram into the accumulated total
// and writes the last .hgrm. Call after the sampler has been joined.
func (rp *Reporter) Finish() error {
	rp.accumulated.Merge(rp.rec.Live())
	if rp.accumulated.TotalCount() == 0 {
		return nil
	}
	if err := WriteHgrmFile(rp.cfg.LogFileName+".hgrm", rp.accumulated, hgrmValueUnitRatio); err != nil {
		return fmt.Errorf("write histogram file: %w", err)
	}
	return nil
}

// Accumulated exposes the run-wide histogram (tests and summaries).
func (rp *Reporter) Accumulated() *hdrhistogram.Histogram {
	return rp.accumulated
}
