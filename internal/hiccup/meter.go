package hiccup

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
	"k8s.io/klog/v2"
)

// Exit codes. An unopenable input file exits 255 for compatibility with the
// historical tool's -1.
const (
	exitOK           = 0
	exitError        = 1
	exitInputFailure = 255
)

// Meter wires the configuration, clock, recorder, sampler, reporter and the
// optional control process and stdin monitor into a run.
type Meter struct {
	cfg *Config
}

func NewMeter(cfg *Config) *Meter {
	return &Meter{cfg: cfg}
}

// Run executes a full measurement run and returns the process exit code.
func (m *Meter) Run() int {
	cfg := m.cfg

	clock, err := NewSystemClock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hiccup: %v\n", err)
		return exitError
	}

	if cfg.TerminateWithStdInput {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			klog.Warningf("stdin is a terminal; --terminateWithStdInput will consume keyboard input and exit on ctrl-D")
		}
		StartStdinSeverMonitor(os.Stdin, os.Exit)
	}

	rec := NewRecorder(cfg.LowestTrackableNs, cfg.HighestTrackableNs, cfg.SignificantDigits)

	logw, err := NewLogWriter(cfg.LogFileName, cfg.LogFormatCsv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hiccup: failed to open log file: %v\n", err)
		return exitError
	}
	defer logw.Close()

	logw.WriteHeader(Version(), time.Now())
	if cfg.Verbose {
		logw.WriteComment("Executing: hiccup " + strings.Join(cfg.RawArgs, " "))
	}

	var (
		sampler          Sampler
		fileSampler      *FileSampler
		control          *ControlProcess
		runStartNs       int64
		reportingStartMs int64
	)

	if cfg.InputFileName == "" {
		if cfg.LaunchControlProcess && controlProcessEnabled(cfg) {
			control, err = LaunchControlProcess(cfg)
			if err != nil {
				// The control process is advisory, not load-bearing.
				klog.Errorf("control process launch failed: %v", err)
			}
		}

		live := NewLiveSampler(clock, rec, cfg.ResolutionNs(), cfg.AllocateObjects)
		if cfg.StartDelayMs > 0 {
			// Warm-up epoch: sample normally until process uptime reaches the
			// delay, then discard everything and start a fresh epoch (fresh
			// rolling minimum included).
			live.Start()
			delayNs := cfg.StartDelayMs * 1e6
			for clock.NowNs() < delayNs {
				wait := delayNs - clock.NowNs()
				if wait > advancePollNs {
					wait = advancePollNs
				}
				clock.SleepNs(wait)
			}
			live.Terminate()
			live.Join()
			rec.Reset()
			live = NewLiveSampler(clock, rec, cfg.ResolutionNs(), cfg.AllocateObjects)
			klog.V(2).Infof("warm-up complete after %d ms, sampling begins", cfg.StartDelayMs)
		}
		live.Start()
		sampler = live

		runStartNs = clock.NowNs()
		if cfg.StartTimeAtZero {
			reportingStartMs = clock.WallMs()
		} else {
			reportingStartMs = ProcessStart().UnixMilli()
		}
		logw.WriteComment(fmt.Sprintf("Sampling start time: %s (uptime at sampling start: %.3f seconds)",
			time.Now().Format("Mon Jan 02 15:04:05 MST 2006"), float64(runStartNs)/1e9))
	} else {
		fileSampler, err = OpenFileSampler(rec, cfg.InputFileName, cfg.ResolutionNs(), cfg.FillZeros)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hiccup: %v\n", err)
			return exitInputFailure
		}
		defer fileSampler.Close()
		if cfg.StartDelayMs > 0 {
			fileSampler.SkipTo(float64(cfg.StartDelayMs))
		}
		firstMs, ok := fileSampler.FirstTimestampMs()
		if !ok {
			firstMs = 0
		}
		sampler = fileSampler

		// The input-stream timeline is authoritative for file replay.
		runStartNs = int64(firstMs * 1e6)
		reportingStartMs = int64(firstMs)
		logw.WriteComment(fmt.Sprintf("Data read from input file %q", cfg.InputFileName))
	}

	// Cooperative shutdown on SIGINT/SIGTERM: flip the sampler's stop flag
	// and let the reporting loop wind down normally.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		klog.V(2).Infof("received %v, terminating", sig)
		sampler.Terminate()
	}()

	reporter := NewReporter(cfg, clock, rec, sampler, logw)
	runErr := reporter.Run(runStartNs, reportingStartMs)

	sampler.Terminate()
	sampler.Join()

	if finishErr := reporter.Finish(); runErr == nil {
		runErr = finishErr
	}

	if control != nil {
		control.Stop()
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "hiccup: %v\n", runErr)
		return exitError
	}
	return exitOK
}
