package hiccup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

var version = "1.0.2"

// Version returns the tool version string used in log headers.
func Version() string {
	return "hiccup version " + version
}

// Defaults and fixed bounds.
const (
	defaultReportingIntervalMs = 5000
	defaultResolutionMs        = 1.0
	defaultStartDelayMs        = 0 // the earlier protocol variant used 30000
	defaultSignificantDigits   = 2
	defaultLogFileName         = "hiccup.%date.%pid.hlog"

	// Trackable range: 20 µs floor for live sampling (1 ns when replaying a
	// file, whose latencies may be arbitrarily small), 30 days ceiling.
	defaultLowestTrackableNs     = 20000
	fileLowestTrackableNs        = 1
	defaultHighestTrackableNs    = 30 * 24 * 3600 * int64(1e9)
	defaultLogWriteErrorGraceMs  = 60000
	defaultControlStopTimeoutSec = 5
)

// avoidRecursionEnv marks a spawned control child so it never spawns a
// control process of its own.
const avoidRecursionEnv = "HICCUP_AVOID_RECURSION"

// Config holds all command-line configuration plus derived values. Built
// once at startup, immutable thereafter.
type Config struct {
	Verbose               bool
	LogFileName           string
	LogFileExplicit       bool
	LogFormatCsv          bool
	ReportingIntervalMs   int64
	ResolutionMs          float64
	StartDelayMs          int64
	RunTimeMs             int64
	SignificantDigits     int
	StartTimeAtZero       bool
	AllocateObjects       bool
	LaunchControlProcess  bool
	ControlHeapFilterMB   int64
	ControlExtraArgs      string
	InputFileName         string
	FillZeros             bool
	TerminateWithStdInput bool

	// Attacher-only surface; the measurement binary rejects -p and ignores -j.
	AttachToProcess bool
	AttachPid       int
	AgentPath       string

	LowestTrackableNs    int64
	HighestTrackableNs   int64
	LogWriteErrorGraceMs int64

	// Derived.
	ControlLogFileName string
	ControlArgs        []string

	// RawArgs preserves the launch arguments for verbose echoes.
	RawArgs []string
}

func (c *Config) ResolutionNs() int64 {
	return int64(c.ResolutionMs * 1e6)
}

func (c *Config) ReportingIntervalNs() int64 {
	return c.ReportingIntervalMs * 1e6
}

// AvoidRecursion reports whether this process was spawned as a control child.
func AvoidRecursion() bool {
	return os.Getenv(avoidRecursionEnv) != ""
}

// longFlagAliases maps the historical single-dash spellings of the
// multi-character options onto their GNU-style forms.
var longFlagAliases = map[string]string{
	"-fz":                    "--fz",
	"-cfmb":                  "--cfmb",
	"-terminateWithStdInput": "--terminateWithStdInput",
}

func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if alias, ok := longFlagAliases[a]; ok {
			a = alias
		}
		out = append(out, a)
	}
	return out
}

// ParseConfig parses the command-line surface shared by the measurement and
// attacher binaries, applies defaults and derivations, and validates.
// Returns flag.ErrHelp when help was requested.
func ParseConfig(args []string) (*Config, error) {
	cfg := &Config{
		ReportingIntervalMs:  defaultReportingIntervalMs,
		ResolutionMs:         defaultResolutionMs,
		StartDelayMs:         defaultStartDelayMs,
		SignificantDigits:    defaultSignificantDigits,
		HighestTrackableNs:   defaultHighestTrackableNs,
		LogWriteErrorGraceMs: defaultLogWriteErrorGraceMs,
		RawArgs:              args,
	}

	fs := flag.NewFlagSet("hiccup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.SortFlags = false

	var help bool
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose diagnostics")
	fs.StringVarP(&cfg.LogFileName, "log-file", "l", defaultLogFileName,
		"Log path (%pid and %date are substituted)")
	fs.BoolVarP(&cfg.LogFormatCsv, "csv", "o", false, "Emit the interval log in CSV format")
	fs.Int64VarP(&cfg.ReportingIntervalMs, "interval", "i", defaultReportingIntervalMs,
		"Reporting interval in milliseconds")
	fs.Float64VarP(&cfg.ResolutionMs, "resolution", "r", defaultResolutionMs,
		"Sampling resolution in milliseconds (may be fractional; 0 = tight loop)")
	fs.Int64VarP(&cfg.StartDelayMs, "delay", "d", defaultStartDelayMs,
		"Startup warm-up delay in milliseconds (default 0)")
	fs.Int64VarP(&cfg.RunTimeMs, "run-time", "t", 0,
		"Total runtime in milliseconds (0 = unbounded)")
	fs.IntVarP(&cfg.SignificantDigits, "significant-digits", "s", defaultSignificantDigits,
		"Significant value digits (0-5)")
	fs.BoolVarP(&cfg.StartTimeAtZero, "zero-timestamps", "0", false,
		"Report timestamps starting at zero rather than runtime-birth-relative")
	fs.BoolVarP(&cfg.AllocateObjects, "allocate", "a", false,
		"Allocate a throwaway object per sample to expose allocator stalls")
	fs.BoolVarP(&cfg.LaunchControlProcess, "control", "c", false,
		"Launch a control process measuring an idle load concurrently")
	fs.Int64Var(&cfg.ControlHeapFilterMB, "cfmb", 0,
		"Only launch the control process if the runtime memory limit is at least this many MB")
	fs.StringVarP(&cfg.ControlExtraArgs, "control-args", "x", "",
		"Extra arguments passed to the control child")
	fs.StringVarP(&cfg.InputFileName, "input-file", "f", "",
		"Read timestamp and latency data from a file instead of sampling")
	fs.BoolVar(&cfg.FillZeros, "fz", false,
		"With -f: interpret lines as pauses and fill uncovered time with zeros")
	fs.BoolVar(&cfg.TerminateWithStdInput, "terminateWithStdInput", false,
		"Take over standard input and terminate when it is severed")
	fs.IntVarP(&cfg.AttachPid, "pid", "p", 0,
		"Attach to the process with the given pid (attacher binary only)")
	fs.StringVarP(&cfg.AgentPath, "agent", "j", "",
		"Path to the measurement binary payload (with -p)")
	fs.BoolVarP(&help, "help", "h", false, "Show help")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "hiccup - measure platform hiccups (execution stalls)")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Repeatedly sleeps for a short interval and records how much longer the")
		fmt.Fprintln(os.Stderr, "wakeup actually took, accumulating the stalls any thread on this host")
		fmt.Fprintln(os.Stderr, "would have experienced into an interval histogram log.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Usage: hiccup [flags]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Flags:")
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Examples:")
		fmt.Fprintln(os.Stderr, "  hiccup -i 1000 -t 60000          # one-minute run, 1s reporting")
		fmt.Fprintf(os.Stderr, "%s\n", "  hiccup -c -l run.%date.hlog      # with a concurrent control process")
		fmt.Fprintln(os.Stderr, "  hiccup -f input.txt -r 10 --fz   # replay a latency file, zero-filled")
	}

	if err := fs.Parse(normalizeArgs(args)); err != nil {
		return nil, err
	}
	if help {
		fs.Usage()
		return nil, flag.ErrHelp
	}
	cfg.LogFileExplicit = fs.Changed("log-file")
	cfg.AttachToProcess = fs.Changed("pid")

	if err := cfg.validate(fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "hiccup: %v\n\n", err)
		fs.Usage()
		return nil, err
	}
	cfg.derive()
	return cfg, nil
}

func (c *Config) validate(positional []string) error {
	if len(positional) > 0 {
		return fmt.Errorf("unexpected argument %q", positional[0])
	}
	if c.ResolutionMs < 0 {
		return fmt.Errorf("resolution must not be negative (got %v)", c.ResolutionMs)
	}
	if c.ReportingIntervalMs <= 0 {
		return fmt.Errorf("reporting interval must be positive (got %d)", c.ReportingIntervalMs)
	}
	if c.StartDelayMs < 0 {
		return fmt.Errorf("start delay must not be negative (got %d)", c.StartDelayMs)
	}
	if c.RunTimeMs < 0 {
		return fmt.Errorf("run time must not be negative (got %d)", c.RunTimeMs)
	}
	if c.SignificantDigits < 0 || c.SignificantDigits > 5 {
		return fmt.Errorf("significant digits must be 0-5 (got %d)", c.SignificantDigits)
	}
	if c.FillZeros && c.InputFileName == "" {
		return fmt.Errorf("--fz requires -f")
	}
	if c.AttachToProcess && c.AgentPath == "" {
		return fmt.Errorf("attach mode requires the measurement binary path, specify with -j")
	}
	return nil
}

func (c *Config) derive() {
	c.LogFileName = fillInPidAndDate(c.LogFileName, os.Getpid(), processStart)

	c.LowestTrackableNs = defaultLowestTrackableNs
	if c.InputFileName != "" {
		c.LowestTrackableNs = fileLowestTrackableNs
	}

	// A control child never launches its own control process.
	if AvoidRecursion() {
		c.LaunchControlProcess = false
	}

	if c.LaunchControlProcess {
		c.ControlLogFileName = filepath.Join(filepath.Dir(c.LogFileName),
			filepath.Base(c.LogFileName)+".c")
		c.ControlArgs = c.controlArgs()
	}
}

// controlArgs derives the control child's argument list from the parent's
// parsed options.
func (c *Config) controlArgs() []string {
	args := []string{
		"-l", c.ControlLogFileName,
		"-i", strconv.FormatInt(c.ReportingIntervalMs, 10),
		"-d", strconv.FormatInt(c.StartDelayMs, 10),
		"-r", strconv.FormatFloat(c.ResolutionMs, 'f', -1, 64),
		"-s", strconv.Itoa(c.SignificantDigits),
	}
	if c.StartTimeAtZero {
		args = append(args, "-0")
	}
	if c.LogFormatCsv {
		args = append(args, "-o")
	}
	if c.Verbose {
		args = append(args, "-v")
	}
	args = append(args, "--terminateWithStdInput")
	if c.ControlExtraArgs != "" {
		args = append(args, strings.Fields(c.ControlExtraArgs)...)
	}
	return args
}

// AttachArgs derives the argument list for a measurement process launched
// alongside an attach target.
func (c *Config) AttachArgs() []string {
	args := []string{
		"-d", strconv.FormatInt(c.StartDelayMs, 10),
		"-i", strconv.FormatInt(c.ReportingIntervalMs, 10),
		"-r", strconv.FormatFloat(c.ResolutionMs, 'f', -1, 64),
		"-s", strconv.Itoa(c.SignificantDigits),
	}
	if c.StartTimeAtZero {
		args = append(args, "-0")
	}
	if c.LogFileExplicit {
		args = append(args, "-l", c.LogFileName)
	}
	if c.LaunchControlProcess {
		args = append(args, "-c")
	}
	if c.Verbose {
		args = append(args, "-v")
	}
	args = append(args, "--terminateWithStdInput")
	return args
}

// fillInPidAndDate substitutes %pid and %date placeholders. Applying it to a
// string without placeholders is the identity.
func fillInPidAndDate(name string, pid int, start time.Time) string {
	name = strings.ReplaceAll(name, "%pid", strconv.Itoa(pid))
	name = strings.ReplaceAll(name, "%date", start.Format("060102.1504"))
	return name
}
