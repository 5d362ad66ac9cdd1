package hiccup

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)

	assert.EqualValues(t, 5000, cfg.ReportingIntervalMs)
	assert.EqualValues(t, 1.0, cfg.ResolutionMs)
	assert.EqualValues(t, 0, cfg.StartDelayMs)
	assert.EqualValues(t, 0, cfg.RunTimeMs)
	assert.Equal(t, 2, cfg.SignificantDigits)
	assert.EqualValues(t, defaultLowestTrackableNs, cfg.LowestTrackableNs)
	assert.EqualValues(t, 30*24*3600*int64(1e9), cfg.HighestTrackableNs)
	assert.False(t, cfg.LaunchControlProcess)
	assert.False(t, cfg.FillZeros)

	// The default log name template has both placeholders substituted.
	assert.NotContains(t, cfg.LogFileName, "%pid")
	assert.NotContains(t, cfg.LogFileName, "%date")
	assert.Contains(t, cfg.LogFileName, ".hlog")
}

func TestConfigFlagParsing(t *testing.T) {
	cfg, err := ParseConfig([]string{
		"-v", "-0", "-a", "-o",
		"-l", "mylog.hlog",
		"-i", "1000",
		"-r", "0.5",
		"-d", "2000",
		"-t", "60000",
		"-s", "3",
	})
	require.NoError(t, err)

	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.StartTimeAtZero)
	assert.True(t, cfg.AllocateObjects)
	assert.True(t, cfg.LogFormatCsv)
	assert.Equal(t, "mylog.hlog", cfg.LogFileName)
	assert.True(t, cfg.LogFileExplicit)
	assert.EqualValues(t, 1000, cfg.ReportingIntervalMs)
	assert.EqualValues(t, 0.5, cfg.ResolutionMs)
	assert.EqualValues(t, 500000, cfg.ResolutionNs())
	assert.EqualValues(t, 2000, cfg.StartDelayMs)
	assert.EqualValues(t, 60000, cfg.RunTimeMs)
	assert.Equal(t, 3, cfg.SignificantDigits)
}

func TestConfigHistoricalSingleDashSpellings(t *testing.T) {
	cfg, err := ParseConfig([]string{
		"-f", "in.txt", "-fz", "-terminateWithStdInput", "-cfmb", "512",
	})
	require.NoError(t, err)

	assert.Equal(t, "in.txt", cfg.InputFileName)
	assert.True(t, cfg.FillZeros)
	assert.True(t, cfg.TerminateWithStdInput)
	assert.EqualValues(t, 512, cfg.ControlHeapFilterMB)

	// File-driven runs track down to a nanosecond.
	assert.EqualValues(t, fileLowestTrackableNs, cfg.LowestTrackableNs)
}

func TestConfigValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--no-such-flag"}},
		{"negative resolution", []string{"-r", "-1"}},
		{"zero interval", []string{"-i", "0"}},
		{"negative delay", []string{"-d", "-5"}},
		{"digits out of range", []string{"-s", "6"}},
		{"fz without f", []string{"-fz"}},
		{"attach without agent path", []string{"-p", "1234"}},
		{"positional argument", []string{"stray"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig(tc.args)
			assert.Error(t, err)
		})
	}
}

func TestConfigZeroResolutionAllowed(t *testing.T) {
	cfg, err := ParseConfig([]string{"-r", "0"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, cfg.ResolutionNs())
}

func TestControlArgsDerivation(t *testing.T) {
	cfg, err := ParseConfig([]string{
		"-c", "-l", "P.hlog", "-i", "1000", "-r", "2", "-d", "500", "-0",
		"-x", "--extra one",
	})
	require.NoError(t, err)

	assert.Equal(t, "P.hlog.c", cfg.ControlLogFileName)

	joined := " " + strings.Join(cfg.ControlArgs, " ") + " "
	assert.Contains(t, joined, " -l P.hlog.c ")
	assert.Contains(t, joined, " -i 1000 ")
	assert.Contains(t, joined, " -r 2 ")
	assert.Contains(t, joined, " -d 500 ")
	assert.Contains(t, joined, " -0 ")
	assert.Contains(t, joined, " --terminateWithStdInput ")
	assert.Contains(t, joined, " --extra one ")
	// The child must not recurse into another control process.
	assert.NotContains(t, cfg.ControlArgs, "-c")
}

func TestAttachArgsDerivation(t *testing.T) {
	cfg, err := ParseConfig([]string{
		"-p", "42", "-j", "/usr/bin/true", "-i", "1000", "-r", "5", "-l", "out.hlog", "-c",
	})
	require.NoError(t, err)
	require.True(t, cfg.AttachToProcess)
	assert.Equal(t, 42, cfg.AttachPid)

	joined := " " + strings.Join(cfg.AttachArgs(), " ") + " "
	assert.Contains(t, joined, " -i 1000 ")
	assert.Contains(t, joined, " -r 5 ")
	assert.Contains(t, joined, " -l out.hlog ")
	assert.Contains(t, joined, " -c ")
	assert.Contains(t, joined, " --terminateWithStdInput ")
}

func TestFillInPidAndDate(t *testing.T) {
	start := time.Date(2024, 6, 1, 14, 5, 0, 0, time.UTC)

	got := fillInPidAndDate("hiccup.%date.%pid.hlog", 17, start)
	assert.Equal(t, "hiccup.240601.1405.17.hlog", got)

	// Substitution on a string without placeholders is the identity.
	assert.Equal(t, "plain.hlog", fillInPidAndDate("plain.hlog", 17, start))

	// And it is idempotent.
	assert.Equal(t, got, fillInPidAndDate(got, 99, start.Add(time.Hour)))
}
