package hiccup

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeterFileReplayEndToEnd(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.txt")
	logPath := filepath.Join(dir, "replay.hlog")
	require.NoError(t, os.WriteFile(inputPath, []byte("0 0\n1000 5\n3500 7\n"), 0o644))

	cfg, err := ParseConfig([]string{"-f", inputPath, "-l", logPath, "-i", "1000", "-r", "1"})
	require.NoError(t, err)

	code := NewMeter(cfg).Run()
	assert.Equal(t, 0, code)

	comments, data := readLogLines(t, logPath)
	assert.NotEmpty(t, comments)
	require.Len(t, data, 2)

	h, err := DecodeHistogram(strings.Split(data[0], ",")[3])
	require.NoError(t, err)
	assert.EqualValues(t, 6, h.TotalCount())

	// The cumulative distribution file exists alongside the log.
	_, err = os.Stat(logPath + ".hgrm")
	assert.NoError(t, err)
}

func TestMeterMissingInputFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := ParseConfig([]string{
		"-f", filepath.Join(dir, "does-not-exist.txt"),
		"-l", filepath.Join(dir, "out.hlog"),
	})
	require.NoError(t, err)

	code := NewMeter(cfg).Run()
	assert.Equal(t, exitInputFailure, code)
}

func TestMeterLiveShortRun(t *testing.T) {
	if testing.Short() {
		t.Skip("live sampling run")
	}
	dir := t.TempDir()
	logPath := filepath.Join(dir, "live.hlog")

	cfg, err := ParseConfig([]string{"-l", logPath, "-r", "1", "-i", "200", "-t", "700"})
	require.NoError(t, err)

	code := NewMeter(cfg).Run()
	assert.Equal(t, 0, code)

	_, data := readLogLines(t, logPath)
	// A ~700ms run at 200ms reporting should produce a few interval lines;
	// live sampling at 1ms resolution never leaves an interval empty.
	require.NotEmpty(t, data)
	assert.LessOrEqual(t, len(data), 6)

	for _, line := range data {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 4)
		maxMs, err := strconv.ParseFloat(fields[2], 64)
		require.NoError(t, err)
		// Hiccups are never negative; on any healthy host a quiet 200ms
		// window stays well under a second.
		assert.GreaterOrEqual(t, maxMs, 0.0)
		assert.Less(t, maxMs, 1000.0)

		h, err := DecodeHistogram(fields[3])
		require.NoError(t, err)
		assert.Greater(t, h.TotalCount(), int64(0))
	}
}

func TestMeterLiveRunWithWarmup(t *testing.T) {
	if testing.Short() {
		t.Skip("live sampling run")
	}
	dir := t.TempDir()
	logPath := filepath.Join(dir, "warm.hlog")

	// The warm-up window is measured from process birth, which for a test
	// binary is long past; the warm-up epoch ends immediately but still
	// exercises the discard-and-restart path.
	cfg, err := ParseConfig([]string{"-l", logPath, "-r", "1", "-i", "200", "-t", "500", "-d", "1", "-a"})
	require.NoError(t, err)

	code := NewMeter(cfg).Run()
	assert.Equal(t, 0, code)

	_, data := readLogLines(t, logPath)
	assert.NotEmpty(t, data)
}
