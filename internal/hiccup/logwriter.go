package hiccup

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/codahale/hdrhistogram"
)

// Interval log output. The default format follows the HdrHistogram interval
// log layout: comment header lines, a quoted legend, then one line per
// non-empty interval carrying the interval's start (seconds, relative to the
// reporting start), length, max (milliseconds) and a base64-encoded
// zlib-compressed snapshot of the interval histogram. There is no Go port of
// the HdrHistogram log codec, so the payload is a self-contained snapshot
// encoding with a matching reader below.
//
// The CSV variant replaces the payload column with numeric percentile
// columns, for consumers that want spreadsheet-ready lines.

const logFormatVersion = "1.2"

// payloadMagic identifies an encoded interval payload ("Hlg1").
const payloadMagic = uint32(0x486c6731)

type LogWriter struct {
	f   *os.File
	buf *bufio.Writer
	csv bool
}

func NewLogWriter(path string, csv bool) (*LogWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log file %q: %w", path, err)
	}
	return &LogWriter{f: f, buf: bufio.NewWriter(f), csv: csv}, nil
}

// WriteHeader emits the log preamble: tool version, format version, start
// time, and the column legend. The CSV variant writes only the tool version
// line and its own column legend.
func (lw *LogWriter) WriteHeader(tool string, start time.Time) error {
	fmt.Fprintf(lw.buf, "#[Logged with %s]\n", tool)
	if lw.csv {
		fmt.Fprintf(lw.buf, "\"StartTimestamp\",\"Interval_Length\",\"Interval_Max\",\"Interval_Count\",\"Interval_p50\",\"Interval_p90\",\"Interval_p99\",\"Interval_p99.9\"\n")
		return lw.buf.Flush()
	}
	fmt.Fprintf(lw.buf, "#[Histogram log format version %s]\n", logFormatVersion)
	fmt.Fprintf(lw.buf, "#[StartTime: %.3f (seconds since epoch), %s]\n",
		float64(start.UnixMilli())/1000.0, start.Format("Mon Jan 02 15:04:05 MST 2006"))
	fmt.Fprintf(lw.buf, "\"StartTimestamp\",\"Interval_Length\",\"Interval_Max\",\"Interval_Compressed_Histogram\"\n")
	return lw.buf.Flush()
}

// WriteComment emits a "#..." annotation line (verbose echoes, sampling
// start markers).
func (lw *LogWriter) WriteComment(s string) error {
	fmt.Fprintf(lw.buf, "#[%s]\n", s)
	return lw.buf.Flush()
}

// WriteInterval emits one interval record. Timestamps are made relative to
// reportingStartMs.
func (lw *LogWriter) WriteInterval(ih *IntervalHistogram, reportingStartMs int64) error {
	startSec := float64(ih.StartMs-reportingStartMs) / 1000.0
	lengthSec := float64(ih.EndMs-ih.StartMs) / 1000.0
	maxMs := float64(ih.H.Max()) / 1e6

	if lw.csv {
		fmt.Fprintf(lw.buf, "%.3f,%.3f,%.3f,%d,%.3f,%.3f,%.3f,%.3f\n",
			startSec, lengthSec, maxMs,
			ih.H.TotalCount(),
			float64(ih.H.ValueAtQuantile(50))/1e6,
			float64(ih.H.ValueAtQuantile(90))/1e6,
			float64(ih.H.ValueAtQuantile(99))/1e6,
			float64(ih.H.ValueAtQuantile(99.9))/1e6)
		return lw.buf.Flush()
	}

	payload, err := encodeHistogram(ih.H)
	if err != nil {
		return err
	}
	fmt.Fprintf(lw.buf, "%.3f,%.3f,%.3f,%s\n", startSec, lengthSec, maxMs, payload)
	return lw.buf.Flush()
}

func (lw *LogWriter) Close() error {
	if err := lw.buf.Flush(); err != nil {
		lw.f.Close()
		return err
	}
	return lw.f.Close()
}

// encodeHistogram serializes an exported snapshot (magic, trackable range,
// significant digits, bucket counts), deflates it, and base64s the result.
func encodeHistogram(h *hdrhistogram.Histogram) (string, error) {
	s := h.Export()
	var raw bytes.Buffer
	binary.Write(&raw, binary.BigEndian, payloadMagic)
	binary.Write(&raw, binary.BigEndian, s.LowestTrackableValue)
	binary.Write(&raw, binary.BigEndian, s.HighestTrackableValue)
	binary.Write(&raw, binary.BigEndian, s.SignificantFigures)
	binary.Write(&raw, binary.BigEndian, int32(len(s.Counts)))
	if err := binary.Write(&raw, binary.BigEndian, s.Counts); err != nil {
		return "", err
	}
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(compressed.Bytes()), nil
}

// DecodeHistogram reverses encodeHistogram. Downstream renderers and the
// tests use it to recover interval histograms from log lines.
func DecodeHistogram(payload string) (*hdrhistogram.Histogram, error) {
	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode interval payload: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decode interval payload: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decode interval payload: %w", err)
	}
	r := bytes.NewReader(raw)
	var (
		magic    uint32
		snapshot hdrhistogram.Snapshot
		nCounts  int32
	)
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("decode interval payload: %w", err)
	}
	if magic != payloadMagic {
		return nil, fmt.Errorf("decode interval payload: bad magic %#x", magic)
	}
	binary.Read(r, binary.BigEndian, &snapshot.LowestTrackableValue)
	binary.Read(r, binary.BigEndian, &snapshot.HighestTrackableValue)
	binary.Read(r, binary.BigEndian, &snapshot.SignificantFigures)
	if err := binary.Read(r, binary.BigEndian, &nCounts); err != nil {
		return nil, fmt.Errorf("decode interval payload: %w", err)
	}
	snapshot.Counts = make([]int64, nCounts)
	if err := binary.Read(r, binary.BigEndian, &snapshot.Counts); err != nil {
		return nil, fmt.Errorf("decode interval payload: %w", err)
	}
	return hdrhistogram.Import(&snapshot), nil
}

// WritePercentileDistribution renders the cumulative percentile distribution
// table for a histogram, with values divided by valueUnitRatio.
func WritePercentileDistribution(w io.Writer, h *hdrhistogram.Histogram, valueUnitRatio float64) error {
	if _, err := fmt.Fprintf(w, "%12s %14s %10s %14s\n\n",
		"Value", "Percentile", "TotalCount", "1/(1-Percentile)"); err != nil {
		return err
	}
	for _, b := range h.CumulativeDistribution() {
		q := b.Quantile / 100.0
		if q >= 1.0 {
			fmt.Fprintf(w, "%12.3f %2.12f %10d\n",
				float64(b.ValueAt)/valueUnitRatio, q, b.Count)
			continue
		}
		fmt.Fprintf(w, "%12.3f %2.12f %10d %14.2f\n",
			float64(b.ValueAt)/valueUnitRatio, q, b.Count, 1.0/(1.0-q))
	}
	fmt.Fprintf(w, "#[Mean    = %12.3f, StdDeviation   = %12.3f]\n",
		h.Mean()/valueUnitRatio, h.StdDev()/valueUnitRatio)
	_, err := fmt.Fprintf(w, "#[Max     = %12.3f, Total count    = %12d]\n",
		float64(h.Max())/valueUnitRatio, h.TotalCount())
	return err
}

// WriteHgrmFile writes the cumulative distribution to path via a temp file
// and an overwriting rename, so readers never observe a half-written table.
func WriteHgrmFile(path string, h *hdrhistogram.Histogram, valueUnitRatio float64) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create histogram file %q: %w", tmp, err)
	}
	buf := bufio.NewWriter(f)
	fmt.Fprintf(buf, "hiccup histogram report, %s:\n--------------------\n\n",
		time.Now().Format("Mon Jan 02 15:04:05 MST 2006"))
	if err := WritePercentileDistribution(buf, h, valueUnitRatio); err != nil {
		f.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename histogram file: %w", err)
	}
	return nil
}
