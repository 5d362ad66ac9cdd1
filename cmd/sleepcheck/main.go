package main

import (
	"fmt"
	"os"
	"time"

	"github.com/codahale/hdrhistogram"
	flag "github.com/spf13/pflag"

	"github.com/hiccup-go/hiccup/internal/hiccup"
)

// sleepcheck measures the platform's sleep+wake+clock-read floor: for a set
// of requested sleep durations it records how long each sleep actually took
// and prints the overshoot distribution. The minimum overshoot is the noise
// floor a hiccup measurement on this host cannot get below.
//
// Usage: go run cmd/sleepcheck/main.go [-c iterations]

var requestedNs = []int64{
	0,
	50 * 1000,        // 50µs
	100 * 1000,       // 100µs
	500 * 1000,       // 500µs
	1 * 1000 * 1000,  // 1ms
	2 * 1000 * 1000,  // 2ms
	10 * 1000 * 1000, // 10ms
}

func main() {
	fs := flag.NewFlagSet("sleepcheck", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	iterations := fs.IntP("count", "c", 2000, "Iterations per requested duration")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "sleepcheck: %v\n", err)
		os.Exit(1)
	}

	clock, err := hiccup.NewSystemClock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sleepcheck: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%10s %12s %12s %12s %12s\n", "requested", "min-over", "p50-over", "p99-over", "max-over")
	for _, req := range requestedNs {
		h := hdrhistogram.New(1, int64(10*time.Second), 3)
		for i := 0; i < *iterations; i++ {
			before := clock.NowNs()
			clock.SleepNs(req)
			over := clock.NowNs() - before - req
			if over < 1 {
				over = 1
			}
			h.RecordValue(over)
		}
		fmt.Printf("%10s %12s %12s %12s %12s\n",
			fmtNs(req),
			fmtNs(h.Min()),
			fmtNs(h.ValueAtQuantile(50)),
			fmtNs(h.ValueAtQuantile(99)),
			fmtNs(h.Max()))
	}
}

func fmtNs(ns int64) string {
	return time.Duration(ns).String()
}
