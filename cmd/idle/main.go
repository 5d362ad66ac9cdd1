package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/hiccup-go/hiccup/internal/hiccup"
)

// idle runs an effectively empty workload for a configurable amount of time
// and then exits. It also exits if its stdin pipe is severed. Useful for
// exercising the control-process machinery and as the observed "load" in
// wrapper demonstrations.

const defaultRunTimeMs = 10000

func main() {
	fs := flag.NewFlagSet("idle", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	verbose := fs.BoolP("verbose", "v", false, "Verbose output")
	noReader := fs.BoolP("no-stdin-reader", "n", false, "Do not exit when stdin is severed")
	runTimeMs := fs.Int64P("run-time", "t", defaultRunTimeMs, "Runtime in milliseconds (0 = unbounded)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: idle [-v] [-n] [-t runTimeMs]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "idle: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	if !*noReader {
		hiccup.StartStdinSeverMonitor(os.Stdin, os.Exit)
	}

	if *verbose {
		fmt.Printf("Idling for %d msec...\n", *runTimeMs)
	}

	// Just tick until the time expires; the limiter keeps the loop at a calm
	// ten wakeups a second.
	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 1)
	start := time.Now()
	for *runTimeMs == 0 || time.Since(start) < time.Duration(*runTimeMs)*time.Millisecond {
		if err := limiter.Wait(context.Background()); err != nil {
			break
		}
	}

	if *verbose {
		fmt.Println("Idle terminating...")
	}
}
