//go:build !windows
// +build !windows

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/hiccup-go/hiccup/internal/hiccup"
)

// hiccup-attach launches a measurement process alongside a running target
// process and keeps their lifetimes tied together. It shares the measurement
// binary's flag surface; -p (target pid) and -j (measurement binary path)
// are required here.
func main() {
	cfg, err := hiccup.ParseConfig(os.Args[1:])
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(1)
	}

	if !cfg.AttachToProcess {
		fmt.Fprintln(os.Stderr, "hiccup-attach: must be used with the -p option")
		os.Exit(1)
	}

	hiccup.InitLogging(cfg.Verbose)
	os.Exit(hiccup.RunAttach(cfg))
}
