//go:build !windows
// +build !windows

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/hiccup-go/hiccup/internal/hiccup"
)

func main() {
	cfg, err := hiccup.ParseConfig(os.Args[1:])
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(1)
	}

	if cfg.AttachToProcess {
		fmt.Fprintln(os.Stderr, "hiccup: cannot use -p here, use hiccup-attach instead")
		os.Exit(1)
	}

	hiccup.InitLogging(cfg.Verbose)
	os.Exit(hiccup.NewMeter(cfg).Run())
}
