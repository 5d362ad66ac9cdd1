//go:build !windows

package hiccup

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// Attach-mode supervision. Go has no host-runtime API for injecting an agent
// into a running process, so "attach" launches a fresh measurement process
// next to the target and ties its lifetime to the target's: the measurement
// child runs with --terminateWithStdInput and its stdin is severed the moment
// the target pid disappears.

// targetAlive probes a pid with signal 0. EPERM still means the process
// exists.
func targetAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// RunAttach supervises a measurement process alongside the target named by
// cfg.AttachPid. Returns the process exit code.
func RunAttach(cfg *Config) int {
	if !targetAlive(cfg.AttachPid) {
		fmt.Fprintf(os.Stderr, "hiccup-attach: target process %d not found\n", cfg.AttachPid)
		return exitError
	}
	if _, err := os.Stat(cfg.AgentPath); err != nil {
		fmt.Fprintf(os.Stderr, "hiccup-attach: measurement binary: %v\n", err)
		return exitError
	}

	args := cfg.AttachArgs()
	if cfg.Verbose {
		klog.Infof("attaching to process %d, launching %s %s",
			cfg.AttachPid, cfg.AgentPath, strings.Join(args, " "))
	}

	cmd := exec.Command(cfg.AgentPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hiccup-attach: %v\n", err)
		return exitError
	}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "hiccup-attach: failed to start measurement process: %v\n", err)
		return exitError
	}

	childDone := make(chan error, 1)
	go func() { childDone <- cmd.Wait() }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-childDone:
			if err != nil {
				fmt.Fprintf(os.Stderr, "hiccup-attach: measurement process exited: %v\n", err)
				return exitError
			}
			return exitOK
		case <-ticker.C:
			if !targetAlive(cfg.AttachPid) {
				klog.V(2).Infof("target process %d exited, severing measurement stdin", cfg.AttachPid)
				stdin.Close()
				select {
				case <-childDone:
				case <-time.After(defaultControlStopTimeoutSec * time.Second):
					cmd.Process.Kill()
					<-childDone
				}
				return exitOK
			}
		}
	}
}
