package hiccup

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// ControlProcess supervises a peer measurement process running under an idle
// load, so a concurrent baseline is captured on the same host. The child
// inherits a stdin pipe owned by the parent; closing that pipe is the primary
// termination mechanism (the child runs with --terminateWithStdInput).
type ControlProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
}

// controlProcessEnabled applies the heap-size filter: when a threshold is
// configured and the runtime's memory limit sits below it, the control
// process is not worth its footprint and stays off.
func controlProcessEnabled(cfg *Config) bool {
	if cfg.ControlHeapFilterMB <= 0 {
		return true
	}
	limit := debug.SetMemoryLimit(-1)
	if limit < cfg.ControlHeapFilterMB*(1<<20) {
		klog.V(2).Infof("control process disabled: memory limit %d below %d MB filter",
			limit, cfg.ControlHeapFilterMB)
		return false
	}
	return true
}

// LaunchControlProcess spawns the control child with the derived argument
// list and the recursion sentinel set. The child is advisory: callers log a
// launch failure and carry on.
func LaunchControlProcess(cfg *Config) (*ControlProcess, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable for control process: %w", err)
	}
	cmd := exec.Command(exe, cfg.ControlArgs...)
	cmd.Env = append(os.Environ(), avoidRecursionEnv+"=true")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("control process stdin pipe: %w", err)
	}
	if cfg.Verbose {
		klog.Infof("executing control process command: %s %s", exe, strings.Join(cfg.ControlArgs, " "))
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start control process: %w", err)
	}
	cp := &ControlProcess{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	go cp.watch()
	return cp, nil
}

// watch joins the child in the background so shutdown never blocks the
// reporting path on a wait.
func (cp *ControlProcess) watch() {
	defer close(cp.done)
	if err := cp.cmd.Wait(); err != nil {
		klog.V(2).Infof("control process terminated: %v", err)
	}
}

// Stop severs the child's stdin and waits briefly for it to exit.
func (cp *ControlProcess) Stop() {
	cp.stdin.Close()
	select {
	case <-cp.done:
	case <-time.After(defaultControlStopTimeoutSec * time.Second):
		klog.Warningf("control process did not exit after stdin severance")
	}
}

// Pid returns the child's process id (diagnostics only).
func (cp *ControlProcess) Pid() int {
	return cp.cmd.Process.Pid
}

// StartStdinSeverMonitor consumes the reader one byte at a time on a
// background goroutine and calls exit(1) the moment it returns EOF or an
// error. Spawned control children use it to die with their parent.
func StartStdinSeverMonitor(r io.Reader, exit func(int)) {
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := r.Read(buf); err != nil {
				exit(1)
				return
			}
		}
	}()
}
