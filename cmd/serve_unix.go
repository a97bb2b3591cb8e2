//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs puts the detached server in its own session so it
// survives the launching terminal.
func setDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// shutdownSignals are the signals that trigger a graceful server shutdown.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// sigTERM is the polite stop signal sent by `claude-dev serve stop`.
func sigTERM() syscall.Signal { return syscall.SIGTERM }

// sigKILL is the forced stop signal.
func sigKILL() syscall.Signal { return syscall.SIGKILL }
