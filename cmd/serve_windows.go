//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs is a no-op on Windows, which has no session detach.
func setDaemonAttrs(_ *exec.Cmd) {}

// shutdownSignals are the signals that trigger a graceful server shutdown.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// sigTERM is the stop signal sent by `claude-dev serve stop`.
func sigTERM() syscall.Signal { return syscall.SIGTERM }

// sigKILL is the forced stop signal.
func sigKILL() syscall.Signal { return syscall.SIGKILL }
