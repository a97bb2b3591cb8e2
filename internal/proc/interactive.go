package proc

import (
	"io"
	"os"
	"sync"
)

// InteractiveHandle is a subprocess attached to a terminal-like stream pair.
// Unlike Handle, stdout and stderr share one stream, matching what a human
// at a terminal would see. On platforms with pty support both In and Out are
// backed by the pty master.
type InteractiveHandle struct {
	In  io.Writer
	Out io.Reader

	pty       *os.File // nil when the platform has no pty support
	handle    *Handle
	closeOnce sync.Once
}

// PID returns the process ID.
func (ih *InteractiveHandle) PID() int { return ih.handle.PID() }

// ExitCode returns the exit code once the process has exited, or -1 before.
func (ih *InteractiveHandle) ExitCode() int { return ih.handle.ExitCode() }

// Done returns a channel closed when the process exits.
func (ih *InteractiveHandle) Done() <-chan struct{} { return ih.handle.done }

// Wait blocks until the process exits.
func (ih *InteractiveHandle) Wait() error { return ih.handle.Wait() }

// Running reports whether the process has not yet exited.
func (ih *InteractiveHandle) Running() bool { return ih.handle.Running() }

// Close kills the process and releases the terminal.
func (ih *InteractiveHandle) Close() error {
	err := ih.handle.Kill()
	ih.closeOnce.Do(func() {
		if ih.pty != nil {
			_ = ih.pty.Close()
		}
	})
	return err
}
