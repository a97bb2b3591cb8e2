// Package proc spawns and supervises worker subprocesses. It owns process
// lifecycle only: stdio plumbing, wait/kill, and exit reporting. Timeout and
// retry policy belong to the caller.
package proc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// SpawnError reports a subprocess that could not be started.
type SpawnError struct {
	Command string
	Dir     string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s in %s: %v", e.Command, e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Spec describes a subprocess to launch.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the parent environment
}

// Handle is a running subprocess with piped stdio. All stdio streams are
// open before Spawn returns; a failed start never yields a partial handle.
type Handle struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader

	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	waited  bool
	waitErr error
}

// Supervisor spawns worker processes.
type Supervisor struct{}

func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

func newCommand(spec Spec) *exec.Cmd {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	return cmd
}

// Spawn starts the described subprocess with stdin, stdout, and stderr piped.
// Any failure before the process is running returns a *SpawnError and closes
// whatever pipes were already created.
func (s *Supervisor) Spawn(spec Spec) (*Handle, error) {
	cmd := newCommand(spec)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}

	h := &Handle{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		cmd:    cmd,
		done:   make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

// reap waits for the process and closes the done channel.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.waited = true
	h.waitErr = err
	h.mu.Unlock()
	close(h.done)
}

// Done returns a channel closed when the process exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// PID returns the process ID.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Wait blocks until the process exits and returns its wait error, if any.
// Safe to call from multiple goroutines.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// ExitCode returns the exit code once the process has exited, or -1 before.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.waited {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Running reports whether the process has not yet exited.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Terminate sends SIGTERM and escalates to SIGKILL if the process is still
// alive after grace. A zero grace kills immediately.
func (h *Handle) Terminate(grace time.Duration) error {
	if h.cmd.Process == nil {
		return nil
	}
	if grace <= 0 {
		return h.Kill()
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
		return h.Kill()
	}
}

// Kill forcibly terminates the process. Idempotent; killing an exited
// process is not an error.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	default:
	}
	if err := h.cmd.Process.Kill(); err != nil && !h.exited() {
		return fmt.Errorf("kill pid %d: %w", h.cmd.Process.Pid, err)
	}
	return nil
}

func (h *Handle) exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waited
}
