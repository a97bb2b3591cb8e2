//go:build windows

package proc

import "os"

// StartInteractive has no pty to offer on Windows; the subprocess runs on
// plain pipes with stderr folded into the output stream so callers still see
// one combined terminal-style stream.
func (s *Supervisor) StartInteractive(spec Spec, rows, cols uint16) (*InteractiveHandle, error) {
	cmd := newCommand(spec)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}
	// The child holds its own copy of the write end; closing ours lets the
	// reader see EOF when the child exits.
	outW.Close()

	h := &Handle{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go h.reap()

	return &InteractiveHandle{In: stdin, Out: outR, handle: h}, nil
}

// Resize is a no-op without a pty.
func (ih *InteractiveHandle) Resize(rows, cols uint16) error { return nil }
