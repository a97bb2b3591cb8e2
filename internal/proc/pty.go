//go:build !windows

package proc

import (
	"github.com/creack/pty"
)

// StartInteractive launches the described subprocess on a pty sized to the
// given dimensions. Programs that refuse to run non-interactively (or that
// buffer output when not on a terminal) need this instead of Spawn.
func (s *Supervisor) StartInteractive(spec Spec, rows, cols uint16) (*InteractiveHandle, error) {
	cmd := newCommand(spec)

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}

	h := &Handle{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go h.reap()

	return &InteractiveHandle{In: f, Out: f, pty: f, handle: h}, nil
}

// Resize updates the pty dimensions.
func (ih *InteractiveHandle) Resize(rows, cols uint16) error {
	return pty.Setsize(ih.pty, &pty.Winsize{Rows: rows, Cols: cols})
}
