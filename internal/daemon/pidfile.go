// Package daemon tracks the background claude-dev server through a PID file.
// The serve command writes the file when the server detaches and reads it
// back for stop and status; liveness is probed against the recorded PID, so
// a stale file left by a crash is not mistaken for a running server.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFile is a handle to one PID file on disk.
type PIDFile struct {
	Path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process's PID.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID records the given PID, replacing any previous content.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read returns the recorded PID. A missing or unparseable file is an error;
// callers decide whether that means "not running" or corruption.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}
