package proc

import (
	"bufio"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawn_EchoRoundTrip(t *testing.T) {
	s := NewSupervisor()

	h, err := s.Spawn(Spec{Command: "cat"})
	require.NoError(t, err)

	_, err = io.WriteString(h.Stdin, "hello\n")
	require.NoError(t, err)
	require.NoError(t, h.Stdin.Close())

	line, err := bufio.NewReader(h.Stdout).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	require.NoError(t, h.Wait())
	assert.Equal(t, 0, h.ExitCode())
	assert.False(t, h.Running())
}

func TestSpawn_MissingBinary(t *testing.T) {
	s := NewSupervisor()

	h, err := s.Spawn(Spec{Command: "definitely-not-a-real-binary"})
	assert.Nil(t, h, "failed spawn must not return a partial handle")

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "definitely-not-a-real-binary", spawnErr.Command)
}

func TestSpawn_Env(t *testing.T) {
	s := NewSupervisor()

	h, err := s.Spawn(Spec{
		Command: "sh",
		Args:    []string{"-c", "printf %s \"$WORKER_TICKET\""},
		Env:     []string{"WORKER_TICKET=T42"},
	})
	require.NoError(t, err)

	out, err := io.ReadAll(h.Stdout)
	require.NoError(t, err)
	require.NoError(t, h.Wait())
	assert.Equal(t, "T42", string(out))
}

func TestSpawn_NonZeroExit(t *testing.T) {
	s := NewSupervisor()

	h, err := s.Spawn(Spec{Command: "sh", Args: []string{"-c", "exit 2"}})
	require.NoError(t, err)

	err = h.Wait()
	require.Error(t, err)
	assert.Equal(t, 2, h.ExitCode())
}

func TestKill_Idempotent(t *testing.T) {
	s := NewSupervisor()

	h, err := s.Spawn(Spec{Command: "sleep", Args: []string{"60"}})
	require.NoError(t, err)
	assert.True(t, h.Running())

	require.NoError(t, h.Kill())

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after kill")
	}

	// Killing an exited process is not an error.
	assert.NoError(t, h.Kill())
	assert.False(t, h.Running())
}

func TestTerminate_GracefulThenForced(t *testing.T) {
	s := NewSupervisor()

	// Traps TERM so only the KILL escalation can end it.
	h, err := s.Spawn(Spec{Command: "sh", Args: []string{"-c", "trap '' TERM; sleep 60"}})
	require.NoError(t, err)

	require.NoError(t, h.Terminate(100*time.Millisecond))

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process survived terminate escalation")
	}
}

func TestStartInteractive_RoundTrip(t *testing.T) {
	s := NewSupervisor()

	ih, err := s.StartInteractive(Spec{Command: "cat"}, 24, 80)
	require.NoError(t, err)
	defer ih.Close()
	assert.NotZero(t, ih.PID())
	assert.True(t, ih.Running())

	_, err = io.WriteString(ih.In, "ping\n")
	require.NoError(t, err)

	// The terminal folds input echo and cat's output into one stream; a
	// single read is enough to see the text come back.
	buf := make([]byte, 256)
	n, err := ih.Out.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "ping")

	require.NoError(t, ih.Close())
	select {
	case <-ih.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("interactive process did not exit after close")
	}
	assert.NoError(t, ih.Close(), "closing an exited handle is a no-op")
}

func TestStartInteractive_MissingBinary(t *testing.T) {
	s := NewSupervisor()

	ih, err := s.StartInteractive(Spec{Command: "definitely-not-a-real-binary"}, 24, 80)
	assert.Nil(t, ih, "failed start must not return a partial handle")

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
}

func TestSpawnError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &SpawnError{Command: "x", Dir: "/tmp", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "spawn x in /tmp")
}
