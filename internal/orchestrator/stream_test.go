package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andthedropout/claude-dev/internal/proc"
)

func TestParseLine_Assistant(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"},{"type":"tool_use","name":"Bash"}]}}`

	records := ParseLine([]byte(line))
	require.Len(t, records, 2)
	assert.Equal(t, RecordAssistant, records[0].Kind)
	assert.Equal(t, "working on it", records[0].Text)
	assert.Equal(t, RecordToolUse, records[1].Kind)
	assert.Equal(t, "Bash", records[1].Tool)
}

func TestParseLine_Result(t *testing.T) {
	line := `{"type":"result","subtype":"success","result":"all done","session_id":"abc-123"}`

	records := ParseLine([]byte(line))
	require.Len(t, records, 1)
	assert.Equal(t, RecordResult, records[0].Kind)
	assert.Equal(t, "all done", records[0].Text)
	assert.Equal(t, "abc-123", records[0].SessionID)
}

func TestParseLine_RawFallback(t *testing.T) {
	for _, line := range []string{
		"not json at all",
		`{"type":"mystery","payload":42}`,
		`{"type":"assistant","message":{"content":[]}}`,
	} {
		records := ParseLine([]byte(line))
		require.Len(t, records, 1, "line: %s", line)
		assert.Equal(t, RecordRaw, records[0].Kind)
		assert.Equal(t, line, records[0].Text)
	}

	assert.Nil(t, ParseLine([]byte("   ")))
}

// writeWorkerScript creates a fake worker executable that emits the given
// shell body's output regardless of arguments.
func writeWorkerScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestStreamRunner_CollectsOutputAndToken(t *testing.T) {
	exe := writeWorkerScript(t, `
cat <<'NDJSON'
{"type":"system","subtype":"init","session_id":"s-1"}
{"type":"assistant","message":{"content":[{"type":"text","text":"step one"}]}}
{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit"}]}}
{"type":"result","subtype":"success","result":"AGENT_COMPLETE","session_id":"s-1"}
NDJSON`)

	runner := NewStreamRunner(exe, proc.NewSupervisor())

	var mu sync.Mutex
	var relayed []string
	result, err := runner.RunIteration(context.Background(), t.TempDir(), "do the thing", "", func(line string) {
		mu.Lock()
		relayed = append(relayed, line)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, "s-1", result.SessionID)
	assert.Contains(t, result.Output, "step one")
	assert.Contains(t, result.Output, "AGENT_COMPLETE")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, relayed, "step one")
	assert.Contains(t, relayed, "[tool: Edit]")
}

func TestStreamRunner_NonZeroExitStillReturnsOutput(t *testing.T) {
	exe := writeWorkerScript(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"partial work"}]}}'
exit 1`)

	runner := NewStreamRunner(exe, proc.NewSupervisor())

	result, err := runner.RunIteration(context.Background(), t.TempDir(), "p", "", nil)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Contains(t, result.Output, "partial work")
}

func TestStreamRunner_ContextCancelKillsWorker(t *testing.T) {
	exe := writeWorkerScript(t, `sleep 60`)

	runner := NewStreamRunner(exe, proc.NewSupervisor())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runner.RunIteration(ctx, t.TempDir(), "p", "", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestStreamRunner_SpawnFailure(t *testing.T) {
	runner := NewStreamRunner("no-such-worker-binary", proc.NewSupervisor())

	result, err := runner.RunIteration(context.Background(), t.TempDir(), "p", "", nil)
	assert.Nil(t, result)

	var spawnErr *proc.SpawnError
	assert.ErrorAs(t, err, &spawnErr)
}
