package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/andthedropout/claude-dev/internal/proc"
)

// RecordKind tags a parsed worker output record.
type RecordKind string

const (
	RecordAssistant RecordKind = "assistant"
	RecordToolUse   RecordKind = "tool_use"
	RecordResult    RecordKind = "result"
	RecordRaw       RecordKind = "raw"
)

// Record is one recognized entry from the worker's stream-json output.
// Anything that fails structured parsing becomes a raw record carrying the
// original line, so unknown record shapes are preserved rather than dropped.
type Record struct {
	Kind      RecordKind
	Text      string
	Tool      string
	SessionID string
}

type streamEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	Message   struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
		} `json:"content"`
	} `json:"message"`
}

// ParseLine decodes one NDJSON line from the worker into records. An
// assistant message may yield several records, one per content block.
func ParseLine(line []byte) []Record {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil
	}

	var env streamEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return []Record{{Kind: RecordRaw, Text: trimmed}}
	}

	switch env.Type {
	case "assistant":
		var records []Record
		for _, block := range env.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					records = append(records, Record{Kind: RecordAssistant, Text: block.Text})
				}
			case "tool_use":
				records = append(records, Record{Kind: RecordToolUse, Tool: block.Name})
			}
		}
		if len(records) == 0 {
			return []Record{{Kind: RecordRaw, Text: trimmed}}
		}
		return records
	case "result":
		return []Record{{Kind: RecordResult, Text: env.Result, SessionID: env.SessionID}}
	default:
		return []Record{{Kind: RecordRaw, Text: trimmed}}
	}
}

// IterationResult is the outcome of one bounded worker exchange.
type IterationResult struct {
	// Output is the worker's accumulated free-text output: assistant text
	// and the final result text. Sentinel detection runs over this, not
	// over tool payloads or raw protocol noise.
	Output string
	// SessionID is the continuation token reported by the worker, empty
	// if none was seen.
	SessionID string
}

// WorkerRunner performs one bounded exchange with the worker process.
// onLine receives human-readable output incrementally for relay to
// observers.
type WorkerRunner interface {
	RunIteration(ctx context.Context, dir, prompt, resumeToken string, onLine func(string)) (*IterationResult, error)
}

// streamRunner invokes the worker executable in non-interactive mode and
// parses its stream-json output.
type streamRunner struct {
	exe string
	sup *proc.Supervisor
}

func NewStreamRunner(exe string, sup *proc.Supervisor) WorkerRunner {
	return &streamRunner{exe: exe, sup: sup}
}

func (r *streamRunner) RunIteration(ctx context.Context, dir, prompt, resumeToken string, onLine func(string)) (*IterationResult, error) {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if resumeToken != "" {
		args = append(args, "--resume", resumeToken)
	}

	h, err := r.sup.Spawn(proc.Spec{Command: r.exe, Args: args, Dir: dir})
	if err != nil {
		return nil, err
	}
	h.Stdin.Close()

	// Cancellation is forceful: kill the worker, let the read loops drain.
	killDone := make(chan struct{})
	defer close(killDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = h.Kill()
		case <-killDone:
		}
	}()

	result := &IterationResult{}
	var out strings.Builder
	var mu sync.Mutex

	emit := func(text string) {
		mu.Lock()
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString(text)
		mu.Unlock()
		if onLine != nil {
			onLine(text)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(h.Stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			for _, rec := range ParseLine(scanner.Bytes()) {
				switch rec.Kind {
				case RecordAssistant:
					emit(rec.Text)
				case RecordToolUse:
					if onLine != nil {
						onLine(fmt.Sprintf("[tool: %s]", rec.Tool))
					}
				case RecordResult:
					if rec.SessionID != "" {
						mu.Lock()
						result.SessionID = rec.SessionID
						mu.Unlock()
					}
					if rec.Text != "" {
						emit(rec.Text)
					}
				case RecordRaw:
					if onLine != nil {
						onLine(rec.Text)
					}
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(h.Stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
	}()

	wg.Wait()
	waitErr := h.Wait()
	result.Output = out.String()

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if waitErr != nil {
		// Non-zero exit is reported but the captured output is still
		// returned: a worker can emit a sentinel and then exit non-zero.
		return result, fmt.Errorf("worker exited: %w", waitErr)
	}
	return result, nil
}
