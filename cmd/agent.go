package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andthedropout/claude-dev/internal/orchestrator"
	"github.com/andthedropout/claude-dev/internal/output"
)

var agentFollow bool

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Drive agents against tickets",
	Long:  "Queue tickets for agents, answer their questions, and watch their output.\nAll subcommands talk to the running server (claude-dev serve).",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentStatusRun()
	},
}

var agentStartCmd = &cobra.Command{
	Use:     "start <ticket>",
	Aliases: []string{"enqueue", "queue"},
	Short:   "Queue a ticket for an agent",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentStartRun(args[0])
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent queue and active jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentStatusRun()
	},
}

var agentResumeCmd = &cobra.Command{
	Use:   "resume <ticket> <answer>",
	Short: "Answer a blocked agent's question and resume it",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentResumeRun(args[0], strings.Join(args[1:], " "))
	},
}

var agentKillCmd = &cobra.Command{
	Use:   "kill <ticket>",
	Short: "Kill the active agent for a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentKillRun(args[0])
	},
}

var agentLogsCmd = &cobra.Command{
	Use:     "logs <ticket>",
	Aliases: []string{"output", "tail"},
	Short:   "Stream a ticket's agent output",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentLogsRun(args[0])
	},
}

func init() {
	agentStartCmd.Flags().BoolVarP(&agentFollow, "follow", "f", false, "Stream the agent's output after queueing")

	agentCmd.AddCommand(agentStartCmd)
	agentCmd.AddCommand(agentStatusCmd)
	agentCmd.AddCommand(agentResumeCmd)
	agentCmd.AddCommand(agentKillCmd)
	agentCmd.AddCommand(agentLogsCmd)
	rootCmd.AddCommand(agentCmd)
}

// serverURL returns the base URL of the running server.
func serverURL() string {
	return fmt.Sprintf("http://localhost:%d", viper.GetInt("port"))
}

// resolveTicketID expands a ticket reference to a full ID using the local store.
func resolveTicketID(ref string) (string, error) {
	s, err := getStore()
	if err != nil {
		return "", err
	}
	ticket, err := findTicket(context.Background(), s, ref)
	if err != nil {
		return "", err
	}
	return ticket.ID, nil
}

// postAgent sends an agent action to the server and decodes the status reply.
func postAgent(path string, body any) (*orchestrator.Status, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(serverURL()+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("server not reachable at %s (is 'claude-dev serve' running?): %w", serverURL(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s", apiErr.Error)
		}
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}

	var status orchestrator.Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func agentStartRun(ref string) error {
	id, err := resolveTicketID(ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would queue ticket %s for an agent", shortID(id))
		return nil
	}

	status, err := postAgent("/api/v1/agent/enqueue", map[string]string{"ticket_id": id})
	if err != nil {
		return err
	}
	ui.Success("Ticket %s queued (position %d)", output.Cyan(shortID(id)), len(status.Queue))

	if agentFollow {
		return agentLogsRun(id)
	}
	return nil
}

func agentStatusRun() error {
	resp, err := http.Get(serverURL() + "/api/v1/agent/status")
	if err != nil {
		return fmt.Errorf("server not reachable at %s (is 'claude-dev serve' running?): %w", serverURL(), err)
	}
	defer resp.Body.Close()

	var status orchestrator.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return err
	}

	if status.Current == "" && len(status.Queue) == 0 && len(status.Jobs) == 0 {
		ui.Info("No agents running or queued.")
		return nil
	}

	if len(status.Queue) > 0 {
		ui.Info("Queued: %s", strings.Join(shortIDs(status.Queue), ", "))
	}
	if len(status.Jobs) > 0 {
		table := ui.Table([]string{"Ticket", "Status", "Iteration", "Started"})
		for _, j := range status.Jobs {
			table.Append([]string{
				shortID(j.TicketID),
				output.JobStatusColor(string(j.Status)),
				fmt.Sprintf("%d", j.Iteration),
				timeAgo(j.StartedAt),
			})
		}
		table.Render()
	}
	return nil
}

func agentResumeRun(ref, answer string) error {
	id, err := resolveTicketID(ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would resume agent for %s", shortID(id))
		return nil
	}

	if _, err := postAgent("/api/v1/agent/resume", map[string]string{
		"ticket_id": id,
		"response":  answer,
	}); err != nil {
		return err
	}
	ui.Success("Agent for %s resumed", output.Cyan(shortID(id)))
	return nil
}

func agentKillRun(ref string) error {
	id, err := resolveTicketID(ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would kill agent for %s", shortID(id))
		return nil
	}

	if _, err := postAgent("/api/v1/agent/kill", map[string]string{"ticket_id": id}); err != nil {
		return err
	}
	ui.Success("Agent for %s killed", output.Cyan(shortID(id)))
	return nil
}

// agentLogsRun follows the server-sent event stream for a ticket's session.
func agentLogsRun(ref string) error {
	id, err := resolveTicketID(ref)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 0}
	var resp *http.Response
	// The session appears once the orchestrator picks the ticket up; retry
	// briefly so `agent start --follow` does not race it.
	for attempt := 0; ; attempt++ {
		resp, err = client.Get(serverURL() + "/api/v1/tickets/" + id + "/output")
		if err != nil {
			return fmt.Errorf("server not reachable at %s (is 'claude-dev serve' running?): %w", serverURL(), err)
		}
		if resp.StatusCode == http.StatusOK {
			break
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound || attempt >= 20 {
			return fmt.Errorf("no session for ticket %s", shortID(id))
		}
		time.Sleep(500 * time.Millisecond)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload struct {
			Line string `json:"line"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err != nil {
			continue
		}
		fmt.Fprintln(ui.Out, payload.Line)
	}
	return scanner.Err()
}

func shortIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	return out
}
