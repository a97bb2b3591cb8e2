package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andthedropout/claude-dev/internal/api"
	"github.com/andthedropout/claude-dev/internal/daemon"
	"github.com/andthedropout/claude-dev/internal/events"
	"github.com/andthedropout/claude-dev/internal/git"
	"github.com/andthedropout/claude-dev/internal/orchestrator"
	"github.com/andthedropout/claude-dev/internal/proc"
	"github.com/andthedropout/claude-dev/internal/session"
	"github.com/andthedropout/claude-dev/internal/workspace"
)

var serveForeground bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the claude-dev server",
	Long: `Start the HTTP server and agent orchestrator.

By default the server detaches and runs in the background, tracked by a
PID file under the state directory. Use --foreground to run attached.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveForeground, "foreground", false, "Run attached to the terminal instead of daemonizing")
	serveCmd.Flags().IntP("port", "p", 7080, "Port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "claude-dev-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "claude-dev-serve.log")
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	if serveForeground {
		return runServer()
	}

	if dryRun {
		ui.DryRunMsg("Would start server on port %d", viper.GetInt("port"))
		return nil
	}

	// Re-exec ourselves detached, logging to the state directory.
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "serve", "--foreground")
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	ui.Success("Server started (pid %d) on port %d", child.Process.Pid, viper.GetInt("port"))
	ui.Info("Logs: %s", serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("server not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	_ = pf.Remove()
	ui.Success("Server stopped (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		ui.Success("Server running (pid %d) on port %d", pid, viper.GetInt("port"))
	} else {
		ui.Info("Server not running.")
	}
	return nil
}

// runServer wires the full stack and blocks until a shutdown signal.
func runServer() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	repo, err := repoPath()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	bus := events.NewBus()
	sup := proc.NewSupervisor()
	sessions := session.NewRegistry(session.Config{
		Executable:  viper.GetString("agent.executable"),
		BufferLines: viper.GetInt("session.buffer_lines"),
	}, sup, bus, logger)
	workspaces := workspace.NewManager(repo, viper.GetString("workspace.root"), git.NewClient())
	runner := orchestrator.NewStreamRunner(viper.GetString("agent.executable"), sup)

	orch := orchestrator.New(orchestrator.Config{
		BaseBranch:       viper.GetString("repo.base_branch"),
		MaxIterations:    viper.GetInt("agent.max_iterations"),
		IterationTimeout: viper.GetDuration("agent.iteration_timeout"),
		IterationDelay:   viper.GetDuration("agent.iteration_delay"),
	}, s, workspaces, sessions, bus, runner, logger)

	srv := api.NewServer(s, orch, workspaces, sessions, bus, newLLMClient(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	orch.Start(ctx)

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "repo", repo)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	sessions.KillAll()
	return s.Close()
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
