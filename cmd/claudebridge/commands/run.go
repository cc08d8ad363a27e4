package commands

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/headless"
)

var (
	runPrompt       string
	runWorkDir      string
	runUserID       string
	runOutputFormat string
	runTimeout      time.Duration
	runStdin        bool
	runSessionID    string
	runModel        string
	runAllow        []string
	runDeny         []string
	runQuiet        bool
	runVerbose      bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Execute a single prompt and exit",
	Long: `Execute one prompt through the engine and print the outcome.

The exit code reflects the failure reason: 2 timeout, 3 policy violation,
4 backend unavailable, 5 invalid input, 6 session busy, 130 cancelled.

Examples:
  # Simple prompt
  claudebridge run "Explain what internal/stream does"

  # Restrict tools for this run only
  claudebridge run --allow Read,Grep --deny Bash "Find unused functions"

  # Read prompt from stdin
  git diff | claudebridge run --stdin "Review this diff"

  # Continue a session
  claudebridge run -s 01J9Z3K5Q2 "Now add tests"

  # Stream JSONL updates for programmatic consumption
  claudebridge run -o jsonl "Fix the failing test" | jq -r '.type'`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "Prompt to execute")
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "Read prompt from stdin")

	runCmd.Flags().StringVarP(&runWorkDir, "workdir", "w", "", "Working directory for the backend")
	runCmd.Flags().StringVarP(&runSessionID, "session", "s", "", "Continue existing session ID")
	runCmd.Flags().StringVarP(&runUserID, "user", "u", "", "User owning the session (defaults to the OS user)")

	runCmd.Flags().StringSliceVar(&runAllow, "allow", nil, "Allowed tool names or patterns (replaces the configured policy)")
	runCmd.Flags().StringSliceVar(&runDeny, "deny", nil, "Denied tool names or patterns (replaces the configured policy)")

	runCmd.Flags().StringVarP(&runOutputFormat, "output-format", "o", "text", "Output format: text, json, jsonl")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress output, only show result")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Also print audit events")

	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 0, "Per-attempt timeout (e.g. 5m); defaults to config")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model override for the backend")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLogs()

	dir, err := GetWorkDir(runWorkDir)
	if err != nil {
		return err
	}

	prompt := runPrompt
	if prompt == "" && len(args) > 0 {
		prompt = strings.Join(args, " ")
	}

	a, err := newApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	runner := headless.NewRunner(&headless.Config{
		Prompt:       prompt,
		WorkDir:      dir,
		UserID:       runUserID,
		OutputFormat: headless.OutputFormat(strings.ToLower(runOutputFormat)),
		Timeout:      runTimeout,
		ReadStdin:    runStdin,
		SessionID:    runSessionID,
		Model:        runModel,
		Allow:        runAllow,
		Deny:         runDeny,
		Quiet:        runQuiet,
		Verbose:      runVerbose,
	}, a.engine, a.bus)
	result, err := runner.Run(ctx, os.Stdout)
	stop()
	a.Close()

	if result != nil && result.ExitCode != headless.ExitSuccess {
		closeLogs()
		os.Exit(int(result.ExitCode))
	}
	return err
}
