// Package headless runs a single prompt through the engine and prints the
// outcome for scripts and CI.
package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/engine"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// Runner executes prompts in headless mode.
type Runner struct {
	config  *Config
	engine  *engine.Engine
	bus     *event.Bus
	printer *Printer

	// Stdin is read when ReadStdin is set. Defaults to os.Stdin.
	Stdin io.Reader
}

// NewRunner creates a new headless runner. bus may be nil.
func NewRunner(cfg *Config, eng *engine.Engine, bus *event.Bus) *Runner {
	return &Runner{
		config: cfg,
		engine: eng,
		bus:    bus,
		Stdin:  os.Stdin,
	}
}

// Run executes the prompt and returns the result. The error is non-nil
// whenever the result's exit code is not ExitSuccess.
func (r *Runner) Run(ctx context.Context, writer io.Writer) (*Result, error) {
	format := r.config.OutputFormat
	if format == "" {
		format = OutputText
	}
	r.printer = NewPrinter(writer, format, r.config.Quiet, r.config.Verbose)
	if !format.Valid() {
		err := fmt.Errorf("unknown output format %q", format)
		r.printer.SetError(ExitInvalidInput, err)
		return r.printer.GetResult(), err
	}

	prompt, err := r.getPrompt()
	if err != nil {
		r.printer.SetError(ExitInvalidInput, err)
		return r.printer.GetResult(), err
	}
	if prompt == "" {
		err := errors.New("prompt is required")
		r.printer.SetError(ExitInvalidInput, err)
		return r.printer.GetResult(), err
	}

	policy, err := policyOverride(r.config.Allow, r.config.Deny)
	if err != nil {
		r.printer.SetError(ExitInvalidInput, err)
		return r.printer.GetResult(), err
	}
	for _, hint := range misspelledTools(policy) {
		r.printer.Warn(hint)
	}

	workDir := r.config.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			r.printer.SetError(ExitError, err)
			return r.printer.GetResult(), err
		}
	}

	r.printer.Subscribe(r.bus)
	defer r.printer.Unsubscribe()

	res := r.engine.Execute(ctx, types.ExecutionRequest{
		Prompt:           prompt,
		WorkingDirectory: workDir,
		UserID:           r.userID(),
		SessionID:        r.config.SessionID,
		Policy:           policy,
		Timeout:          r.config.Timeout,
		Model:            r.config.Model,
	}, r.printer.OnUpdate)

	r.printer.Finish(res)
	r.printer.PrintFinalResult()

	result := r.printer.GetResult()
	if !res.OK() {
		return result, &types.Failure{Reason: res.Reason, Detail: res.Detail, Tool: res.Tool}
	}
	return result, nil
}

// getPrompt combines the prompt flag with stdin.
func (r *Runner) getPrompt() (string, error) {
	var prompt string

	if r.config.ReadStdin && r.Stdin != nil {
		data, err := io.ReadAll(r.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		prompt = string(data)
	}

	if r.config.Prompt != "" {
		if strings.TrimSpace(prompt) != "" {
			prompt = r.config.Prompt + "\n\n" + prompt
		} else {
			prompt = r.config.Prompt
		}
	}

	return strings.TrimSpace(prompt), nil
}

func (r *Runner) userID() string {
	if r.config.UserID != "" {
		return r.config.UserID
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}
