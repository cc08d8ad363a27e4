package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

const (
	// DefaultKillGrace is the wait between SIGTERM and SIGKILL.
	DefaultKillGrace = 2 * time.Second

	stderrTailSize = 2048
	readBufferSize = 32 * 1024
)

// ProcessBackend runs the claude CLI in print mode with stream-json output.
type ProcessBackend struct {
	cfg types.ProcessConfig
}

// NewProcessBackend creates a process backend.
func NewProcessBackend(cfg types.ProcessConfig) *ProcessBackend {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = types.Duration(DefaultKillGrace)
	}
	return &ProcessBackend{cfg: cfg}
}

func (b *ProcessBackend) Kind() types.BackendKind { return types.BackendProcess }

// Args builds the CLI argument list. The prompt is never part of it; it is
// written to stdin.
func (b *ProcessBackend) Args(req Request) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}

	model := req.Model
	if model == "" {
		model = b.cfg.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}
	if allowed := literalNames(req.Policy.Allow); len(allowed) > 0 {
		args = append(args, "--allowedTools", strings.Join(allowed, ","))
	}
	if denied := literalNames(req.Policy.Deny); len(denied) > 0 {
		args = append(args, "--disallowedTools", strings.Join(denied, ","))
	}
	if b.cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(b.cfg.MaxTurns))
	}
	return append(args, b.cfg.ExtraArgs...)
}

// literalNames drops glob entries, which the CLI does not understand. The
// monitor still enforces them on the stream.
func literalNames(list []string) []string {
	var out []string
	for _, name := range list {
		if !strings.ContainsAny(name, "*?[{") {
			out = append(out, name)
		}
	}
	return out
}

// Execute runs one CLI invocation.
func (b *ProcessBackend) Execute(ctx context.Context, req Request, sink func(Chunk)) Exit {
	if err := ctx.Err(); err != nil {
		return Exit{Reason: types.ReasonCancelled, Err: err}
	}

	runCtx := ctx
	var cancel context.CancelFunc = func() {}
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	cmd := exec.Command(b.cfg.Binary, b.Args(req)...)
	cmd.Dir = req.WorkDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = os.Environ()
	for k, v := range b.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	// Own process group so the whole tree can be signalled.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Exit{Reason: types.ReasonBackendUnavailable, Detail: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Exit{Reason: types.ReasonBackendUnavailable, Detail: "stderr pipe", Err: err}
	}

	logger := log.With().Str("backend", "process").Str("binary", b.cfg.Binary).Logger()
	if err := cmd.Start(); err != nil {
		logger.Warn().Err(err).Msg("failed to start CLI")
		return Exit{Reason: types.ReasonBackendUnavailable, Detail: "start " + b.cfg.Binary, Err: err}
	}
	logger.Debug().Int("pid", cmd.Process.Pid).Str("resume", req.ResumeID).Msg("CLI started")

	// Kill the group when the run context ends.
	exited := make(chan struct{})
	killed := make(chan struct{})
	go func() {
		defer close(killed)
		select {
		case <-runCtx.Done():
			killGroup(cmd.Process.Pid, b.cfg.KillGrace.Std(), exited)
		case <-exited:
		}
	}()

	chunks := make(chan Chunk, 16)
	var g errgroup.Group
	g.Go(func() error { return pump(stdout, SourceStdout, chunks) })
	g.Go(func() error { return pump(stderr, SourceStderr, chunks) })
	go func() {
		_ = g.Wait()
		close(chunks)
	}()

	tail := &tailBuffer{max: stderrTailSize}
	for c := range chunks {
		if c.Source == SourceStderr {
			tail.Write(c.Data)
		}
		sink(c)
	}
	readErr := g.Wait()
	waitErr := cmd.Wait()
	close(exited)
	<-killed

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		logger.Warn().Dur("timeout", req.Timeout).Msg("CLI timed out")
		return Exit{Reason: types.ReasonTimeout, Detail: fmt.Sprintf("no result within %s", req.Timeout), Err: runCtx.Err()}
	case ctx.Err() != nil:
		return Exit{Reason: types.ReasonCancelled, Err: ctx.Err()}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		detail := tail.String()
		if errors.As(waitErr, &exitErr) {
			detail = strings.TrimSpace(fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), detail))
		}
		logger.Warn().Err(waitErr).Str("stderr", tail.String()).Msg("CLI failed")
		return Exit{Reason: types.ReasonProcessError, Detail: detail, Err: waitErr}
	}
	if readErr != nil {
		return Exit{Reason: types.ReasonProcessError, Detail: "reading output", Err: readErr}
	}
	return Exit{}
}

func pump(r io.Reader, src Source, out chan<- Chunk) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			out <- Chunk{Source: src, Data: data}
		}
		if err == io.EOF || errors.Is(err, os.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// killGroup sends SIGTERM to the process group, then SIGKILL if the leader
// has not exited within grace.
func killGroup(pid int, grace time.Duration, exited <-chan struct{}) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(grace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}
