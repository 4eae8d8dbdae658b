package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// InvokeResult is what an external command produced. A non-zero ExitCode is
// a normal result, not an error.
type InvokeResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

func (r *InvokeResult) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// Invoker runs one external tool. workDir is the directory the tool runs in;
// args are appended after the tool's configured base arguments.
type Invoker interface {
	Invoke(ctx context.Context, workDir string, args ...string) (*InvokeResult, error)
	Name() string
}

type ToolOptions struct {
	Name    string
	Command string
	Args    []string
	Env     []string
	Timeout time.Duration
}

type commandInvoker struct {
	opts   ToolOptions
	logger zerolog.Logger
}

func NewCommandInvoker(opts ToolOptions, logger zerolog.Logger) Invoker {
	return &commandInvoker{
		opts:   opts,
		logger: logger.With().Str("tool", opts.Name).Logger(),
	}
}

func (c *commandInvoker) Name() string {
	return c.opts.Name
}

func (c *commandInvoker) Invoke(ctx context.Context, workDir string, args ...string) (*InvokeResult, error) {
	if strings.TrimSpace(c.opts.Command) == "" {
		return nil, fmt.Errorf("tool %s has no command configured", c.opts.Name)
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	argv := make([]string, 0, len(c.opts.Args)+len(args))
	argv = append(argv, c.opts.Args...)
	argv = append(argv, args...)

	cmd := exec.Command(c.opts.Command, argv...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), c.opts.Env...)
	// Own process group so cancellation also stops children spawned by the tool.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	line := commandLine(c.opts.Command, argv)
	c.logger.Debug().Str("command", line).Str("dir", workDir).Msg("Invoking external tool")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.opts.Name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("%s cancelled: %w", c.opts.Name, ctx.Err())
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", c.opts.Name, err)
		}
		exitCode = exitErr.ExitCode()
	}

	result := &InvokeResult{
		Command:  line,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	event := c.logger.Debug()
	if exitCode != 0 {
		event = c.logger.Warn().Str("stderr", truncate(result.Stderr, 512))
	}
	event.Int("exit_code", exitCode).Dur("duration", result.Duration).Msg("External tool finished")

	return result, nil
}

func commandLine(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, command)
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
