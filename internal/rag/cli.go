package rag

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/tessera-kb/tessera/internal/log"
)

// killWaitDelay bounds how long Wait blocks on pipes after cancellation
// before force-closing them.
const killWaitDelay = 5 * time.Second

// CLIGenerator runs a local command-line model as the generation backend.
// The combined system instruction and prompt are written to the subprocess's
// stdin; generated text is read from stdout. Context cancellation kills the
// subprocess, so an abandoned stream does not keep computing.
type CLIGenerator struct {
	command string
	args    []string
	logger  log.Logger
}

// NewCLIGenerator creates a subprocess-backed generator.
func NewCLIGenerator(command string, args []string, logger log.Logger) *CLIGenerator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &CLIGenerator{command: command, args: args, logger: logger}
}

// Generate runs the subprocess to completion and returns its stdout.
func (c *CLIGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, c.command, c.args...) // #nosec G204 -- command comes from operator config
	configureProcessGroup(cmd)
	cmd.Stdin = strings.NewReader(combinePrompt(system, prompt))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", cliError(c.command, err, &stderr)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// GenerateStream runs the subprocess and forwards each stdout line to fn as
// it is produced. A non-zero exit after partial output still returns an
// error; text already forwarded is not retracted.
func (c *CLIGenerator) GenerateStream(ctx context.Context, system, prompt string, fn func(text string) error) error {
	cmd := exec.CommandContext(ctx, c.command, c.args...) // #nosec G204 -- command comes from operator config
	configureProcessGroup(cmd)
	cmd.Stdin = strings.NewReader(combinePrompt(system, prompt))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening stdout pipe for %s: %w", c.command, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", c.command, err)
	}

	scanErr := c.forwardLines(stdout, fn)
	waitErr := cmd.Wait()

	if scanErr != nil {
		// fn refused an increment (consumer gone); the context kill already
		// tore the subprocess down, its exit status is noise.
		return scanErr
	}
	if waitErr != nil {
		return cliError(c.command, waitErr, &stderr)
	}
	return nil
}

// forwardLines streams stdout lines into fn, preserving line breaks.
func (c *CLIGenerator) forwardLines(r io.Reader, fn func(text string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := fn(scanner.Text() + "\n"); err != nil {
			return fmt.Errorf("forwarding output: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s output: %w", c.command, err)
	}
	return nil
}

// configureProcessGroup runs the subprocess in its own process group and
// signals the whole group on cancellation. CLI model wrappers spawn helper
// processes; killing only the direct child leaves descendants computing and
// holding the stdout pipe open, which blocks the stream until they exit.
// WaitDelay force-closes the pipes if anything survives the signal.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay
}

func combinePrompt(system, prompt string) string {
	if system == "" {
		return prompt
	}
	return system + "\n\n" + prompt
}

// cliError folds captured stderr into the exit error so failures are
// diagnosable from logs.
func cliError(command string, err error, stderr *bytes.Buffer) error {
	msg := strings.TrimSpace(stderr.String())
	if msg != "" {
		return fmt.Errorf("running %s: %w: %s", command, err, msg)
	}
	return fmt.Errorf("running %s: %w", command, err)
}
