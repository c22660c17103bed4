package memo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"syscall"
)

// OutputEnv is set to the work directory for every Command.
const OutputEnv = "ARTIFACTCACHE_OUTPUT"

// stderrTailSize bounds the stderr kept for CommandError.
const stderrTailSize = 4 << 10

// Command is a Computation that runs an external program.
//
// The program starts with an empty environment plus Env and OutputEnv.
// Host variables such as PATH or HOME are not inherited, so Path should be
// absolute unless Env provides a PATH. The working directory is the work
// directory.
type Command struct {
	// ID is the computation identity. It defaults to the program name.
	ID string

	// Path is the executable that runs.
	Path string

	// Name is the program as the caller named it, e.g. "fit" before a PATH
	// lookup turned it into Path. It keys the result in place of Path, so
	// hosts with different install locations share entries. Empty means
	// Path.
	Name string

	Args []string
	Env  map[string]string

	// Params are extra configuration values that select the result but are
	// not passed on the command line.
	Params any

	// Stdout and Stderr receive the program's output as it runs. Nil
	// discards it; stderr is still kept for CommandError.
	Stdout io.Writer
	Stderr io.Writer
}

// CommandError reports a program that exited with a non-zero status.
type CommandError struct {
	Path     string
	ExitCode int
	// Stderr holds the last few KiB of standard error.
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s exited with status %d", e.Path, e.ExitCode)
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func (c *Command) Identity() string {
	if c.ID != "" {
		return c.ID
	}
	return c.program()
}

func (c *Command) program() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Path
}

type commandConfig struct {
	Argv   []string          `fingerprint:"argv"`
	Env    map[string]string `fingerprint:"env"`
	Params any               `fingerprint:"params"`
}

// Config covers the argument vector, the declared environment and Params.
// The first argument is Name when set.
func (c *Command) Config() any {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.program())
	argv = append(argv, c.Args...)
	return commandConfig{Argv: argv, Env: c.Env, Params: c.Params}
}

// Compute runs the program in workDir. Cancelling ctx kills the program's
// whole process group.
func (c *Command) Compute(ctx context.Context, workDir string) error {
	if c.Path == "" {
		return errors.New("command path is empty")
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = workDir
	cmd.Env = buildEnv(c.Env, workDir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	tail := &tailBuffer{max: stderrTailSize}
	cmd.Stdout = c.Stdout
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(tail, c.Stderr)
	} else {
		cmd.Stderr = tail
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		// Negative pid signals the group.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return fmt.Errorf("command cancelled: %w", ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &CommandError{
				Path:     c.Path,
				ExitCode: exitErr.ExitCode(),
				Stderr:   tail.String(),
				Err:      err,
			}
		}
		return fmt.Errorf("running command: %w", err)
	}
	return nil
}

// buildEnv returns the declared variables, sorted, plus OutputEnv. It never
// returns nil, since a nil Env would inherit the host environment.
func buildEnv(env map[string]string, workDir string) []string {
	out := make([]string, 0, len(env)+1)
	for k, v := range env {
		if k == OutputEnv {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return append(out, OutputEnv+"="+workDir)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
