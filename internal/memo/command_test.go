package memo

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(script string) *Command {
	return &Command{ID: "sh-test", Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestCommand_WritesIntoWorkDir(t *testing.T) {
	work := t.TempDir()
	c := shell(`echo result > "$ARTIFACTCACHE_OUTPUT/a.txt" && echo cwd > b.txt`)
	require.NoError(t, c.Compute(context.Background(), work))

	assert.Equal(t, "result\n", readFile(t, filepath.Join(work, "a.txt")))
	assert.Equal(t, "cwd\n", readFile(t, filepath.Join(work, "b.txt")))
}

func TestCommand_EnvironmentIsAllowlisted(t *testing.T) {
	t.Setenv("ARTIFACTCACHE_TEST_SECRET", "leaked")
	work := t.TempDir()
	c := shell(`printf '%s|%s' "$ARTIFACTCACHE_TEST_SECRET" "$DECLARED" > env.txt`)
	c.Env = map[string]string{"DECLARED": "yes"}
	require.NoError(t, c.Compute(context.Background(), work))

	assert.Equal(t, "|yes", readFile(t, filepath.Join(work, "env.txt")))
}

func TestCommand_OutputEnvCannotBeOverridden(t *testing.T) {
	env := buildEnv(map[string]string{"B": "2", "A": "1", OutputEnv: "/elsewhere"}, "/work")
	assert.Equal(t, []string{"A=1", "B=2", OutputEnv + "=/work"}, env)
	assert.NotNil(t, buildEnv(nil, "/w"))
}

func TestCommand_NonZeroExit(t *testing.T) {
	var live bytes.Buffer
	c := shell(`echo progress; echo "fit diverged" >&2; exit 3`)
	c.Stderr = &live

	err := c.Compute(context.Background(), t.TempDir())
	var cerr *CommandError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 3, cerr.ExitCode)
	assert.Equal(t, "/bin/sh", cerr.Path)
	assert.Contains(t, cerr.Stderr, "fit diverged")
	assert.Contains(t, err.Error(), "status 3")
	assert.Contains(t, live.String(), "fit diverged")
}

func TestCommand_StderrTailIsBounded(t *testing.T) {
	tail := &tailBuffer{max: 8}
	_, _ = tail.Write([]byte("0123456789"))
	_, _ = tail.Write([]byte("ab"))
	assert.Equal(t, "456789ab", tail.String())
}

func TestCommand_CancelKillsProcessGroup(t *testing.T) {
	work := t.TempDir()
	c := shell(`sleep 30 & sleep 30; echo late > late.txt`)
	c.Env = map[string]string{"PATH": "/usr/bin:/bin"}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Compute(ctx, work)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.NoFileExists(t, filepath.Join(work, "late.txt"))
}

func TestCommand_MissingProgram(t *testing.T) {
	c := &Command{Path: filepath.Join(t.TempDir(), "no-such-program")}
	err := c.Compute(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "starting command"))

	assert.Error(t, (&Command{}).Compute(context.Background(), t.TempDir()))
}

func TestCommand_ConfigSelectsResult(t *testing.T) {
	w, ctx, _ := sandbox(t)
	out := filepath.Join(t.TempDir(), "out")

	a := shell(`echo one > "$ARTIFACTCACHE_OUTPUT/v.txt"`)
	b := shell(`echo two > "$ARTIFACTCACHE_OUTPUT/v.txt"`)
	fpA, err := w.Fingerprint(a, out)
	require.NoError(t, err)
	fpB, err := w.Fingerprint(b, out)
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpB)

	withEnv := shell(`echo one > "$ARTIFACTCACHE_OUTPUT/v.txt"`)
	withEnv.Env = map[string]string{"MODE": "fast"}
	fpEnv, err := w.Fingerprint(withEnv, out)
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpEnv)

	assert.Equal(t, "sh-test", a.Identity())
	assert.Equal(t, "/bin/true", (&Command{Path: "/bin/true"}).Identity())

	res, err := w.Run(ctx, a, out)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	res, err = w.Run(ctx, a, out)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, "one\n", readFile(t, filepath.Join(out, "v.txt")))

	_, err = os.Stat(filepath.Join(out, "v.txt"))
	require.NoError(t, err)
}

func TestCommand_NameKeysInsteadOfPath(t *testing.T) {
	w := New()
	out := "out"
	a := &Command{ID: "fit", Name: "sh", Path: "/bin/sh", Args: []string{"-c", "true"}}
	b := &Command{ID: "fit", Name: "sh", Path: "/usr/bin/sh", Args: []string{"-c", "true"}}
	fpA, err := w.Fingerprint(a, out)
	require.NoError(t, err)
	fpB, err := w.Fingerprint(b, out)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)

	unnamed := &Command{ID: "fit", Path: "/bin/sh", Args: []string{"-c", "true"}}
	fpC, err := w.Fingerprint(unnamed, out)
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpC)

	assert.Equal(t, "sh", (&Command{Name: "sh", Path: "/bin/sh"}).Identity())
}
