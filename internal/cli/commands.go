package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"artifactcache/internal/fingerprint"
	"artifactcache/internal/memo"
	"artifactcache/internal/store"
)

func (a *app) fingerprintCommand() *cobra.Command {
	var identity, output string
	cmd := &cobra.Command{
		Use:   "fingerprint FILE",
		Short: "Fingerprint a YAML value, or the cache key built from it",
		Long: `Fingerprint the YAML document in FILE.

With --identity, the document is treated as a computation's configuration
and the printed fingerprint is the cache key of that identity, --output
directory and configuration.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := readYAMLValue(args[0])
			if err != nil {
				return err
			}
			if identity != "" {
				if output == "" {
					return invalidInvocationf("--output is required with --identity")
				}
				key, err := memo.Key(identity, output, v)
				if err != nil {
					return err
				}
				v = key
			}
			fp, err := a.engine.Fingerprint(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "computation identity")
	cmd.Flags().StringVar(&output, "output", "", "output directory of the computation")
	return cmd
}

func (a *app) hashFileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-file PATH",
		Short: "Digest a file's contents",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := a.engine.FingerprintFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, fp)
			return nil
		},
	}
}

// computation tags errors from the wrapped program so they map to
// ExitComputeFailure.
type computation struct {
	memo.Computation
}

func (c computation) Compute(ctx context.Context, workDir string) error {
	if err := c.Computation.Compute(ctx, workDir); err != nil {
		return &ComputationError{Err: err}
	}
	return nil
}

func (a *app) runCommand() *cobra.Command {
	var identity, output, configValue string
	var env []string
	cmd := &cobra.Command{
		Use:   "run --identity ID --output DIR [flags] -- PROGRAM [ARGS...]",
		Short: "Run a program through the cache",
		Long: `Run PROGRAM unless its result is already cached, then leave the result in
--output.

The program runs in an empty private directory with only the variables given
by --env, plus ARTIFACTCACHE_OUTPUT naming that directory. Whatever it writes
there is published to the cache when it exits successfully.

PROGRAM is keyed as written; it is looked up in PATH only to run it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(cmd.Flags(), "identity", "output"); err != nil {
				return err
			}
			if len(args) == 0 {
				return invalidInvocationf("run: no program given")
			}
			declared, err := parseEnv(env)
			if err != nil {
				return err
			}
			path, err := exec.LookPath(args[0])
			if err != nil {
				return invalidInvocationf("run: %v", err)
			}

			c := &memo.Command{
				ID:     identity,
				Path:   path,
				Name:   args[0],
				Args:   args[1:],
				Env:    declared,
				Stdout: a.stderr,
				Stderr: a.stderr,
			}
			if configValue != "" {
				v, err := readYAMLValue(configValue)
				if err != nil {
					return err
				}
				c.Params = v
			}

			w, err := a.wrapper()
			if err != nil {
				return err
			}
			res, err := w.Run(cmd.Context(), computation{c}, output)
			if err != nil {
				return err
			}
			status := "computed"
			if res.Hit {
				status = "hit"
			}
			fmt.Fprintf(a.stdout, "%s %s\n", status, res.Fingerprint)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&identity, "identity", "", "computation identity (required)")
	f.StringVar(&output, "output", "", "directory that receives the result (required)")
	f.StringVar(&configValue, "config-value", "", "YAML file with extra configuration that selects the result")
	f.StringArrayVar(&env, "env", nil, "KEY=VALUE visible to the program; repeatable")
	return cmd
}

func (a *app) lsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List cache entries",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			entries, err := st.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FINGERPRINT\tSIZE\tFILES\tCREATED")
			var total uint64
			for _, e := range entries {
				if e.Err != nil {
					fmt.Fprintf(tw, "%s\tCORRUPT\t-\t%v\n", e.Fingerprint, e.Err)
					continue
				}
				total += uint64(e.Size)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.Fingerprint, humanize.Bytes(uint64(e.Size)), e.Files, humanize.Time(e.ModTime))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s in %s\n", humanize.Bytes(total), pluralEntries(len(entries)))
			return nil
		},
	}
}

func pluralEntries(n int) string {
	if n == 1 {
		return "1 entry"
	}
	return humanize.Comma(int64(n)) + " entries"
}

func (a *app) materializeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "materialize FINGERPRINT DEST",
		Short: "Copy a cache entry into a directory",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := parseFingerprint(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			ok, err := st.Materialize(fp, args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", store.ErrEntryNotFound, fp)
			}
			return nil
		},
	}
}

func (a *app) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify FINGERPRINT",
		Short: "Re-hash a cache entry against its manifest",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := parseFingerprint(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			if err := st.Verify(fp); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s ok\n", fp)
			return nil
		},
	}
}

func (a *app) cleanTmpCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "clean-tmp",
		Short: "Remove directories left behind by interrupted runs",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return invalidInvocationf("--older-than must not be negative")
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			n, err := st.CleanTemp(olderThan)
			if err != nil {
				return err
			}
			a.logger.Debug("cleaned temporary directories", zap.Int("removed", n), zap.Duration("older_than", olderThan))
			fmt.Fprintf(a.stdout, "removed %d\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", defaultStaleAge, "only remove directories at least this old")
	return cmd
}

func readYAMLValue(path string) (fingerprint.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, invalidInvocationf("reading %s: %v", path, err)
	}
	v, err := fingerprint.FromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, invalidInvocationf("--env %q: expected KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}
