// Package cli implements the artifactcache command line tool.
//
// Every command reads its settings from an optional YAML file (--config)
// with flags taking precedence. Environment variables are never consulted.
// Errors are mapped to semantic exit codes by ExitCode.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"artifactcache/internal/cacheroot"
	"artifactcache/internal/config"
	"artifactcache/internal/fingerprint"
	"artifactcache/internal/logging"
	"artifactcache/internal/memo"
	"artifactcache/internal/store"
)

// globalFlags are accepted by every command.
type globalFlags struct {
	configPath string
	root       string
	algorithm  string
	length     int
	linkMode   string
	logLevel   string
}

// app is the state shared by the commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	flags globalFlags

	// started is set once argument parsing succeeded and a command began
	// running.
	started bool

	cfg    *config.Config
	logger *zap.Logger
	engine *fingerprint.Engine
}

// Main runs the tool with args (excluding argv[0]) and returns the exit
// status.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err == nil {
		return ExitSuccess
	}

	fmt.Fprintf(stderr, "error: %v\n", err)
	if !a.started {
		// Cobra's own argument and flag errors are untyped.
		return ExitInvalidInvocation
	}
	return ExitCode(err)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "artifactcache",
		Short: "Content-addressed cache for directory-producing computations",
		Long: `artifactcache fingerprints configuration values and files, and caches
the directories computations write under those fingerprints.

A cached directory is published with a single atomic rename, so any number
of processes can share one cache root without locks.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &InvocationError{ExitCode: ExitInvalidInvocation, Message: err.Error(), Err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&a.flags.root, "root", "", "cache root directory (default: per-user cache dir)")
	pf.StringVar(&a.flags.algorithm, "algorithm", "", "digest algorithm: sha256|blake3")
	pf.IntVar(&a.flags.length, "length", 0, "fingerprint length in hex characters, 0 for full length")
	pf.StringVar(&a.flags.linkMode, "link-mode", "", "how entries are materialized: copy|hardlink")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: none|debug|info|warn|error")

	root.AddCommand(
		a.fingerprintCommand(),
		a.hashFileCommand(),
		a.runCommand(),
		a.lsCommand(),
		a.materializeCommand(),
		a.verifyCommand(),
		a.cleanTmpCommand(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and builds the
// logger and engine.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.started = true

	cfg := config.Default()
	if a.flags.configPath != "" {
		loaded, err := config.Load(a.flags.configPath)
		if err != nil {
			return &ConfigError{Err: err}
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	override := func(name string, apply func()) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	override("root", func() { cfg.Root = a.flags.root })
	override("algorithm", func() { cfg.Algorithm = a.flags.algorithm })
	override("length", func() { cfg.FingerprintLength = a.flags.length })
	override("link-mode", func() { cfg.LinkMode = a.flags.linkMode })
	override("log-level", func() { cfg.LogLevel = a.flags.logLevel })
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Err: err}
	}

	logger, err := logging.New(cfg.LogLevel, a.stderr)
	if err != nil {
		return &ConfigError{Err: err}
	}
	engine, err := cfg.Engine()
	if err != nil {
		return &ConfigError{Err: err}
	}

	a.cfg = cfg
	a.logger = logger
	a.engine = engine
	return nil
}

func (a *app) openStore() (*store.Store, error) {
	opts, err := a.cfg.StoreOptions(a.logger)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return store.Open(a.cfg.RootOrDefault(), opts...)
}

func (a *app) wrapper() (*memo.Wrapper, error) {
	mode, err := store.ParseLinkMode(a.cfg.LinkMode)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return memo.New(
		memo.WithEngine(a.engine),
		memo.WithRegistry(cacheroot.NewRegistry(a.cfg.RootOrDefault())),
		memo.WithLinkMode(mode),
		memo.WithLogger(a.logger),
	), nil
}

// exactArgs is cobra.ExactArgs reporting an InvocationError.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return invalidInvocationf("%s: expected %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

func requireFlag(flags *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		f := flags.Lookup(name)
		if f == nil || f.Value.String() == "" {
			return invalidInvocationf("--%s is required", name)
		}
	}
	return nil
}

// parseFingerprint validates a fingerprint given on the command line.
func parseFingerprint(s string) (fingerprint.Fingerprint, error) {
	fp, err := fingerprint.Parse(s)
	if err != nil {
		return "", &InvocationError{ExitCode: ExitInvalidInvocation, Message: err.Error(), Err: err}
	}
	return fp, nil
}

const defaultStaleAge = 24 * time.Hour
