package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tillsync/internal/paths"
	"github.com/mesh-intelligence/tillsync/internal/services"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// errNoRemote is returned by commands that need the remote authority when
// api_base_url is not configured.
var errNoRemote = errors.New("api_base_url is not configured")

// userErrors are the failures caused by what the user asked for rather than
// by the machine or the network.
var userErrors = []error{
	errNoRemote,
	errBadOutputMode,
	types.ErrNotFound,
	types.ErrUnknownCollection,
	types.ErrInvalidID,
	types.ErrInvalidData,
	types.ErrSyncInProgress,
	types.ErrBackendEmpty,
	types.ErrBackendUnknown,
	types.ErrAPIBaseURLInvalid,
	types.ErrProbeIntervalInvalid,
	types.ErrLogLevelUnknown,
	services.ErrEmptyCart,
	services.ErrInvalidQuantity,
	services.ErrInsufficientStock,
}

// usageError is a command line cobra rejected: an unknown command or flag,
// or the wrong number of arguments.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return exitUserError
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

// markUsage wraps the argument validators of cmd and its subcommands so
// their failures classify as usage errors.
func markUsage(cmd *cobra.Command) {
	if validate := cmd.Args; validate != nil {
		cmd.Args = func(c *cobra.Command, args []string) error {
			if err := validate(c, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		}
	}
	for _, sub := range cmd.Commands() {
		markUsage(sub)
	}
}

// app holds the global flag values and the state resolved before a
// subcommand runs.
type app struct {
	flagConfigDir string
	flagDataDir   string
	flagJSON      bool
	flagYAML      bool
	flagLogLevel  string

	configDir string
	cfg       types.Config
	logger    *slog.Logger

	out    io.Writer
	errOut io.Writer
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tillsync",
		Short:         "Offline-first point-of-sale store with background sync",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// NoArgs rejects an unknown subcommand name.
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flagConfigDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.flagDataDir, "data-dir", "", "data directory (default: $(CWD)/.tillsync-db)")
	pf.BoolVar(&a.flagJSON, "json", false, "output as JSON")
	pf.BoolVar(&a.flagYAML, "yaml", false, "output as YAML")
	pf.StringVar(&a.flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newVersionCmd(a),
		newInitCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newSetCmd(a),
		newDeleteCmd(a),
		newCheckoutCmd(a),
		newOutboxCmd(a),
		newSyncCmd(a),
		newPushCmd(a),
		newRestoreCmd(a),
		newStatusCmd(a),
		newBackupCmd(a),
		newServeCmd(a),
	)
	markUsage(root)
	return root
}

// setup resolves directories, loads config.yaml, applies flag overrides,
// validates the result and builds the logger.
func (a *app) setup() error {
	if a.flagJSON && a.flagYAML {
		return fmt.Errorf("%w: --json and --yaml are exclusive", errBadOutputMode)
	}

	configDir, err := paths.ResolveConfigDir(a.flagConfigDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}

	cfg.DataDir, err = paths.ResolveDataDir(a.flagDataDir, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if a.flagLogLevel != "" {
		cfg.LogLevel = a.flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	a.configDir = configDir
	a.cfg = cfg
	a.logger = newLogger(a.errOut, cfg.LogLevel)
	return nil
}

// newLogger builds a text logger at level. Validate has already rejected
// unknown levels, so a parse failure means the level was empty.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
