package cli

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vk/levelflow/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: 2, Message: err.Error()}
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	varFile   string
	workflows []string
	logFormat string
	logLevel  string
}

func (f *commonFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.varFile, "var-file", "", "YAML file overriding pipeline locals.")
	pf.StringSliceVar(&f.workflows, "workflow", nil, "Only use the named workflows (repeatable).")
	pf.StringVar(&f.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	pf.StringVar(&f.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
}

// config validates the shared flags and builds the app configuration.
func (f *commonFlags) config(command app.Command, paths []string) (app.Config, error) {
	logFormat := strings.ToLower(f.logFormat)
	if logFormat != "text" && logFormat != "json" {
		return app.Config{}, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	if _, err := app.ParseLevel(f.logLevel); err != nil {
		return app.Config{}, err
	}
	return app.Config{
		Command:   command,
		Paths:     paths,
		VarFile:   f.varFile,
		Workflows: f.workflows,
		LogFormat: logFormat,
		LogLevel:  strings.ToLower(f.logLevel),
	}, nil
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")

	var (
		flags  commonFlags
		parsed *app.Config
	)
	accept := func(cfg app.Config) error {
		c, err := app.NewConfig(cfg)
		if err != nil {
			return err
		}
		parsed = c
		return nil
	}

	root := &cobra.Command{
		Use:   "levelflow",
		Short: "Runs second level neuroimaging pipelines",
		Long: `levelflow runs the group level analysis workflows declared in HCL
pipeline files. Statistics are delegated to SPM (through MATLAB) and
FreeSurfer; levelflow expands iterables, schedules the nodes on a bounded
worker pool and caches node results between runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}
	root.SetOut(output)
	root.SetErr(output)
	root.SetArgs(args)
	flags.register(root)

	root.AddCommand(
		newRunCmd(&flags, accept),
		newGraphCmd(&flags, accept),
		newValidateCmd(&flags, accept),
	)

	if err := root.Execute(); err != nil {
		return nil, false, usageError(err)
	}
	if parsed == nil {
		// Help or a bare invocation.
		return nil, true, nil
	}

	slog.Debug("CLI parser finished successfully.", "command", parsed.Command, "paths", parsed.Paths)
	return parsed, false, nil
}

func newRunCmd(flags *commonFlags, accept func(app.Config) error) *cobra.Command {
	var (
		workers         int
		rerun           bool
		healthcheckPort int
		traceFile       string
	)

	cmd := &cobra.Command{
		Use:   "run PATH...",
		Short: "Build and execute the workflows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(app.CommandRun, args)
			if err != nil {
				return err
			}
			cfg.Workers = workers
			cfg.Rerun = rerun
			cfg.HealthcheckPort = healthcheckPort
			cfg.TraceFile = traceFile
			return accept(cfg)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Worker count; 0 uses each workflow's n_procs.")
	cmd.Flags().BoolVar(&rerun, "rerun", false, "Ignore cached node results.")
	cmd.Flags().IntVar(&healthcheckPort, "healthcheck-port", 0, "Port for the /health and /metrics server. 0 is disabled.")
	cmd.Flags().StringVar(&traceFile, "trace-file", "", "Write OpenTelemetry spans as JSON to this file.")
	return cmd
}

func newGraphCmd(flags *commonFlags, accept func(app.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:   "graph PATH...",
		Short: "Print the expanded graph of the workflows in DOT format",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(app.CommandGraph, args)
			if err != nil {
				return err
			}
			return accept(cfg)
		},
	}
}

func newValidateCmd(flags *commonFlags, accept func(app.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:   "validate PATH...",
		Short: "Load, validate and expand the workflows without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(app.CommandValidate, args)
			if err != nil {
				return err
			}
			return accept(cfg)
		},
	}
}
