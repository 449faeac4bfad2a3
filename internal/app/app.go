package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hashicorp/hcl/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	lfhcl "github.com/vk/levelflow/internal/hcl"
	"github.com/vk/levelflow/internal/metrics"
	"github.com/vk/levelflow/internal/registry"
)

const (
	ServiceName = "levelflow"
	Version     = "0.1.0"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	cfg       *Config
	registry  *registry.Registry
	model     *config.Model
	converter config.Converter
	evalCtx   *hcl.EvalContext

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics
	httpServer   *http.Server
}

// NewApp is the constructor for the main application. Logs go to outW. It
// loads the pipeline, registers the Go handlers of modules (all core
// modules when none are given) and validates them against the manifests.
//
// A mismatch between manifests and handlers is a programmer error and
// panics; configuration errors are returned.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) (*App, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := newLogger(level, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, converter, err := loader.Load(ctx, cfg.Paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded and translated into unified model.", "workflows", len(model.Workflows))

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	reg.PopulateDefinitionsFromModel(model)
	if err := reg.ValidateRegistry(ctx); err != nil {
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		outW:         outW,
		logger:       logger,
		cfg:          cfg,
		registry:     reg,
		model:        model,
		converter:    converter,
		evalCtx:      lfhcl.NewEvalContext(model.Locals),
		promRegistry: promRegistry,
		metrics:      metrics.New(promRegistry),
	}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Model returns the loaded configuration model.
func (a *App) Model() *config.Model {
	return a.model
}

// Execute dispatches to Run, Graph or Validate according to the configured
// command. Graph and Validate write their report to w.
func (a *App) Execute(ctx context.Context, w io.Writer) error {
	switch a.cfg.Command {
	case CommandRun, "":
		return a.Run(ctx)
	case CommandGraph:
		return a.Graph(ctx, w)
	case CommandValidate:
		return a.Validate(ctx, w)
	}
	return fmt.Errorf("unknown command %q", a.cfg.Command)
}
