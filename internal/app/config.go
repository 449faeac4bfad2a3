package app

import "errors"

// Command selects what the App does with the loaded pipeline.
type Command string

const (
	CommandRun      Command = "run"
	CommandGraph    Command = "graph"
	CommandValidate Command = "validate"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command Command
	// Paths are pipeline .hcl files or directories containing them.
	Paths []string
	// VarFile is an optional YAML file overriding locals.
	VarFile string
	// Workflows restricts the run to the named workflows; empty means all.
	Workflows []string

	Workers int
	Rerun   bool

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	TraceFile       string
}

// NewConfig validates cfg and returns a copy.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.Paths) == 0 {
		return nil, errors.New("at least one pipeline path is required")
	}
	if cfg.Workers < 0 {
		return nil, errors.New("workers must not be negative")
	}
	if cfg.Command == "" {
		cfg.Command = CommandRun
	}
	return &cfg, nil
}
