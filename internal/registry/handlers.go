package registry

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/vk/levelflow/internal/config"
)

// RegisteredRunner holds the compiled Go parts of a runner's lifecycle function.
//
// Fn must have the shape func(context.Context, *Input) (*Output, error); it
// is invoked through reflection by the executor.
type RegisteredRunner struct {
	NewInput   func() any
	InputType  reflect.Type
	OutputType reflect.Type
	Fn         any
}

// RegisterRunner registers a Go function for a runner's lifecycle event.
func (r *Registry) RegisterRunner(name string, handler *RegisteredRunner) {
	if _, exists := r.HandlerRegistry[name]; exists {
		panic(fmt.Sprintf("runner handler with name '%s' already registered", name))
	}
	slog.Debug("Registering runner handler.", "name", name)
	r.HandlerRegistry[name] = handler
}

// Handler returns the handler bound to a runner type through its manifest.
func (r *Registry) Handler(runnerType string) (*config.RunnerDefinition, *RegisteredRunner, error) {
	def, ok := r.DefinitionRegistry[runnerType]
	if !ok {
		return nil, nil, fmt.Errorf("unknown runner type %q", runnerType)
	}
	if def.Lifecycle == nil || def.Lifecycle.OnRun == "" {
		return nil, nil, fmt.Errorf("runner %q has no on_run handler", runnerType)
	}
	handler, ok := r.HandlerRegistry[def.Lifecycle.OnRun]
	if !ok {
		return nil, nil, fmt.Errorf("handler %q for runner %q is not registered", def.Lifecycle.OnRun, runnerType)
	}
	return def, handler, nil
}
