// Package schema holds the gohcl decoding targets for pipeline files and
// runner manifests. The structs mirror the block layout on disk and are
// translated into the format-agnostic config model by the hcl package.
package schema

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// File decodes every top-level block a file may contain.
type File struct {
	Runners   []*RunnerDefinition `hcl:"runner,block"`
	Locals    []*Locals           `hcl:"locals,block"`
	Workflows []*Workflow         `hcl:"workflow,block"`
}

// Locals is a `locals` block. Its attributes are evaluated in dependency
// order once every file has been read.
type Locals struct {
	Body hcl.Body `hcl:",remain"`
}

// Workflow is a `workflow` block. Its body references locals, so it is
// decoded into WorkflowBody in a second pass with an evaluation context.
type Workflow struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// WorkflowBody is the content of a `workflow` block.
type WorkflowBody struct {
	BaseDir     string            `hcl:"base_dir"`
	NProcs      *int              `hcl:"n_procs,optional"`
	Environment map[string]string `hcl:"environment,optional"`
	Steps       []*Step           `hcl:"step,block"`
}

// StepArgs represents the content of the 'arguments' block within a step.
type StepArgs struct {
	Body hcl.Body `hcl:",remain"`
}

// Step represents a `step` block inside a workflow. It is a runnable
// instance of a defined runner.
type Step struct {
	RunnerType string      `hcl:"runner_type,label"`
	Name       string      `hcl:"instance_name,label"`
	Arguments  *StepArgs   `hcl:"arguments,block"`
	Iterables  []*Iterable `hcl:"iterable,block"`
	DependsOn  []string    `hcl:"depends_on,optional"`
}

// Iterable fans a step out over the values of one input field.
type Iterable struct {
	Field  string         `hcl:"field,label"`
	Values hcl.Expression `hcl:"values"`
}

// --- Module Manifest Schemas ---

// Lifecycle defines the mapping from a runner's lifecycle event to a
// registered Go handler function.
type Lifecycle struct {
	OnRun string `hcl:"on_run,optional"`
}

// RunnerDefinition is a `runner` block from a module manifest.
type RunnerDefinition struct {
	Type        string              `hcl:"type,label"`
	Description string              `hcl:"description,optional"`
	Dynamic     *bool               `hcl:"dynamic_outputs,optional"`
	AlwaysRun   *bool               `hcl:"always_run,optional"`
	Lifecycle   *Lifecycle          `hcl:"lifecycle,block"`
	Inputs      []*InputDefinition  `hcl:"input,block"`
	Outputs     []*OutputDefinition `hcl:"output,block"`
}

// InputDefinition defines a single input variable for a runner.
type InputDefinition struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type"`
	Description string         `hcl:"description,optional"`
	Default     *cty.Value     `hcl:"default,optional"`
	Optional    *bool          `hcl:"optional,optional"`
}

// OutputDefinition defines a single output value produced by a runner.
type OutputDefinition struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type"`
	Description string         `hcl:"description,optional"`
}
