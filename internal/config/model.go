package config

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Model is the unified, format-agnostic representation of the entire
// application configuration: runner manifests, evaluated locals and the
// workflows to execute.
type Model struct {
	Runners   map[string]*RunnerDefinition
	Locals    map[string]cty.Value
	Workflows []*Workflow
}

// Workflow returns the workflow with the given name, or nil.
func (m *Model) Workflow(name string) *Workflow {
	for _, wf := range m.Workflows {
		if wf.Name == name {
			return wf
		}
	}
	return nil
}

// Workflow is a named graph of steps sharing a base directory and a
// degree of parallelism.
type Workflow struct {
	Name string
	// BaseDir is the root under which every node gets its working directory.
	BaseDir string
	// NProcs is the worker count for this workflow; zero means unset.
	NProcs int
	// Environment is merged into the environment of every external command.
	Environment map[string]string
	Steps       []*Step
}

// Step is the format-agnostic representation of a `step` block.
type Step struct {
	RunnerType string
	Name       string
	Arguments  map[string]hcl.Expression
	DependsOn  []string
	Iterables  []*Iterable
}

// Key returns the "runner_type.instance_name" form used in references.
func (s *Step) Key() string {
	return s.RunnerType + "." + s.Name
}

// Iterable fans a step out over a list of values for one input field.
type Iterable struct {
	Field  string
	Values hcl.Expression
}

// --- Runner Manifest Models ---

// RunnerDefinition is the format-agnostic representation of a runner's manifest.
type RunnerDefinition struct {
	Type        string
	Description string
	Lifecycle   *Lifecycle
	Inputs      map[string]*InputDefinition
	Outputs     map[string]*OutputDefinition

	// DynamicOutputs marks runners whose output names depend on the step's
	// arguments, so references to them are not checked against Outputs.
	DynamicOutputs bool

	// AlwaysRun marks runners whose result depends on state outside their
	// arguments, such as the files a glob matches. They never reuse a
	// cached result.
	AlwaysRun bool
}

// Lifecycle maps a runner's events to Go handler names.
type Lifecycle struct {
	OnRun string
}

// InputDefinition defines a single input argument for a runner.
type InputDefinition struct {
	Name        string
	Type        cty.Type
	Description string
	Default     *cty.Value
	Optional    bool
}

// OutputDefinition defines a single output value from a runner.
type OutputDefinition struct {
	Name        string
	Type        cty.Type
	Description string
}
