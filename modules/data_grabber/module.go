package data_grabber

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// DefaultField is the output produced when no template_args are given.
const DefaultField = "outfiles"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the data_grabber runner.
type Input struct {
	BaseDirectory string                `lf:"base_directory"`
	Template      string                `lf:"template"`
	FieldTemplate map[string]string     `lf:"field_template"`
	TemplateArgs  map[string][][]string `lf:"template_args"`
	SortFilelist  bool                  `lf:"sort_filelist"`
	RaiseOnEmpty  bool                  `lf:"raise_on_empty"`

	// Infields holds the undeclared arguments, e.g. con or con_id.
	Infields cty.Value `lf:",remain"`
}

// infieldNames returns the names of the remaining arguments, sorted.
func (in *Input) infieldNames() []string {
	if in.Infields.IsNull() || !in.Infields.Type().IsObjectType() {
		return nil
	}
	names := make([]string, 0, len(in.Infields.Type().AttributeTypes()))
	for name := range in.Infields.Type().AttributeTypes() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (in *Input) argValue(name string) cty.Value {
	if !in.Infields.IsNull() && in.Infields.Type().IsObjectType() && in.Infields.Type().HasAttribute(name) {
		return in.Infields.GetAttr(name)
	}
	return cty.StringVal(name)
}

// OnRunDataGrabber is the handler for the 'data_grabber' runner's on_run lifecycle event.
func OnRunDataGrabber(ctx context.Context, input *Input) (*cty.Value, error) {
	logger := ctxlog.FromContext(ctx)

	templateArgs := input.TemplateArgs
	if len(templateArgs) == 0 {
		templateArgs = map[string][][]string{DefaultField: {input.infieldNames()}}
	}

	fields := make([]string, 0, len(templateArgs))
	for field := range templateArgs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	outputs := make(map[string]cty.Value, len(fields))
	for _, field := range fields {
		template := input.Template
		if t, ok := input.FieldTemplate[field]; ok {
			template = t
		}

		var files []string
		for _, argNames := range templateArgs[field] {
			pattern := template
			if len(argNames) > 0 {
				args := make([]cty.Value, len(argNames))
				for i, name := range argNames {
					args[i] = input.argValue(name)
				}
				var err error
				if pattern, err = interpolate(template, args); err != nil {
					return nil, fmt.Errorf("output %q: %w", field, err)
				}
			}
			if !filepath.IsAbs(pattern) {
				pattern = filepath.Join(input.BaseDirectory, pattern)
			}

			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("output %q: bad pattern %q: %w", field, pattern, err)
			}
			if len(matches) == 0 {
				if input.RaiseOnEmpty {
					return nil, fmt.Errorf("output %q: no files match %q", field, pattern)
				}
				logger.Warn("No files matched template.", "field", field, "pattern", pattern)
			}
			if input.SortFilelist {
				sort.Strings(matches)
			}
			logger.Debug("Resolved template.", "field", field, "pattern", pattern, "matches", len(matches))
			files = append(files, matches...)
		}
		outputs[field] = stringList(files)
	}

	out := cty.ObjectVal(outputs)
	return &out, nil
}

func stringList(values []string) cty.Value {
	if len(values) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	out := make([]cty.Value, len(values))
	for i, v := range values {
		out[i] = cty.StringVal(v)
	}
	return cty.ListVal(out)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("OnRunDataGrabber", &registry.RegisteredRunner{
		NewInput:   func() any { return new(Input) },
		InputType:  reflect.TypeOf(Input{}),
		OutputType: reflect.TypeOf(cty.Value{}),
		Fn:         OnRunDataGrabber,
	})
}
