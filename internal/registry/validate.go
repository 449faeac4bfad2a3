package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// ValidateRegistry performs a strict parity check between manifests and Go code.
// It checks the presence of inputs and outputs and the compatibility of
// input types.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for runnerType, def := range r.DefinitionRegistry {
		if def.Lifecycle == nil || def.Lifecycle.OnRun == "" {
			errs = append(errs, fmt.Sprintf("runner '%s': manifest has no lifecycle.on_run handler", runnerType))
			continue
		}
		handler, ok := r.HandlerRegistry[def.Lifecycle.OnRun]
		if !ok {
			errs = append(errs, fmt.Sprintf("runner '%s': handler '%s' is not registered", runnerType, def.Lifecycle.OnRun))
			continue
		}

		if handler.InputType == nil {
			if len(def.Inputs) > 0 {
				errs = append(errs, fmt.Sprintf("runner '%s': manifest declares inputs, but Go handler has no input struct", runnerType))
			}
		} else {
			errs = append(errs, checkInputs(ctx, runnerType, def.Inputs, handler.InputType)...)
		}

		if handler.OutputType != nil && handler.OutputType != ctyValueType && handler.OutputType.Kind() == reflect.Struct {
			goOutputs := structTagNames(handler.OutputType, "cty")
			for name := range def.Outputs {
				if _, ok := goOutputs[name]; !ok {
					errs = append(errs, fmt.Sprintf("runner '%s': manifest declares output '%s' which is not found in Go struct", runnerType, name))
				}
			}
		}
		logger.Debug("Validated runner manifest.", "runner", runnerType)
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}

func checkInputs(ctx context.Context, runnerType string, defs map[string]*config.InputDefinition, inputType reflect.Type) []string {
	var errs []string
	logger := ctxlog.FromContext(ctx)
	goInputs := structTagNames(inputType, "lf")

	// Check for presence mismatches
	for name := range goInputs {
		if _, ok := defs[name]; !ok {
			errs = append(errs, fmt.Sprintf("runner '%s': Go struct has field for input '%s' which is not declared in manifest", runnerType, name))
		}
	}
	for name := range defs {
		if _, ok := goInputs[name]; !ok {
			errs = append(errs, fmt.Sprintf("runner '%s': manifest declares input '%s' which is not found in Go struct", runnerType, name))
		}
	}

	// Check for type mismatches
	for name, inputDef := range defs {
		goField, ok := goInputs[name]
		if !ok {
			continue
		}

		manifestType := inputDef.Type
		if manifestType.Equals(cty.DynamicPseudoType) {
			logger.Debug("Input declared as 'any', skipping static type check.", "runner", runnerType, "input", name)
			continue
		}

		goFieldType, err := gocty.ImpliedType(reflect.Zero(goField.Type).Interface())
		if err != nil {
			errs = append(errs, fmt.Sprintf("runner '%s', input '%s': could not imply cty type from Go field type %s: %v", runnerType, name, goField.Type, err))
			continue
		}

		if !manifestType.Equals(goFieldType) {
			errs = append(errs, fmt.Sprintf("runner '%s', input '%s': type mismatch. Manifest requires '%s' but Go struct field '%s' provides '%s'",
				runnerType, name, manifestType.FriendlyName(), goField.Name, goFieldType.FriendlyName()))
		}
	}
	return errs
}

var ctyValueType = reflect.TypeOf(cty.Value{})

// structTagNames maps the first element of the given tag to its field for
// every exported field that carries it.
func structTagNames(t reflect.Type, key string) map[string]reflect.StructField {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	fields := make(map[string]reflect.StructField)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tagName := strings.Split(field.Tag.Get(key), ",")[0]
		if tagName != "" && tagName != "-" {
			fields[tagName] = field
		}
	}
	return fields
}
