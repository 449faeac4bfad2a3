package hcl

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// InputTag is the struct tag that binds a Go input field to a manifest input.
const InputTag = "lf"

// Converter is the HCL-specific implementation of the config.Converter interface.
type Converter struct{}

// NewConverter creates a new HCL converter.
func NewConverter() *Converter {
	return &Converter{}
}

// FieldName returns the manifest input name bound to a struct field.
func FieldName(field reflect.StructField) string {
	if tag := field.Tag.Get(InputTag); tag != "" {
		return strings.Split(tag, ",")[0]
	}
	return field.Name
}

// isRemain reports whether a field collects undeclared arguments. Such a
// field is tagged `lf:",remain"` and has type cty.Value.
func isRemain(field reflect.StructField) bool {
	tag := field.Tag.Get(InputTag)
	return strings.HasSuffix(tag, ",remain") && field.Type == reflect.TypeOf(cty.Value{})
}

// DecodeBody evaluates HCL expressions, applies defaults, and populates the
// provided Go struct using reflection.
func (c *Converter) DecodeBody(
	ctx context.Context,
	inputStruct any,
	args map[string]hcl.Expression,
	defs map[string]*config.InputDefinition,
	evalCtx *hcl.EvalContext,
) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting HCL body decoding.")

	structVal := reflect.ValueOf(inputStruct)
	if structVal.Kind() != reflect.Ptr || structVal.IsNil() {
		return fmt.Errorf("inputStruct must be a non-nil pointer")
	}
	structVal = structVal.Elem()
	structType := structVal.Type()

	remain := -1
	for i := 0; i < structType.NumField(); i++ {
		if isRemain(structType.Field(i)) {
			remain = i
			break
		}
	}

	extra := map[string]cty.Value{}
	for name, expr := range args {
		if _, declared := defs[name]; declared {
			continue
		}
		if remain < 0 {
			return fmt.Errorf("unsupported argument %q", name)
		}
		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			return diags
		}
		extra[name] = val
	}
	if remain >= 0 {
		obj := cty.EmptyObjectVal
		if len(extra) > 0 {
			obj = cty.ObjectVal(extra)
		}
		structVal.Field(remain).Set(reflect.ValueOf(obj))
	}

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		fieldVal := structVal.Field(i)

		if !fieldVal.CanSet() || i == remain {
			continue
		}

		lookupName := FieldName(field)
		inputDef, defExists := defs[lookupName]
		if !defExists {
			continue
		}

		targetPtr := fieldVal.Addr().Interface()
		argExpr, argProvided := args[lookupName]

		if argProvided {
			val, diags := argExpr.Value(evalCtx)
			if diags.HasErrors() {
				return diags
			}
			if val.IsNull() && (inputDef.Default != nil || inputDef.Optional) {
				argProvided = false
			} else if err := c.decode(ctx, val, inputDef.Type, targetPtr); err != nil {
				return fmt.Errorf("failed to decode argument '%s': %w", lookupName, err)
			}
		}

		if !argProvided {
			if inputDef.Default == nil && !inputDef.Optional {
				return fmt.Errorf("missing required argument %q", lookupName)
			}

			if inputDef.Default != nil {
				if err := c.decode(ctx, *inputDef.Default, inputDef.Type, targetPtr); err != nil {
					return fmt.Errorf("failed to apply default for '%s': %w", lookupName, err)
				}
			}
		}
	}
	logger.Debug("Finished HCL body decoding successfully.")
	return nil
}

// decode handles the conversion and decoding of a cty.Value into a Go
// pointer. The value is first checked against the manifest type, then
// converted to the type implied by the Go target.
func (c *Converter) decode(ctx context.Context, val cty.Value, declared cty.Type, goVal any) error {
	logger := ctxlog.FromContext(ctx)
	valPtr := reflect.ValueOf(goVal)
	if valPtr.Kind() != reflect.Ptr {
		return fmt.Errorf("target for decoding must be a pointer, got %T", goVal)
	}

	if declared != cty.NilType && declared != cty.DynamicPseudoType {
		checked, err := convert.Convert(val, declared)
		if err != nil {
			return fmt.Errorf("value does not match declared type %s: %w", declared.FriendlyName(), err)
		}
		val = checked
	}

	impliedType, err := gocty.ImpliedType(valPtr.Elem().Interface())
	if err != nil {
		logger.Debug("Could not imply cty.Type from Go type, attempting direct decoding.", "go_type", valPtr.Elem().Type().String(), "error", err)
		return gocty.FromCtyValue(val, goVal)
	}

	logger.Debug("Preparing to decode value.",
		"source_type", val.Type().FriendlyName(),
		"target_type", impliedType.FriendlyName(),
	)

	convertedVal, err := convert.Convert(val, impliedType)
	if err != nil {
		return fmt.Errorf("cannot convert %s to required type %s: %w", val.Type().FriendlyName(), impliedType.FriendlyName(), err)
	}

	if !val.Type().Equals(convertedVal.Type()) {
		logger.Debug("Implicitly converted value type.",
			"from", val.Type().FriendlyName(),
			"to", convertedVal.Type().FriendlyName(),
		)
	}

	return gocty.FromCtyValue(convertedVal, goVal)
}

// ToCtyValue converts a native Go value into its corresponding cty.Value.
// A cty.Value is returned unchanged.
func (c *Converter) ToCtyValue(v any) (cty.Value, error) {
	if v == nil {
		return cty.NilVal, nil
	}
	if val, ok := v.(cty.Value); ok {
		return val, nil
	}
	if rt := reflect.TypeOf(v); rt.Kind() == reflect.Struct && !hasOutputFields(rt) {
		return cty.EmptyObjectVal, nil
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return gocty.ToCtyValue(v, ty)
}

// hasOutputFields reports whether t has at least one cty-tagged field.
func hasOutputFields(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		if name, _, _ := strings.Cut(t.Field(i).Tag.Get("cty"), ","); name != "" {
			return true
		}
	}
	return false
}

// FromCtyValue decodes val into the Go value target points at.
func (c *Converter) FromCtyValue(val cty.Value, target any) error {
	if ptr, ok := target.(*cty.Value); ok {
		*ptr = val
		return nil
	}
	ty, err := gocty.ImpliedType(target)
	if err != nil {
		return gocty.FromCtyValue(val, target)
	}
	converted, err := convert.Convert(val, ty)
	if err != nil {
		return fmt.Errorf("cannot convert %s to %s: %w", val.Type().FriendlyName(), ty.FriendlyName(), err)
	}
	return gocty.FromCtyValue(converted, target)
}
