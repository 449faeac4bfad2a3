package identity

import (
	"context"
	"reflect"

	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input collects every argument of the step.
type Input struct {
	Fields cty.Value `lf:",remain"`
}

// OnRunIdentity returns the step's arguments unchanged.
func OnRunIdentity(ctx context.Context, input *Input) (*cty.Value, error) {
	out := input.Fields
	if out.IsNull() {
		out = cty.EmptyObjectVal
	}
	ctxlog.FromContext(ctx).Debug("Passing fields through.", "count", len(out.Type().AttributeTypes()))
	return &out, nil
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("OnRunIdentity", &registry.RegisteredRunner{
		NewInput:   func() any { return new(Input) },
		InputType:  reflect.TypeOf(Input{}),
		OutputType: reflect.TypeOf(cty.Value{}),
		Fn:         OnRunIdentity,
	})
}
