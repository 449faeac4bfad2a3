package merge

import (
	"context"
	"fmt"
	"reflect"

	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

const (
	// AxisVStack concatenates the inputs.
	AxisVStack = "vstack"
	// AxisHStack pairs the i-th elements of the inputs.
	AxisHStack = "hstack"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the merge runner.
type Input struct {
	In1  []string `lf:"in1"`
	In2  []string `lf:"in2"`
	Axis string   `lf:"axis"`
}

// Merge combines the two lists along axis.
func Merge(in1, in2 []string, axis string) ([][]string, error) {
	switch axis {
	case AxisVStack:
		out := make([]string, 0, len(in1)+len(in2))
		out = append(out, in1...)
		out = append(out, in2...)
		return [][]string{out}, nil
	case AxisHStack:
		if len(in1) != len(in2) {
			return nil, fmt.Errorf("hstack needs inputs of equal length, got %d and %d", len(in1), len(in2))
		}
		out := make([][]string, len(in1))
		for i := range in1 {
			out[i] = []string{in1[i], in2[i]}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown axis %q, expected %q or %q", axis, AxisVStack, AxisHStack)
	}
}

// OnRunMerge is the handler for the 'merge' runner's on_run lifecycle event.
func OnRunMerge(ctx context.Context, input *Input) (*cty.Value, error) {
	merged, err := Merge(input.In1, input.In2, input.Axis)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Merged inputs.", "axis", input.Axis, "in1", len(input.In1), "in2", len(input.In2))

	var out cty.Value
	if input.Axis == AxisVStack {
		out = stringList(merged[0])
	} else {
		rows := make([]cty.Value, len(merged))
		for i, row := range merged {
			rows[i] = stringList(row)
		}
		if len(rows) == 0 {
			out = cty.ListValEmpty(cty.List(cty.String))
		} else {
			out = cty.ListVal(rows)
		}
	}
	result := cty.ObjectVal(map[string]cty.Value{"out": out})
	return &result, nil
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
	r.RegisterRunner("OnRunMerge", &registry.RegisteredRunner{
		NewInput:   func() any { return new(Input) },
		InputType:  reflect.TypeOf(Input{}),
		OutputType: reflect.TypeOf(cty.Value{}),
		Fn:         OnRunMerge,
	})
}
