package hcl

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/listutil"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// OrderSubjectsFunc exposes listutil.OrderSubjects as
// `ordersubjects(files, subjects)`.
var OrderSubjectsFunc = function.New(&function.Spec{
	Description: "Selects, for each subject in order, the first path containing /_subject_id_<subject>/.",
	Params: []function.Parameter{
		{Name: "files", Type: cty.List(cty.String)},
		{Name: "subjects", Type: cty.List(cty.String)},
	},
	Type: function.StaticReturnType(cty.List(cty.String)),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		ordered := listutil.OrderSubjects(stringSlice(args[0]), stringSlice(args[1]))
		return stringList(ordered), nil
	},
})

// ListToTupleFunc exposes listutil.ListToTuple as `list2tuple(lists)`. The
// result is a tuple of string tuples, one per inner list.
var ListToTupleFunc = function.New(&function.Spec{
	Description: "Converts each inner list into a tuple, preserving element order.",
	Params: []function.Parameter{
		{Name: "lists", Type: cty.List(cty.List(cty.String))},
	},
	Type: func(args []cty.Value) (cty.Type, error) {
		if !args[0].IsWhollyKnown() {
			return cty.DynamicPseudoType, nil
		}
		return tupleOfTuples(listOfStringSlices(args[0])).Type(), nil
	},
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return tupleOfTuples(listutil.ListToTuple(listOfStringSlices(args[0]))), nil
	},
})

// Functions returns the function table available to every expression.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"ordersubjects": OrderSubjectsFunc,
		"list2tuple":    ListToTupleFunc,
		"concat":        stdlib.ConcatFunc,
		"element":       stdlib.ElementFunc,
		"flatten":       stdlib.FlattenFunc,
		"format":        stdlib.FormatFunc,
		"formatlist":    stdlib.FormatListFunc,
		"join":          stdlib.JoinFunc,
		"length":        stdlib.LengthFunc,
		"lower":         stdlib.LowerFunc,
		"range":         stdlib.RangeFunc,
		"upper":         stdlib.UpperFunc,
	}
}

// NewEvalContext builds the root evaluation context that exposes locals as
// `local.<name>` and the function table.
func NewEvalContext(locals map[string]cty.Value) *hcl.EvalContext {
	vars := map[string]cty.Value{}
	if len(locals) > 0 {
		vars["local"] = cty.ObjectVal(locals)
	} else {
		vars["local"] = cty.EmptyObjectVal
	}
	return &hcl.EvalContext{
		Variables: vars,
		Functions: Functions(),
	}
}

func stringSlice(v cty.Value) []string {
	if v.IsNull() || v.LengthInt() == 0 {
		return nil
	}
	out := make([]string, 0, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		out = append(out, elem.AsString())
	}
	return out
}

func listOfStringSlices(v cty.Value) [][]string {
	if v.IsNull() || v.LengthInt() == 0 {
		return nil
	}
	out := make([][]string, 0, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		out = append(out, stringSlice(elem))
	}
	return out
}

func stringList(values []string) cty.Value {
	if len(values) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(values))
	for i, s := range values {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}

func tupleOfTuples(lists [][]string) cty.Value {
	if len(lists) == 0 {
		return cty.EmptyTupleVal
	}
	tuples := make([]cty.Value, len(lists))
	for i, inner := range lists {
		if len(inner) == 0 {
			tuples[i] = cty.EmptyTupleVal
			continue
		}
		elems := make([]cty.Value, len(inner))
		for j, s := range inner {
			elems[j] = cty.StringVal(s)
		}
		tuples[i] = cty.TupleVal(elems)
	}
	return cty.TupleVal(tuples)
}
