package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

// typeExprToCtyType parses the type of a manifest input or output, e.g.
// `list(list(string))` for paired volumes or
// `list(object({name = string, vector = list(number)}))` for covariates.
// A missing type means any.
func typeExprToCtyType(ctx context.Context, runnerType, kind, name string, expr hcl.Expression) (cty.Type, error) {
	if expr == nil {
		ctxlog.FromContext(ctx).Debug("No type given, defaulting to any.", "runner", runnerType, kind, name)
		return cty.DynamicPseudoType, nil
	}

	ty, diags := typeexpr.TypeConstraint(expr)
	if diags.HasErrors() {
		return cty.DynamicPseudoType, fmt.Errorf("in runner '%s', %s '%s': invalid type: %w", runnerType, kind, name, diags)
	}
	return ty, nil
}
