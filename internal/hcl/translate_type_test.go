package hcl

import (
	"context"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestTypeExprToCtyType(t *testing.T) {
	testCases := []struct {
		expr string
		want cty.Type
	}{
		{"string", cty.String},
		{"number", cty.Number},
		{"bool", cty.Bool},
		{"any", cty.DynamicPseudoType},
		{"list(list(string))", cty.List(cty.List(cty.String))},
		{"map(list(list(string)))", cty.Map(cty.List(cty.List(cty.String)))},
		{"set(number)", cty.Set(cty.Number)},
		{"list(any)", cty.List(cty.DynamicPseudoType)},
		{"tuple([string, number])", cty.Tuple([]cty.Type{cty.String, cty.Number})},
		{
			"list(object({name = string, vector = list(number)}))",
			cty.List(cty.Object(map[string]cty.Type{"name": cty.String, "vector": cty.List(cty.Number)})),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			expr, diags := hclsyntax.ParseExpression([]byte(tc.expr), "manifest.hcl", hcl.InitialPos)
			require.False(t, diags.HasErrors(), diags.Error())

			got, err := typeExprToCtyType(context.Background(), "spm_estimate_contrast", "input", "contrasts", expr)

			require.NoError(t, err)
			assert.True(t, tc.want.Equals(got), "want %s, got %s", tc.want.FriendlyName(), got.FriendlyName())
		})
	}
}

func TestTypeExprToCtyType_Errors(t *testing.T) {
	for _, src := range []string{"strng", "list(string, number)", "\"string\""} {
		t.Run(src, func(t *testing.T) {
			expr, diags := hclsyntax.ParseExpression([]byte(src), "manifest.hcl", hcl.InitialPos)
			require.False(t, diags.HasErrors(), diags.Error())

			_, err := typeExprToCtyType(context.Background(), "fs_mris_preproc", "input", "hemi", expr)

			require.Error(t, err)
			assert.Contains(t, err.Error(), "in runner 'fs_mris_preproc', input 'hemi': invalid type")
		})
	}
}

func TestTypeExprToCtyType_Missing(t *testing.T) {
	got, err := typeExprToCtyType(context.Background(), "identity", "output", "fields", nil)
	require.NoError(t, err)
	assert.Equal(t, cty.DynamicPseudoType, got)
}
