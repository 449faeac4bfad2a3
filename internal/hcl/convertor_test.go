package hcl

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/levelflow/internal/config"
	"github.com/zclconf/go-cty/cty"
)

type sampleInput struct {
	Name  string   `lf:"name"`
	Count int      `lf:"count"`
	Tags  []string `lf:"tags"`
}

type echoInput struct {
	Fields cty.Value `lf:",remain"`
}

func sampleDefs() map[string]*config.InputDefinition {
	three := cty.NumberIntVal(3)
	return map[string]*config.InputDefinition{
		"name":  {Name: "name", Type: cty.String},
		"count": {Name: "count", Type: cty.Number, Default: &three, Optional: true},
		"tags":  {Name: "tags", Type: cty.List(cty.String), Optional: true},
	}
}

func static(v cty.Value) hcl.Expression {
	return hcl.StaticExpr(v, hcl.Range{})
}

func TestConverter_DecodeBody(t *testing.T) {
	// --- Arrange ---
	c := NewConverter()
	args := map[string]hcl.Expression{
		"name": static(cty.StringVal("l2")),
		"tags": static(cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")})),
	}

	// --- Act ---
	var in sampleInput
	err := c.DecodeBody(context.Background(), &in, args, sampleDefs(), NewEvalContext(nil))

	// --- Assert ---
	require.NoError(t, err)
	want := sampleInput{Name: "l2", Count: 3, Tags: []string{"a", "b"}}
	if diff := cmp.Diff(want, in); diff != "" {
		t.Errorf("decoded input mismatch (-want +got):\n%s", diff)
	}
}

func TestConverter_DecodeBody_NullUsesDefault(t *testing.T) {
	c := NewConverter()
	args := map[string]hcl.Expression{
		"name":  static(cty.StringVal("x")),
		"count": static(cty.NullVal(cty.Number)),
	}

	var in sampleInput
	require.NoError(t, c.DecodeBody(context.Background(), &in, args, sampleDefs(), nil))
	assert.Equal(t, 3, in.Count)
}

func TestConverter_DecodeBody_Errors(t *testing.T) {
	c := NewConverter()
	ctx := context.Background()

	t.Run("missing required", func(t *testing.T) {
		var in sampleInput
		err := c.DecodeBody(ctx, &in, nil, sampleDefs(), nil)
		assert.ErrorContains(t, err, `missing required argument "name"`)
	})

	t.Run("unsupported argument", func(t *testing.T) {
		var in sampleInput
		args := map[string]hcl.Expression{
			"name":  static(cty.StringVal("x")),
			"bogus": static(cty.True),
		}
		err := c.DecodeBody(ctx, &in, args, sampleDefs(), nil)
		assert.ErrorContains(t, err, `unsupported argument "bogus"`)
	})

	t.Run("declared type mismatch", func(t *testing.T) {
		var in sampleInput
		args := map[string]hcl.Expression{
			"name": static(cty.ListVal([]cty.Value{cty.StringVal("x")})),
		}
		err := c.DecodeBody(ctx, &in, args, sampleDefs(), nil)
		assert.ErrorContains(t, err, "does not match declared type string")
	})

	t.Run("non pointer target", func(t *testing.T) {
		err := c.DecodeBody(ctx, sampleInput{}, nil, sampleDefs(), nil)
		assert.Error(t, err)
	})
}

func TestConverter_DecodeBody_Remain(t *testing.T) {
	c := NewConverter()
	args := map[string]hcl.Expression{
		"con":  static(cty.NumberIntVal(2)),
		"hemi": static(cty.StringVal("lh")),
	}

	var in echoInput
	require.NoError(t, c.DecodeBody(context.Background(), &in, args, nil, nil))

	require.True(t, in.Fields.Type().IsObjectType())
	assert.True(t, in.Fields.GetAttr("con").Equals(cty.NumberIntVal(2)).True())
	assert.Equal(t, "lh", in.Fields.GetAttr("hemi").AsString())
}

func TestConverter_ToCtyValue(t *testing.T) {
	c := NewConverter()

	type output struct {
		Files []string `cty:"files"`
	}
	val, err := c.ToCtyValue(&output{Files: []string{"a.img"}})
	require.NoError(t, err)
	assert.Equal(t, "a.img", val.GetAttr("files").Index(cty.NumberIntVal(0)).AsString())

	passthrough := cty.ObjectVal(map[string]cty.Value{"x": cty.True})
	val, err = c.ToCtyValue(passthrough)
	require.NoError(t, err)
	assert.True(t, val.RawEquals(passthrough))
}

func TestConverter_ToCtyValue_NoOutputFields(t *testing.T) {
	c := NewConverter()

	val, err := c.ToCtyValue(struct{}{})
	require.NoError(t, err)
	assert.True(t, val.RawEquals(cty.EmptyObjectVal))

	type untagged struct {
		Scratch string
	}
	val, err = c.ToCtyValue(untagged{Scratch: "ignored"})
	require.NoError(t, err)
	assert.True(t, val.RawEquals(cty.EmptyObjectVal))
}

func TestConverter_FromCtyValue(t *testing.T) {
	c := NewConverter()

	var files []string
	src := cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")})
	require.NoError(t, c.FromCtyValue(src, &files))
	assert.Equal(t, []string{"a", "b"}, files)

	var raw cty.Value
	require.NoError(t, c.FromCtyValue(src, &raw))
	assert.True(t, raw.RawEquals(src))
}
