package registry

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/levelflow/internal/config"
	"github.com/zclconf/go-cty/cty"
)

type catInput struct {
	Files []string `lf:"files"`
	Sep   string   `lf:"sep"`
}

type catOutput struct {
	Joined string `cty:"joined"`
}

func catRunner() *RegisteredRunner {
	return &RegisteredRunner{
		NewInput:   func() any { return new(catInput) },
		InputType:  reflect.TypeOf(catInput{}),
		OutputType: reflect.TypeOf(catOutput{}),
		Fn: func(context.Context, *catInput) (*catOutput, error) {
			return &catOutput{}, nil
		},
	}
}

func catDefinition() *config.RunnerDefinition {
	return &config.RunnerDefinition{
		Type:      "cat",
		Lifecycle: &config.Lifecycle{OnRun: "OnRunCat"},
		Inputs: map[string]*config.InputDefinition{
			"files": {Name: "files", Type: cty.List(cty.String)},
			"sep":   {Name: "sep", Type: cty.String, Optional: true},
		},
		Outputs: map[string]*config.OutputDefinition{
			"joined": {Name: "joined", Type: cty.String},
		},
	}
}

func TestRegisterRunner_DuplicatePanics(t *testing.T) {
	r := New()
	r.RegisterRunner("OnRunCat", catRunner())

	assert.Panics(t, func() { r.RegisterRunner("OnRunCat", catRunner()) })
}

func TestHandler(t *testing.T) {
	r := New()
	r.RegisterRunner("OnRunCat", catRunner())
	r.PopulateDefinitionsFromModel(&config.Model{Runners: map[string]*config.RunnerDefinition{
		"cat":      catDefinition(),
		"orphan":   {Type: "orphan", Lifecycle: &config.Lifecycle{OnRun: "OnRunOrphan"}},
		"headless": {Type: "headless"},
	}})

	def, handler, err := r.Handler("cat")
	require.NoError(t, err)
	assert.Equal(t, "cat", def.Type)
	assert.NotNil(t, handler.Fn)

	_, _, err = r.Handler("missing")
	assert.ErrorContains(t, err, `unknown runner type "missing"`)

	_, _, err = r.Handler("orphan")
	assert.ErrorContains(t, err, `handler "OnRunOrphan" for runner "orphan" is not registered`)

	_, _, err = r.Handler("headless")
	assert.ErrorContains(t, err, `runner "headless" has no on_run handler`)
}

func TestValidateRegistry(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(def *config.RunnerDefinition)
		wantErr string
	}{
		{
			name:   "in sync",
			mutate: func(*config.RunnerDefinition) {},
		},
		{
			name: "input missing from manifest",
			mutate: func(def *config.RunnerDefinition) {
				delete(def.Inputs, "sep")
			},
			wantErr: "Go struct has field for input 'sep' which is not declared in manifest",
		},
		{
			name: "input missing from struct",
			mutate: func(def *config.RunnerDefinition) {
				def.Inputs["extra"] = &config.InputDefinition{Name: "extra", Type: cty.String}
			},
			wantErr: "manifest declares input 'extra' which is not found in Go struct",
		},
		{
			name: "type mismatch",
			mutate: func(def *config.RunnerDefinition) {
				def.Inputs["files"].Type = cty.String
			},
			wantErr: "Manifest requires 'string' but Go struct field 'Files' provides 'list of string'",
		},
		{
			name: "any skips type check",
			mutate: func(def *config.RunnerDefinition) {
				def.Inputs["files"].Type = cty.DynamicPseudoType
			},
		},
		{
			name: "output missing from struct",
			mutate: func(def *config.RunnerDefinition) {
				def.Outputs["count"] = &config.OutputDefinition{Name: "count", Type: cty.Number}
			},
			wantErr: "manifest declares output 'count' which is not found in Go struct",
		},
		{
			name: "unregistered handler",
			mutate: func(def *config.RunnerDefinition) {
				def.Lifecycle.OnRun = "OnRunDog"
			},
			wantErr: "handler 'OnRunDog' is not registered",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			r := New()
			r.RegisterRunner("OnRunCat", catRunner())
			def := catDefinition()
			tc.mutate(def)
			r.PopulateDefinitionsFromModel(&config.Model{Runners: map[string]*config.RunnerDefinition{"cat": def}})

			// --- Act ---
			err := r.ValidateRegistry(context.Background())

			// --- Assert ---
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
