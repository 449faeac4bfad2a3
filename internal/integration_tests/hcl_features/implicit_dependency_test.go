package integration_tests

import (
	"context"
	"io/fs"
	"reflect"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vk/levelflow/internal/nodectx"
	"github.com/vk/levelflow/internal/registry"
	"github.com/vk/levelflow/internal/testutil"
	"github.com/vk/levelflow/modules"
	"github.com/vk/levelflow/modules/merge"
)

const grabManifest = `
runner "grab" {
  lifecycle {
    on_run = "OnRunGrab"
  }
  output "con" {
    type = list(string)
  }
  output "reg" {
    type = list(string)
  }
}

runner "spy" {
  lifecycle {
    on_run = "OnRunSpy"
  }
  input "pairs" {
    type = list(list(string))
  }
  input "label" {
    type    = string
    default = "none"
  }
}
`

type grabOutput struct {
	Con []string `cty:"con"`
	Reg []string `cty:"reg"`
}

type spyInput struct {
	Pairs [][]string `lf:"pairs"`
	Label string     `lf:"label"`
}

// spyModule serves "grab", which returns files of three subjects out of
// order, and "spy", which records what it receives.
type spyModule struct {
	mu       sync.Mutex
	captured map[string]spyInput
}

func (m *spyModule) Register(r *registry.Registry) {
	r.RegisterRunner("OnRunGrab", &registry.RegisteredRunner{
		NewInput:   func() any { return new(struct{}) },
		InputType:  reflect.TypeOf(struct{}{}),
		OutputType: reflect.TypeOf(grabOutput{}),
		Fn: func(ctx context.Context, _ *struct{}) (*grabOutput, error) {
			return &grabOutput{
				Con: []string{"/l1/_subject_id_s2/con.img", "/l1/_subject_id_s3/con.img", "/l1/_subject_id_s1/con.img"},
				Reg: []string{"/l1/_subject_id_s1/reg.dat", "/l1/_subject_id_s2/reg.dat", "/l1/_subject_id_s3/reg.dat"},
			}, nil
		},
	})
	r.RegisterRunner("OnRunSpy", &registry.RegisteredRunner{
		NewInput:   func() any { return new(spyInput) },
		InputType:  reflect.TypeOf(spyInput{}),
		OutputType: reflect.TypeOf(struct{}{}),
		Fn: func(ctx context.Context, input *spyInput) (*struct{}, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.captured[nodectx.FromContext(ctx).NodeID] = *input
			return &struct{}{}, nil
		},
	})
}

func mergeManifest(t *testing.T) string {
	t.Helper()
	src, err := fs.ReadFile(modules.Manifests(), "merge/manifest.hcl")
	require.NoError(t, err)
	return string(src)
}

// Test for: outputs flowing through helper functions on edges
func TestHclFeatures_ImplicitDependencyWithTransforms(t *testing.T) {
	// --- Arrange ---
	pipeline := `
locals {
  subjects = ["s1", "s2"]
}

workflow "wf" {
  base_dir = "%TMP%/out"

  step "grab" "source" {}

  step "merge" "pair" {
    arguments {
      in1  = ordersubjects(step.grab.source.output.con, local.subjects)
      in2  = ordersubjects(step.grab.source.output.reg, local.subjects)
      axis = "hstack"
    }
  }

  step "spy" "sink" {
    arguments {
      pairs = list2tuple(step.merge.pair.output.out)
    }
  }
}
`
	spy := &spyModule{captured: map[string]spyInput{}}

	// --- Act ---
	result := testutil.Run(t, testutil.Case{
		Pipeline: map[string]string{"main.hcl": pipeline},
		Manifests: map[string]string{
			"grab/manifest.hcl":  grabManifest,
			"merge/manifest.hcl": mergeManifest(t),
		},
		Modules: []registry.Module{spy, &merge.Module{}},
	})

	// --- Assert ---
	require.NoError(t, result.Err)
	testutil.AssertNodeDone(t, result, "wf", "step.merge.pair")

	got, ok := spy.captured["step.spy.sink"]
	require.True(t, ok, "spy did not run")
	want := spyInput{
		Pairs: [][]string{
			{"/l1/_subject_id_s1/con.img", "/l1/_subject_id_s1/reg.dat"},
			{"/l1/_subject_id_s2/con.img", "/l1/_subject_id_s2/reg.dat"},
		},
		Label: "none",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("spy input mismatch (-want +got):\n%s", diff)
	}

	require.Contains(t, result.Graphs["wf"].Nodes["step.spy.sink"].Deps, "step.merge.pair")
}
