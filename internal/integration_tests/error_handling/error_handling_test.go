package integration_tests

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/levelflow/internal/dag"
	"github.com/vk/levelflow/internal/registry"
	"github.com/vk/levelflow/internal/testutil"
)

func sleeperCase(pipeline string) (testutil.Case, *testutil.MockSleeperModule) {
	m := testutil.NewMockSleeperModule(10 * time.Millisecond)
	return testutil.Case{
		Pipeline:  map[string]string{"main.hcl": pipeline},
		Manifests: map[string]string{"sleeper/manifest.hcl": testutil.SleeperManifest},
		Modules:   []registry.Module{m},
	}, m
}

// Test for: a required argument missing at run time
func TestErrorHandling_RequiredArgumentMissing(t *testing.T) {
	// --- Arrange ---
	c, m := sleeperCase(`
workflow "wf" {
  base_dir = "%TMP%/out"

  step "sleeper" "a" {
    arguments {
      fail = false
    }
  }
}
`)

	// --- Act ---
	result := testutil.Run(t, c)

	// --- Assert ---
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "execution failed for step.sleeper.a")
	assert.Contains(t, result.Err.Error(), `missing required argument "id"`)
	assert.Zero(t, m.Calls.Load())
}

// Test for: malformed pipeline files are rejected before any graph is built
func TestErrorHandling_InvalidHCLIsRejected(t *testing.T) {
	c, _ := sleeperCase(`
workflow "wf" {
  base_dir = "%TMP%/out"
  step "sleeper" "a" {
`)

	result := testutil.Run(t, c)

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "failed to parse HCL file")
	assert.Empty(t, result.Graphs)
}

// Test for: references to unknown steps and undeclared outputs
func TestErrorHandling_InvalidReferences(t *testing.T) {
	cases := map[string]struct {
		arg  string
		want string
	}{
		"unknown step":      {`step.sleeper.ghost.output.id`, "reference to unknown step 'sleeper.ghost'"},
		"undeclared output": {`step.sleeper.a.output.name`, `reference to undeclared output "name" on step "sleeper.a"`},
		"missing output":    {`step.sleeper.a.id`, "expected step.<runner>.<name>.output.<field>"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, m := sleeperCase(`
workflow "wf" {
  base_dir = "%TMP%/out"

  step "sleeper" "a" {
    arguments {
      id = "a"
    }
  }
  step "sleeper" "b" {
    arguments {
      id = ` + tc.arg + `
    }
  }
}
`)
			result := testutil.Run(t, c)

			require.Error(t, result.Err)
			assert.Contains(t, result.Err.Error(), tc.want)
			assert.Zero(t, m.Calls.Load())
		})
	}
}

// Test for: dependency cycles
func TestErrorHandling_CycleIsRejected(t *testing.T) {
	c, _ := sleeperCase(`
workflow "wf" {
  base_dir = "%TMP%/out"

  step "sleeper" "a" {
    arguments {
      id = step.sleeper.b.output.id
    }
  }
  step "sleeper" "b" {
    arguments {
      id = "b"
    }
    depends_on = ["sleeper.a"]
  }
}
`)

	result := testutil.Run(t, c)

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "error validating dependency graph")
}

// Test for: one failure stops the run and skips everything downstream
func TestErrorHandling_StepFailTriggersFastFail(t *testing.T) {
	// --- Arrange ---
	c, m := sleeperCase(`
workflow "wf" {
  base_dir = "%TMP%/out"
  n_procs  = 1

  step "sleeper" "bad" {
    arguments {
      id   = "bad"
      fail = true
    }
  }
  step "sleeper" "child" {
    arguments {
      id = step.sleeper.bad.output.id
    }
  }
  step "sleeper" "grandchild" {
    arguments {
      id = step.sleeper.child.output.id
    }
  }
}
`)

	// --- Act ---
	result := testutil.Run(t, c)

	// --- Assert ---
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "sleeper bad asked to fail")
	assert.Equal(t, int32(1), m.Calls.Load())

	graph := result.Graphs["wf"]
	for _, id := range []string{"step.sleeper.child", "step.sleeper.grandchild"} {
		node := graph.Nodes[id]
		assert.Equal(t, dag.Failed, node.State(), id)
		assert.ErrorContains(t, node.Error, "upstream failure", id)
	}
}

type mismatchInput struct {
	ID    string `lf:"id"`
	Extra string `lf:"extra"`
}

// Test for: Go handlers and manifests out of sync
func TestErrorHandling_ParityCheck(t *testing.T) {
	module := &testutil.SimpleModule{
		RunnerName: "OnRunSleeper",
		Runner: &registry.RegisteredRunner{
			NewInput:   func() any { return new(mismatchInput) },
			InputType:  reflect.TypeOf(mismatchInput{}),
			OutputType: reflect.TypeOf(struct{}{}),
			Fn: func(ctx context.Context, _ *mismatchInput) (*struct{}, error) {
				return &struct{}{}, nil
			},
		},
	}
	c, _ := sleeperCase(`
workflow "wf" {
  base_dir = "%TMP%/out"
}
`)
	c.Modules = []registry.Module{module}

	result := testutil.Run(t, c)

	require.Error(t, result.Err)
	msg := result.Err.Error()
	assert.Contains(t, msg, "registry validation failed")
	assert.Contains(t, msg, "Go struct has field for input 'extra' which is not declared in manifest")
	assert.Contains(t, msg, "manifest declares input 'fail' which is not found in Go struct")
	assert.Contains(t, msg, "manifest declares output 'id' which is not found in Go struct")
}
