package testutil

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/levelflow/internal/nodectx"
	"github.com/vk/levelflow/internal/registry"
)

// SleeperManifest declares the "sleeper" runner served by MockSleeperModule.
const SleeperManifest = `
runner "sleeper" {
  lifecycle {
    on_run = "OnRunSleeper"
  }
  input "id" {
    type = string
  }
  input "fail" {
    type    = bool
    default = false
  }
  output "id" {
    type = string
  }
}
`

// MockSleeperModule is a shared, self-contained module for concurrency tests.
// It records the execution time of each step that uses it.
type MockSleeperModule struct {
	ExecutionTimes map[string]*ExecutionRecord
	// Calls counts handler invocations, cached nodes excluded.
	Calls atomic.Int32
	// MaxActive is the highest number of handlers seen running at once.
	MaxActive atomic.Int32

	mu            sync.Mutex
	active        atomic.Int32
	sleepDuration time.Duration
}

// NewMockSleeperModule creates a new sleeper module for testing.
func NewMockSleeperModule(sleep time.Duration) *MockSleeperModule {
	return &MockSleeperModule{
		ExecutionTimes: make(map[string]*ExecutionRecord),
		sleepDuration:  sleep,
	}
}

type sleeperInput struct {
	ID   string `lf:"id"`
	Fail bool   `lf:"fail"`
}

type sleeperOutput struct {
	ID string `cty:"id"`
}

// Register registers the "sleeper" runner's Go handler.
func (m *MockSleeperModule) Register(r *registry.Registry) {
	r.RegisterRunner("OnRunSleeper", &registry.RegisteredRunner{
		NewInput:   func() any { return new(sleeperInput) },
		InputType:  reflect.TypeOf(sleeperInput{}),
		OutputType: reflect.TypeOf(sleeperOutput{}),
		Fn: func(ctx context.Context, input *sleeperInput) (*sleeperOutput, error) {
			m.Calls.Add(1)
			n := m.active.Add(1)
			defer m.active.Add(-1)
			for {
				peak := m.MaxActive.Load()
				if n <= peak || m.MaxActive.CompareAndSwap(peak, n) {
					break
				}
			}

			startTime := time.Now()
			time.Sleep(m.sleepDuration)
			endTime := time.Now()

			key := nodectx.FromContext(ctx).NodeID
			m.mu.Lock()
			m.ExecutionTimes[key] = &ExecutionRecord{Start: startTime, End: endTime}
			m.mu.Unlock()

			if input.Fail {
				return nil, fmt.Errorf("sleeper %s asked to fail", input.ID)
			}
			return &sleeperOutput{ID: input.ID}, nil
		},
	})
}

// Record returns the execution record of a node, or nil.
func (m *MockSleeperModule) Record(nodeID string) *ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExecutionTimes[nodeID]
}
