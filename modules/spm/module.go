// Package spm wraps SPM statistics as runners. Each handler renders a
// MATLAB batch script into the node directory, runs it with matlab_cmd and
// reports the files SPM wrote.
package spm

import (
	"reflect"

	"github.com/vk/levelflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the handlers with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("OnRunOneSampleTTestDesign", &registry.RegisteredRunner{
		NewInput:   func() any { return new(OneSampleTTestDesignInput) },
		InputType:  reflect.TypeOf(OneSampleTTestDesignInput{}),
		OutputType: reflect.TypeOf(DesignOutput{}),
		Fn:         OnRunOneSampleTTestDesign,
	})
	r.RegisterRunner("OnRunMultipleRegressionDesign", &registry.RegisteredRunner{
		NewInput:   func() any { return new(MultipleRegressionDesignInput) },
		InputType:  reflect.TypeOf(MultipleRegressionDesignInput{}),
		OutputType: reflect.TypeOf(DesignOutput{}),
		Fn:         OnRunMultipleRegressionDesign,
	})
	r.RegisterRunner("OnRunEstimateModel", &registry.RegisteredRunner{
		NewInput:   func() any { return new(EstimateModelInput) },
		InputType:  reflect.TypeOf(EstimateModelInput{}),
		OutputType: reflect.TypeOf(EstimateModelOutput{}),
		Fn:         OnRunEstimateModel,
	})
	r.RegisterRunner("OnRunEstimateContrast", &registry.RegisteredRunner{
		NewInput:   func() any { return new(EstimateContrastInput) },
		InputType:  reflect.TypeOf(EstimateContrastInput{}),
		OutputType: reflect.TypeOf(EstimateContrastOutput{}),
		Fn:         OnRunEstimateContrast,
	})
	r.RegisterRunner("OnRunThreshold", &registry.RegisteredRunner{
		NewInput:   func() any { return new(ThresholdInput) },
		InputType:  reflect.TypeOf(ThresholdInput{}),
		OutputType: reflect.TypeOf(ThresholdOutput{}),
		Fn:         OnRunThreshold,
	})
}
