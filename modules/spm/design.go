package spm

import (
	"context"
	"fmt"
	"text/template"

	"github.com/vk/levelflow/internal/nodectx"
	"github.com/zclconf/go-cty/cty"
)

// Covariate is one regressor of a factorial design.
type Covariate struct {
	Name   string
	Vector []float64
	// Centering follows SPM's iCC codes; 1 is overall mean.
	Centering int
}

// parseCovariates reads a list of { name, vector, centering } objects.
func parseCovariates(v cty.Value) ([]Covariate, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() || !(v.Type().IsListType() || v.Type().IsTupleType()) {
		return nil, fmt.Errorf("covariates must be a list of objects")
	}
	var out []Covariate
	for it := v.ElementIterator(); it.Next(); {
		idx, c := it.Element()
		i, _ := idx.AsBigFloat().Int64()
		ty := c.Type()
		if !(ty.IsObjectType() || ty.IsMapType()) {
			return nil, fmt.Errorf("covariate %d: expected an object", i)
		}
		attrs := c.AsValueMap()
		cov := Covariate{Centering: 1}

		name, ok := attrs["name"]
		if !ok || name.Type() != cty.String {
			return nil, fmt.Errorf("covariate %d: name must be a string", i)
		}
		cov.Name = name.AsString()

		vector, ok := attrs["vector"]
		if !ok {
			return nil, fmt.Errorf("covariate %q: vector is required", cov.Name)
		}
		nums, err := numberList(vector)
		if err != nil {
			return nil, fmt.Errorf("covariate %q: vector: %w", cov.Name, err)
		}
		cov.Vector = nums

		if centering, ok := attrs["centering"]; ok && !centering.IsNull() {
			if centering.Type() != cty.Number {
				return nil, fmt.Errorf("covariate %q: centering must be a number", cov.Name)
			}
			n, _ := centering.AsBigFloat().Int64()
			cov.Centering = int(n)
		}
		out = append(out, cov)
	}
	return out, nil
}

func numberList(v cty.Value) ([]float64, error) {
	if !(v.Type().IsListType() || v.Type().IsTupleType()) {
		return nil, fmt.Errorf("expected a list of numbers")
	}
	out := make([]float64, 0, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		_, e := it.Element()
		if e.IsNull() || e.Type() != cty.Number {
			return nil, fmt.Errorf("expected a list of numbers")
		}
		f, _ := e.AsBigFloat().Float64()
		out = append(out, f)
	}
	return out, nil
}

// designData feeds the factorial_design template.
type designData struct {
	Dir              string
	Kind             string
	Scans            []string
	Covariates       []Covariate
	IncludeIntercept bool
	ExplicitMask     string
	ImplicitMask     bool
	GlobalOmit       bool
}

const designTemplate = `matlabbatch{1}.spm.stats.factorial_design.dir = { {{- q .Dir -}} };
matlabbatch{1}.spm.stats.factorial_design.des.{{.Kind}}.scans = {
{{- range .Scans}}
{{q (printf "%s,1" .)}}
{{- end}}
};
{{- if eq .Kind "mreg"}}
{{- range $i, $c := .Covariates}}
matlabbatch{1}.spm.stats.factorial_design.des.mreg.mcov({{inc $i}}).c = {{nums $c.Vector}}';
matlabbatch{1}.spm.stats.factorial_design.des.mreg.mcov({{inc $i}}).cname = {{q $c.Name}};
matlabbatch{1}.spm.stats.factorial_design.des.mreg.mcov({{inc $i}}).iCC = {{$c.Centering}};
{{- end}}
matlabbatch{1}.spm.stats.factorial_design.des.mreg.incint = {{bool .IncludeIntercept}};
matlabbatch{1}.spm.stats.factorial_design.cov = struct('c', {}, 'cname', {}, 'iCFI', {}, 'iCC', {});
{{- else}}
{{- if .Covariates}}
{{- range $i, $c := .Covariates}}
matlabbatch{1}.spm.stats.factorial_design.cov({{inc $i}}).c = {{nums $c.Vector}}';
matlabbatch{1}.spm.stats.factorial_design.cov({{inc $i}}).cname = {{q $c.Name}};
matlabbatch{1}.spm.stats.factorial_design.cov({{inc $i}}).iCFI = 1;
matlabbatch{1}.spm.stats.factorial_design.cov({{inc $i}}).iCC = {{$c.Centering}};
{{- end}}
{{- else}}
matlabbatch{1}.spm.stats.factorial_design.cov = struct('c', {}, 'cname', {}, 'iCFI', {}, 'iCC', {});
{{- end}}
{{- end}}
matlabbatch{1}.spm.stats.factorial_design.masking.tm.tm_none = 1;
matlabbatch{1}.spm.stats.factorial_design.masking.im = {{bool .ImplicitMask}};
matlabbatch{1}.spm.stats.factorial_design.masking.em = { {{- q .ExplicitMask -}} };
matlabbatch{1}.spm.stats.factorial_design.globalc.g_omit = {{bool .GlobalOmit}};
matlabbatch{1}.spm.stats.factorial_design.globalm.gmsca.gmsca_no = 1;
matlabbatch{1}.spm.stats.factorial_design.globalm.glonorm = 1;
spm_jobman('run', matlabbatch);
`

var designBatch = template.Must(template.New("factorial_design").Funcs(funcs).Parse(designTemplate))

// DesignOutput is produced by both design runners.
type DesignOutput struct {
	SPMMatFile string `cty:"spm_mat_file"`
}

// OneSampleTTestDesignInput defines the arguments for spm_one_sample_ttest_design.
type OneSampleTTestDesignInput struct {
	InFiles              []string  `lf:"in_files"`
	Covariates           cty.Value `lf:"covariates"`
	ExplicitMaskFile     string    `lf:"explicit_mask_file"`
	UseImplicitThreshold bool      `lf:"use_implicit_threshold"`
	GlobalCalcOmit       bool      `lf:"global_calc_omit"`
	MatlabCmd            string    `lf:"matlab_cmd"`
	Paths                []string  `lf:"paths"`
}

// OnRunOneSampleTTestDesign is the handler for the 'spm_one_sample_ttest_design' runner.
func OnRunOneSampleTTestDesign(ctx context.Context, input *OneSampleTTestDesignInput) (*DesignOutput, error) {
	if len(input.InFiles) < 2 {
		return nil, fmt.Errorf("in_files needs at least two images, got %d", len(input.InFiles))
	}
	covariates, err := parseCovariates(input.Covariates)
	if err != nil {
		return nil, err
	}
	return runDesign(ctx, "onesamplettestdesign", input.MatlabCmd, input.Paths, designData{
		Kind:         "t1",
		Scans:        input.InFiles,
		Covariates:   covariates,
		ExplicitMask: input.ExplicitMaskFile,
		ImplicitMask: input.UseImplicitThreshold,
		GlobalOmit:   input.GlobalCalcOmit,
	})
}

// MultipleRegressionDesignInput defines the arguments for spm_multiple_regression_design.
type MultipleRegressionDesignInput struct {
	InFiles              []string  `lf:"in_files"`
	Covariates           cty.Value `lf:"covariates"`
	IncludeIntercept     bool      `lf:"include_intercept"`
	ExplicitMaskFile     string    `lf:"explicit_mask_file"`
	UseImplicitThreshold bool      `lf:"use_implicit_threshold"`
	GlobalCalcOmit       bool      `lf:"global_calc_omit"`
	MatlabCmd            string    `lf:"matlab_cmd"`
	Paths                []string  `lf:"paths"`
}

// OnRunMultipleRegressionDesign is the handler for the 'spm_multiple_regression_design' runner.
func OnRunMultipleRegressionDesign(ctx context.Context, input *MultipleRegressionDesignInput) (*DesignOutput, error) {
	covariates, err := parseCovariates(input.Covariates)
	if err != nil {
		return nil, err
	}
	for _, c := range covariates {
		if len(c.Vector) != len(input.InFiles) {
			return nil, fmt.Errorf("covariate %q has %d values for %d images", c.Name, len(c.Vector), len(input.InFiles))
		}
	}
	return runDesign(ctx, "multipleregressiondesign", input.MatlabCmd, input.Paths, designData{
		Kind:             "mreg",
		Scans:            input.InFiles,
		Covariates:       covariates,
		IncludeIntercept: input.IncludeIntercept,
		ExplicitMask:     input.ExplicitMaskFile,
		ImplicitMask:     input.UseImplicitThreshold,
		GlobalOmit:       input.GlobalCalcOmit,
	})
}

func runDesign(ctx context.Context, name, matlabCmd string, paths []string, data designData) (*DesignOutput, error) {
	info := nodectx.FromContext(ctx)
	data.Dir = info.WorkDir
	body, err := render(designBatch, data)
	if err != nil {
		return nil, err
	}
	if err := runMatlab(ctx, matlabCmd, paths, name, body); err != nil {
		return nil, err
	}
	out := &DesignOutput{SPMMatFile: info.Path("SPM.mat")}
	if err := requireFile(out.SPMMatFile); err != nil {
		return nil, err
	}
	return out, nil
}
