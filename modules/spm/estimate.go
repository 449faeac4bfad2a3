package spm

import (
	"context"
	"fmt"
	"sort"
	"text/template"

	"github.com/vk/levelflow/internal/nodectx"
)

var estimationMethods = []string{"Bayesian", "Bayesian2", "Classical"}

const estimateTemplate = `matlabbatch{1}.spm.stats.fmri_est.spmmat = { {{- q .SPMMat -}} };
matlabbatch{1}.spm.stats.fmri_est.method.{{.Method}} = 1;
matlabbatch{1}.spm.stats.fmri_est.write_residuals = {{bool .WriteResiduals}};
spm_jobman('run', matlabbatch);
`

var estimateBatch = template.Must(template.New("fmri_est").Funcs(funcs).Parse(estimateTemplate))

// EstimateModelInput defines the arguments for spm_estimate_model.
type EstimateModelInput struct {
	SPMMatFile       string             `lf:"spm_mat_file"`
	EstimationMethod map[string]float64 `lf:"estimation_method"`
	WriteResiduals   bool               `lf:"write_residuals"`
	MatlabCmd        string             `lf:"matlab_cmd"`
	Paths            []string           `lf:"paths"`
}

// EstimateModelOutput lists the files of an estimated model.
type EstimateModelOutput struct {
	SPMMatFile    string   `cty:"spm_mat_file"`
	BetaImages    []string `cty:"beta_images"`
	ResidualImage string   `cty:"residual_image"`
	MaskImage     string   `cty:"mask_image"`
	RPVImage      string   `cty:"RPVimage"`
}

// estimationMethod returns the single method named in the map.
func estimationMethod(m map[string]float64) (string, error) {
	if len(m) != 1 {
		return "", fmt.Errorf("estimation_method must name exactly one of %v, got %d entries", estimationMethods, len(m))
	}
	for name := range m {
		i := sort.SearchStrings(estimationMethods, name)
		if i == len(estimationMethods) || estimationMethods[i] != name {
			return "", fmt.Errorf("unknown estimation method %q, expected one of %v", name, estimationMethods)
		}
		return name, nil
	}
	return "", nil
}

// OnRunEstimateModel is the handler for the 'spm_estimate_model' runner.
func OnRunEstimateModel(ctx context.Context, input *EstimateModelInput) (*EstimateModelOutput, error) {
	info := nodectx.FromContext(ctx)
	method, err := estimationMethod(input.EstimationMethod)
	if err != nil {
		return nil, err
	}

	staged, err := stage(ctx, input.SPMMatFile)
	if err != nil {
		return nil, err
	}
	body, err := render(estimateBatch, struct {
		SPMMat         string
		Method         string
		WriteResiduals bool
	}{staged[0], method, input.WriteResiduals})
	if err != nil {
		return nil, err
	}
	if err := runMatlab(ctx, input.MatlabCmd, input.Paths, "estimatemodel", body); err != nil {
		return nil, err
	}

	betas, err := images(info.WorkDir, "beta_")
	if err != nil {
		return nil, err
	}
	if len(betas) == 0 {
		return nil, fmt.Errorf("estimation wrote no beta images in %s", info.WorkDir)
	}
	return &EstimateModelOutput{
		SPMMatFile:    staged[0],
		BetaImages:    betas,
		ResidualImage: image(info.WorkDir, "ResMS"),
		MaskImage:     image(info.WorkDir, "mask"),
		RPVImage:      image(info.WorkDir, "RPV"),
	}, nil
}
