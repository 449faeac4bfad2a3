package spm

import (
	"context"
	"fmt"
	"text/template"

	"github.com/vk/levelflow/internal/nodectx"
	"github.com/zclconf/go-cty/cty"
)

// Contrast is a T contrast over named conditions or an F contrast over
// previously declared T contrasts.
type Contrast struct {
	Name string
	Stat string
	// Conditions and Weights describe a T contrast.
	Conditions []string
	Weights    []float64
	// Refs names the T contrasts an F contrast combines, by position.
	Refs []int
}

// parseContrasts reads the contrasts list. F contrasts must reference T
// contrasts declared before them.
func parseContrasts(v cty.Value) ([]Contrast, error) {
	if v.IsNull() || !v.IsWhollyKnown() || !(v.Type().IsListType() || v.Type().IsTupleType()) {
		return nil, fmt.Errorf("contrasts must be a list of objects")
	}
	var out []Contrast
	index := map[string]int{}
	for it := v.ElementIterator(); it.Next(); {
		_, c := it.Element()
		if !(c.Type().IsObjectType() || c.Type().IsMapType()) {
			return nil, fmt.Errorf("contrast %d: expected an object", len(out)+1)
		}
		attrs := c.AsValueMap()
		con := Contrast{}
		if name, ok := attrs["name"]; ok && name.Type() == cty.String {
			con.Name = name.AsString()
		} else {
			return nil, fmt.Errorf("contrast %d: name must be a string", len(out)+1)
		}
		if stat, ok := attrs["stat"]; ok && stat.Type() == cty.String {
			con.Stat = stat.AsString()
		} else {
			return nil, fmt.Errorf("contrast %q: stat must be \"T\" or \"F\"", con.Name)
		}

		switch con.Stat {
		case "T":
			conds, ok := attrs["conditions"]
			if !ok {
				return nil, fmt.Errorf("contrast %q: conditions are required", con.Name)
			}
			for it := conds.ElementIterator(); it.Next(); {
				_, e := it.Element()
				if e.Type() != cty.String {
					return nil, fmt.Errorf("contrast %q: conditions must be strings", con.Name)
				}
				con.Conditions = append(con.Conditions, e.AsString())
			}
			weights, ok := attrs["weights"]
			if !ok {
				return nil, fmt.Errorf("contrast %q: weights are required", con.Name)
			}
			nums, err := numberList(weights)
			if err != nil {
				return nil, fmt.Errorf("contrast %q: weights: %w", con.Name, err)
			}
			con.Weights = nums
			if len(con.Weights) != len(con.Conditions) {
				return nil, fmt.Errorf("contrast %q: %d weights for %d conditions", con.Name, len(con.Weights), len(con.Conditions))
			}
		case "F":
			refs, ok := attrs["contrasts"]
			if !ok {
				return nil, fmt.Errorf("contrast %q: F contrasts list the T contrasts they combine", con.Name)
			}
			for it := refs.ElementIterator(); it.Next(); {
				_, e := it.Element()
				if e.Type() != cty.String {
					return nil, fmt.Errorf("contrast %q: contrasts must be names", con.Name)
				}
				i, ok := index[e.AsString()]
				if !ok || out[i].Stat != "T" {
					return nil, fmt.Errorf("contrast %q: %q is not a T contrast declared before it", con.Name, e.AsString())
				}
				con.Refs = append(con.Refs, i+1)
			}
		default:
			return nil, fmt.Errorf("contrast %q: stat must be \"T\" or \"F\", got %q", con.Name, con.Stat)
		}
		index[con.Name] = len(out)
		out = append(out, con)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one contrast is required")
	}
	return out, nil
}

// T weights are built one row per contrast. With group_contrast the weights
// apply to the design columns in order; otherwise each weight goes to the
// columns whose name matches "<condition>*bf(1)".
const contrastTemplate = `load({{q .SPMMat}});
names = SPM.xX.name;
{{- range $i, $c := .Contrasts}}
{{- if eq $c.Stat "T"}}
w{{inc $i}} = zeros(1, numel(names));
{{- if $.Group}}
w{{inc $i}}(1:{{len $c.Weights}}) = {{nums $c.Weights}};
{{- else}}
{{- range $j, $cond := $c.Conditions}}
w{{inc $i}}(~cellfun('isempty', strfind(names, [{{q $cond}} '*bf(1)']))) = {{index $c.Weights $j}};
{{- end}}
{{- end}}
{{- end}}
{{- end}}
matlabbatch{1}.spm.stats.con.spmmat = { {{- q .SPMMat -}} };
{{- range $i, $c := .Contrasts}}
{{- if eq $c.Stat "T"}}
matlabbatch{1}.spm.stats.con.consess{ {{- inc $i -}} }.tcon.name = {{q $c.Name}};
matlabbatch{1}.spm.stats.con.consess{ {{- inc $i -}} }.tcon.weights = w{{inc $i}};
matlabbatch{1}.spm.stats.con.consess{ {{- inc $i -}} }.tcon.sessrep = 'none';
{{- else}}
matlabbatch{1}.spm.stats.con.consess{ {{- inc $i -}} }.fcon.name = {{q $c.Name}};
matlabbatch{1}.spm.stats.con.consess{ {{- inc $i -}} }.fcon.weights = [{{range $c.Refs}}w{{.}}; {{end}}];
matlabbatch{1}.spm.stats.con.consess{ {{- inc $i -}} }.fcon.sessrep = 'none';
{{- end}}
{{- end}}
matlabbatch{1}.spm.stats.con.delete = 0;
spm_jobman('run', matlabbatch);
`

var contrastBatch = template.Must(template.New("con").Funcs(funcs).Parse(contrastTemplate))

// EstimateContrastInput defines the arguments for spm_estimate_contrast.
type EstimateContrastInput struct {
	SPMMatFile    string    `lf:"spm_mat_file"`
	BetaImages    []string  `lf:"beta_images"`
	ResidualImage string    `lf:"residual_image"`
	Contrasts     cty.Value `lf:"contrasts"`
	GroupContrast bool      `lf:"group_contrast"`
	MatlabCmd     string    `lf:"matlab_cmd"`
	Paths         []string  `lf:"paths"`
}

// EstimateContrastOutput lists the contrast and statistic images.
type EstimateContrastOutput struct {
	SPMMatFile string   `cty:"spm_mat_file"`
	ConImages  []string `cty:"con_images"`
	SPMTImages []string `cty:"spmT_images"`
	SPMFImages []string `cty:"spmF_images"`
	ESSImages  []string `cty:"ess_images"`
}

// OnRunEstimateContrast is the handler for the 'spm_estimate_contrast' runner.
func OnRunEstimateContrast(ctx context.Context, input *EstimateContrastInput) (*EstimateContrastOutput, error) {
	info := nodectx.FromContext(ctx)
	contrasts, err := parseContrasts(input.Contrasts)
	if err != nil {
		return nil, err
	}

	files := append([]string{input.SPMMatFile, input.ResidualImage}, input.BetaImages...)
	staged, err := stage(ctx, files...)
	if err != nil {
		return nil, err
	}
	spmMat := staged[0]

	body, err := render(contrastBatch, struct {
		SPMMat    string
		Group     bool
		Contrasts []Contrast
	}{spmMat, input.GroupContrast, contrasts})
	if err != nil {
		return nil, err
	}
	if err := runMatlab(ctx, input.MatlabCmd, input.Paths, "estimatecontrast", body); err != nil {
		return nil, err
	}

	out := &EstimateContrastOutput{SPMMatFile: spmMat}
	for prefix, target := range map[string]*[]string{
		"con_":  &out.ConImages,
		"spmT_": &out.SPMTImages,
		"spmF_": &out.SPMFImages,
		"ess_":  &out.ESSImages,
	} {
		if *target, err = images(info.WorkDir, prefix); err != nil {
			return nil, err
		}
	}
	return out, nil
}
