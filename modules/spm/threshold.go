package spm

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/vk/levelflow/internal/nodectx"
	"github.com/zclconf/go-cty/cty"
)

const thresholdTemplate = `force_activation = {{bool .ForceActivation}};
load({{q .SPMMat}});
stat_filename = {{q .StatImage}};
height_threshold = {{.HeightThreshold}};
extent_fdr_p_threshold = {{.ExtentFDRP}};
extent_threshold = {{.ExtentThreshold}};
use_topo_fdr = {{bool .UseTopoFDR}};
use_fwe_correction = {{bool .UseFWE}};
stat_map_vol = spm_vol(stat_filename);
[stat_map_data, stat_map_XYZmm] = spm_read_vols(stat_map_vol);
Z = stat_map_data(:)';
[x,y,z] = ind2sub(size(stat_map_data),(1:numel(stat_map_data))');
XYZ = cat(1, x', y', z');
if force_activation
  Z(isnan(Z)) = 0;
end
STAT = SPM.xCon({{.ContrastIndex}}).STAT;
df = [SPM.xCon({{.ContrastIndex}}).eidf SPM.xX.erdf];
n = 1;
R = SPM.xVol.R;
S = SPM.xVol.S;
FWHM = SPM.xVol.FWHM;
{{- if eq .HeightThresholdType "p-value"}}
if use_fwe_correction
  cluster_forming_thr = spm_uc(height_threshold, df, STAT, R, n, S);
else
  cluster_forming_thr = spm_u(height_threshold, df, STAT);
end
{{- else}}
cluster_forming_thr = height_threshold;
{{- end}}
XYZth = XYZ(:, Z >= cluster_forming_thr);
Zth = Z(Z >= cluster_forming_thr);
spm_write_filtered(Zth, XYZth, stat_map_vol.dim', stat_map_vol.mat, 'thresholded map', {{q .PreTopoMap}});
thresholded_XYZ = [];
thresholded_Z = [];
if ~isempty(XYZth)
  if use_topo_fdr
    V2R = 1/prod(FWHM(stat_map_vol.dim > 1));
    [uc, Pc, ue] = spm_uc_clusterFDR(extent_fdr_p_threshold, df, STAT, R, n, Z, XYZ, V2R, cluster_forming_thr);
  end
  voxel_labels = spm_clusters(XYZth);
  nclusters = max(voxel_labels);
  for i = 1:nclusters
    cluster_size = sum(voxel_labels == i);
    if cluster_size > extent_threshold && (~use_topo_fdr || (cluster_size - uc) > -1)
      thresholded_XYZ = cat(2, thresholded_XYZ, XYZth(:, voxel_labels == i));
      thresholded_Z = cat(2, thresholded_Z, Zth(voxel_labels == i));
    end
  end
end
if isempty(thresholded_XYZ)
  thresholded_Z = [0];
  thresholded_XYZ = [1 1 1]';
end
spm_write_filtered(thresholded_Z, thresholded_XYZ, stat_map_vol.dim', stat_map_vol.mat, 'thresholded map', {{q .ThresholdedMap}});
`

var thresholdBatch = template.Must(template.New("threshold").Funcs(funcs).Parse(thresholdTemplate))

// ThresholdInput defines the arguments for spm_threshold.
type ThresholdInput struct {
	SPMMatFile          string    `lf:"spm_mat_file"`
	StatImage           cty.Value `lf:"stat_image"`
	ContrastIndex       int       `lf:"contrast_index"`
	UseFWECorrection    bool      `lf:"use_fwe_correction"`
	UseTopoFDR          bool      `lf:"use_topo_fdr"`
	HeightThreshold     float64   `lf:"height_threshold"`
	HeightThresholdType string    `lf:"height_threshold_type"`
	ExtentFDRPThreshold float64   `lf:"extent_fdr_p_threshold"`
	ExtentThreshold     int       `lf:"extent_threshold"`
	ForceActivation     bool      `lf:"force_activation"`
	MatlabCmd           string    `lf:"matlab_cmd"`
	Paths               []string  `lf:"paths"`
}

// ThresholdOutput names the written maps.
type ThresholdOutput struct {
	ThresholdedMap string `cty:"thresholded_map"`
	PreTopoFDRMap  string `cty:"pre_topo_fdr_map"`
}

// statImage picks the image for the contrast: a single path is used as is,
// a list is indexed by contrast_index counting from one.
func statImage(v cty.Value, contrastIndex int) (string, error) {
	if v.IsNull() || !v.IsWhollyKnown() {
		return "", fmt.Errorf("stat_image is required")
	}
	ty := v.Type()
	if ty == cty.String {
		return v.AsString(), nil
	}
	if !(ty.IsListType() || ty.IsTupleType()) {
		return "", fmt.Errorf("stat_image must be a path or a list of paths, got %s", ty.FriendlyName())
	}
	n := v.LengthInt()
	if n == 1 {
		contrastIndex = 1
	}
	if contrastIndex < 1 || contrastIndex > n {
		return "", fmt.Errorf("contrast_index %d is out of range for %d stat images", contrastIndex, n)
	}
	e := v.Index(cty.NumberIntVal(int64(contrastIndex - 1)))
	if e.Type() != cty.String {
		return "", fmt.Errorf("stat_image must be a path or a list of paths")
	}
	return e.AsString(), nil
}

// OnRunThreshold is the handler for the 'spm_threshold' runner.
func OnRunThreshold(ctx context.Context, input *ThresholdInput) (*ThresholdOutput, error) {
	info := nodectx.FromContext(ctx)
	if input.HeightThresholdType != "p-value" && input.HeightThresholdType != "stat" {
		return nil, fmt.Errorf("height_threshold_type must be \"p-value\" or \"stat\", got %q", input.HeightThresholdType)
	}
	if input.ContrastIndex < 1 {
		return nil, fmt.Errorf("contrast_index must be at least 1, got %d", input.ContrastIndex)
	}
	stat, err := statImage(input.StatImage, input.ContrastIndex)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(stat), filepath.Ext(stat))
	out := &ThresholdOutput{
		ThresholdedMap: info.Path(base + "_thr.nii"),
		PreTopoFDRMap:  info.Path(base + "_pre_topo_thr.nii"),
	}

	body, err := render(thresholdBatch, map[string]any{
		"ForceActivation":     input.ForceActivation,
		"SPMMat":              input.SPMMatFile,
		"StatImage":           stat,
		"HeightThreshold":     input.HeightThreshold,
		"HeightThresholdType": input.HeightThresholdType,
		"ExtentFDRP":          input.ExtentFDRPThreshold,
		"ExtentThreshold":     input.ExtentThreshold,
		"UseTopoFDR":          input.UseTopoFDR,
		"UseFWE":              input.UseFWECorrection,
		"ContrastIndex":       input.ContrastIndex,
		"PreTopoMap":          out.PreTopoFDRMap,
		"ThresholdedMap":      out.ThresholdedMap,
	})
	if err != nil {
		return nil, err
	}
	if err := runMatlab(ctx, input.MatlabCmd, input.Paths, "threshold", body); err != nil {
		return nil, err
	}
	for _, f := range []string{out.ThresholdedMap, out.PreTopoFDRMap} {
		if err := requireFile(f); err != nil {
			return nil, err
		}
	}
	return out, nil
}
