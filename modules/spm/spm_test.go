package spm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/levelflow/internal/nodectx"
	"github.com/vk/levelflow/internal/testutil"
	"github.com/vk/levelflow/internal/toolexec"
	"github.com/zclconf/go-cty/cty"
)

// fakeMatlab pretends to be SPM: it writes the files each batch produces.
const fakeMatlab = `
echo "$@" > args.txt
if [ -f pyscript_onesamplettestdesign.m ] || [ -f pyscript_multipleregressiondesign.m ]; then
  touch SPM.mat
fi
if [ -f pyscript_estimatemodel.m ]; then
  touch beta_0001.nii beta_0002.nii ResMS.nii mask.nii RPV.nii
fi
if [ -f pyscript_estimatecontrast.m ]; then
  touch con_0001.nii spmT_0001.nii
fi
if [ -f pyscript_threshold.m ]; then
  for f in $(grep -o "'[^']*thr.nii'" pyscript_threshold.m | tr -d "'"); do touch "$f"; done
fi
`

func nodeContext(t *testing.T) (context.Context, *nodectx.Info) {
	t.Helper()
	info := &nodectx.Info{WorkDir: t.TempDir(), NodeID: "test"}
	return nodectx.WithInfo(context.Background(), info), info
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestQuoteAndNumbers(t *testing.T) {
	assert.Equal(t, "'it''s'", quote("it's"))
	assert.Equal(t, "[1 -0.3 1.75]", numbers([]float64{1, -0.3, 1.75}))
	assert.Equal(t, "[]", numbers(nil))
}

func TestOnRunOneSampleTTestDesign(t *testing.T) {
	// --- Arrange ---
	ctx, info := nodeContext(t)
	matlab := testutil.FakeTool(t, "matlab", fakeMatlab)
	input := &OneSampleTTestDesignInput{
		InFiles:              []string{"/l1/subject1/con_0001_ants.nii", "/l1/subject2/con_0001_ants.nii"},
		UseImplicitThreshold: true,
		GlobalCalcOmit:       true,
		MatlabCmd:            matlab + " -nodesktop -nosplash",
		Paths:                []string{"/opt/spm12"},
	}

	// --- Act ---
	out, err := OnRunOneSampleTTestDesign(ctx, input)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(info.WorkDir, "SPM.mat"), out.SPMMatFile)

	script := readFile(t, info.Path("pyscript_onesamplettestdesign.m"))
	assert.Contains(t, script, "addpath('/opt/spm12');")
	assert.Contains(t, script, "factorial_design.dir = {'"+info.WorkDir+"'};")
	assert.Contains(t, script, "des.t1.scans = {\n'/l1/subject1/con_0001_ants.nii,1'\n'/l1/subject2/con_0001_ants.nii,1'\n};")
	assert.Contains(t, script, "masking.im = 1;")
	assert.Contains(t, script, "spm_jobman('run', matlabbatch);")

	args := readFile(t, info.Path("args.txt"))
	assert.Contains(t, args, "-nodesktop -nosplash -r addpath('"+info.WorkDir+"');pyscript_onesamplettestdesign;exit")
	assert.FileExists(t, info.Path(toolexec.CommandFile))
}

func TestOnRunOneSampleTTestDesign_NeedsTwoImages(t *testing.T) {
	ctx, _ := nodeContext(t)
	_, err := OnRunOneSampleTTestDesign(ctx, &OneSampleTTestDesignInput{InFiles: []string{"/a.nii"}})
	assert.ErrorContains(t, err, "at least two images, got 1")
}

func TestOnRunMultipleRegressionDesign(t *testing.T) {
	ctx, info := nodeContext(t)
	input := &MultipleRegressionDesignInput{
		InFiles: []string{"/a.nii", "/b.nii", "/c.nii"},
		Covariates: cty.TupleVal([]cty.Value{
			cty.ObjectVal(map[string]cty.Value{
				"name":   cty.StringVal("nameOfRegressor1"),
				"vector": cty.TupleVal([]cty.Value{cty.NumberFloatVal(-0.30), cty.NumberFloatVal(0.52), cty.NumberFloatVal(1.75)}),
			}),
		}),
		IncludeIntercept: true,
		MatlabCmd:        testutil.FakeTool(t, "matlab", fakeMatlab),
	}

	_, err := OnRunMultipleRegressionDesign(ctx, input)
	require.NoError(t, err)

	script := readFile(t, info.Path("pyscript_multipleregressiondesign.m"))
	assert.Contains(t, script, "des.mreg.mcov(1).c = [-0.3 0.52 1.75]';")
	assert.Contains(t, script, "des.mreg.mcov(1).cname = 'nameOfRegressor1';")
	assert.Contains(t, script, "des.mreg.mcov(1).iCC = 1;")
	assert.Contains(t, script, "des.mreg.incint = 1;")

	t.Run("vector length must match images", func(t *testing.T) {
		input.InFiles = input.InFiles[:2]
		_, err := OnRunMultipleRegressionDesign(ctx, input)
		assert.ErrorContains(t, err, `covariate "nameOfRegressor1" has 3 values for 2 images`)
	})
}

func TestParseCovariates_Errors(t *testing.T) {
	cases := map[string]cty.Value{
		"covariates must be a list":  cty.StringVal("x"),
		"name must be a string":      cty.TupleVal([]cty.Value{cty.ObjectVal(map[string]cty.Value{"vector": cty.EmptyTupleVal})}),
		"vector is required":         cty.TupleVal([]cty.Value{cty.ObjectVal(map[string]cty.Value{"name": cty.StringVal("r")})}),
		"expected a list of numbers": cty.TupleVal([]cty.Value{cty.ObjectVal(map[string]cty.Value{"name": cty.StringVal("r"), "vector": cty.StringVal("1")})}),
	}
	for want, v := range cases {
		_, err := parseCovariates(v)
		assert.ErrorContains(t, err, want)
	}
}

func TestEstimationMethod(t *testing.T) {
	m, err := estimationMethod(map[string]float64{"Classical": 1})
	require.NoError(t, err)
	assert.Equal(t, "Classical", m)

	_, err = estimationMethod(map[string]float64{"Classical": 1, "Bayesian": 1})
	assert.ErrorContains(t, err, "exactly one")
	_, err = estimationMethod(map[string]float64{"ReML": 1})
	assert.ErrorContains(t, err, `unknown estimation method "ReML"`)
}

func TestOnRunEstimateModel(t *testing.T) {
	// --- Arrange ---
	ctx, info := nodeContext(t)
	designDir := t.TempDir()
	spmMat := filepath.Join(designDir, "SPM.mat")
	require.NoError(t, os.WriteFile(spmMat, []byte("design"), 0o644))

	// --- Act ---
	out, err := OnRunEstimateModel(ctx, &EstimateModelInput{
		SPMMatFile:       spmMat,
		EstimationMethod: map[string]float64{"Classical": 1},
		MatlabCmd:        testutil.FakeTool(t, "matlab", fakeMatlab),
	})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, info.Path("SPM.mat"), out.SPMMatFile)
	assert.Equal(t, []string{info.Path("beta_0001.nii"), info.Path("beta_0002.nii")}, out.BetaImages)
	assert.Equal(t, info.Path("ResMS.nii"), out.ResidualImage)
	assert.Equal(t, info.Path("mask.nii"), out.MaskImage)
	assert.Equal(t, info.Path("RPV.nii"), out.RPVImage)

	script := readFile(t, info.Path("pyscript_estimatemodel.m"))
	assert.Contains(t, script, "fmri_est.method.Classical = 1;")
	assert.Contains(t, script, "fmri_est.spmmat = {'"+info.Path("SPM.mat")+"'};")
}

func TestParseContrasts(t *testing.T) {
	group := cty.ObjectVal(map[string]cty.Value{
		"name":       cty.StringVal("Group"),
		"stat":       cty.StringVal("T"),
		"conditions": cty.TupleVal([]cty.Value{cty.StringVal("mean")}),
		"weights":    cty.TupleVal([]cty.Value{cty.NumberIntVal(1)}),
	})
	f := cty.ObjectVal(map[string]cty.Value{
		"name":      cty.StringVal("Any"),
		"stat":      cty.StringVal("F"),
		"contrasts": cty.TupleVal([]cty.Value{cty.StringVal("Group")}),
	})

	got, err := parseContrasts(cty.TupleVal([]cty.Value{group, f}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Contrast{Name: "Group", Stat: "T", Conditions: []string{"mean"}, Weights: []float64{1}}, got[0])
	assert.Equal(t, []int{1}, got[1].Refs)

	t.Run("F before its T contrast", func(t *testing.T) {
		_, err := parseContrasts(cty.TupleVal([]cty.Value{f, group}))
		assert.ErrorContains(t, err, `"Group" is not a T contrast declared before it`)
	})

	t.Run("weights and conditions differ", func(t *testing.T) {
		bad := cty.ObjectVal(map[string]cty.Value{
			"name":       cty.StringVal("c"),
			"stat":       cty.StringVal("T"),
			"conditions": cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")}),
			"weights":    cty.TupleVal([]cty.Value{cty.NumberIntVal(1)}),
		})
		_, err := parseContrasts(cty.TupleVal([]cty.Value{bad}))
		assert.ErrorContains(t, err, "1 weights for 2 conditions")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := parseContrasts(cty.EmptyTupleVal)
		assert.ErrorContains(t, err, "at least one contrast")
	})
}

func TestOnRunEstimateContrast(t *testing.T) {
	// --- Arrange ---
	ctx, info := nodeContext(t)
	est := t.TempDir()
	var files []string
	for _, name := range []string{"SPM.mat", "ResMS.nii", "beta_0001.nii"} {
		p := filepath.Join(est, name)
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		files = append(files, p)
	}
	contrasts := cty.TupleVal([]cty.Value{cty.ObjectVal(map[string]cty.Value{
		"name":       cty.StringVal("Group"),
		"stat":       cty.StringVal("T"),
		"conditions": cty.TupleVal([]cty.Value{cty.StringVal("mean")}),
		"weights":    cty.TupleVal([]cty.Value{cty.NumberIntVal(1)}),
	})})

	// --- Act ---
	out, err := OnRunEstimateContrast(ctx, &EstimateContrastInput{
		SPMMatFile:    files[0],
		ResidualImage: files[1],
		BetaImages:    files[2:],
		Contrasts:     contrasts,
		GroupContrast: true,
		MatlabCmd:     testutil.FakeTool(t, "matlab", fakeMatlab),
	})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, info.Path("SPM.mat"), out.SPMMatFile)
	assert.Equal(t, []string{info.Path("con_0001.nii")}, out.ConImages)
	assert.Equal(t, []string{info.Path("spmT_0001.nii")}, out.SPMTImages)
	assert.Empty(t, out.SPMFImages)
	assert.Empty(t, out.ESSImages)
	assert.FileExists(t, info.Path("beta_0001.nii"))

	script := readFile(t, info.Path("pyscript_estimatecontrast.m"))
	assert.Contains(t, script, "w1(1:1) = [1];")
	assert.Contains(t, script, "consess{1}.tcon.name = 'Group';")
	assert.Contains(t, script, "consess{1}.tcon.weights = w1;")
	assert.NotContains(t, script, "strfind")
}

func TestContrastBatch_MatchesConditionNames(t *testing.T) {
	body, err := render(contrastBatch, map[string]any{
		"SPMMat": "/wd/SPM.mat",
		"Group":  false,
		"Contrasts": []Contrast{
			{Name: "task>rest", Stat: "T", Conditions: []string{"task", "rest"}, Weights: []float64{1, -1}},
			{Name: "omnibus", Stat: "F", Refs: []int{1}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, body, "w1(~cellfun('isempty', strfind(names, ['task' '*bf(1)']))) = 1;")
	assert.Contains(t, body, "w1(~cellfun('isempty', strfind(names, ['rest' '*bf(1)']))) = -1;")
	assert.Contains(t, body, "consess{2}.fcon.weights = [w1; ];")
	assert.False(t, strings.Contains(body, "w2 ="), "F contrasts get no weight row")
}

func TestStatImage(t *testing.T) {
	list := cty.ListVal([]cty.Value{cty.StringVal("/a/spmT_0001.nii"), cty.StringVal("/a/spmT_0002.nii")})

	got, err := statImage(list, 2)
	require.NoError(t, err)
	assert.Equal(t, "/a/spmT_0002.nii", got)

	got, err = statImage(cty.ListVal([]cty.Value{cty.StringVal("/a/spmT_0001.nii")}), 3)
	require.NoError(t, err)
	assert.Equal(t, "/a/spmT_0001.nii", got)

	got, err = statImage(cty.StringVal("/b/spmT_0001.nii"), 1)
	require.NoError(t, err)
	assert.Equal(t, "/b/spmT_0001.nii", got)

	_, err = statImage(list, 3)
	assert.ErrorContains(t, err, "out of range")
}

func TestOnRunThreshold(t *testing.T) {
	// --- Arrange ---
	ctx, info := nodeContext(t)
	input := &ThresholdInput{
		SPMMatFile:          "/con/SPM.mat",
		StatImage:           cty.ListVal([]cty.Value{cty.StringVal("/con/spmT_0001.nii")}),
		ContrastIndex:       1,
		UseFWECorrection:    false,
		UseTopoFDR:          true,
		ExtentThreshold:     1,
		ExtentFDRPThreshold: 0.05,
		HeightThreshold:     3,
		HeightThresholdType: "p-value",
		MatlabCmd:           testutil.FakeTool(t, "matlab", fakeMatlab),
	}

	// --- Act ---
	out, err := OnRunThreshold(ctx, input)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, info.Path("spmT_0001_thr.nii"), out.ThresholdedMap)
	assert.Equal(t, info.Path("spmT_0001_pre_topo_thr.nii"), out.PreTopoFDRMap)

	script := readFile(t, info.Path("pyscript_threshold.m"))
	for _, want := range []string{
		"height_threshold = 3;",
		"extent_fdr_p_threshold = 0.05;",
		"extent_threshold = 1;",
		"use_topo_fdr = 1;",
		"use_fwe_correction = 0;",
		"stat_filename = '/con/spmT_0001.nii';",
		"cluster_forming_thr = spm_u(height_threshold, df, STAT);",
	} {
		assert.Contains(t, script, want)
	}

	t.Run("bad height threshold type", func(t *testing.T) {
		input.HeightThresholdType = "z"
		_, err := OnRunThreshold(ctx, input)
		assert.ErrorContains(t, err, `height_threshold_type must be "p-value" or "stat"`)
	})
}

func TestRunMatlab_Failure(t *testing.T) {
	ctx, info := nodeContext(t)
	matlab := testutil.FakeTool(t, "matlab", `echo "SPM exploded" >&2; exit 3`)

	err := runMatlab(ctx, matlab, nil, "broken", "disp(1);")

	require.Error(t, err)
	assert.ErrorContains(t, err, "failed")
	assert.ErrorContains(t, err, "SPM exploded")
	assert.FileExists(t, info.Path("pyscript_broken.m"))
}
