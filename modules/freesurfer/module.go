// Package freesurfer wraps the FreeSurfer group analysis programs
// mris_preproc and mri_glmfit as runners.
package freesurfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/listutil"
	"github.com/vk/levelflow/internal/nodectx"
	"github.com/vk/levelflow/internal/registry"
	"github.com/vk/levelflow/internal/toolexec"
)

// SubjectsDirEnv is the variable FreeSurfer reads its subjects from.
const SubjectsDirEnv = "SUBJECTS_DIR"

// OneSampleContrast is the contrast directory mri_glmfit --osgm writes.
const OneSampleContrast = "osgm"

// Module implements the registry.Module interface for this package.
type Module struct{}

// MRISPreprocInput defines the arguments for fs_mris_preproc.
type MRISPreprocInput struct {
	Target           string     `lf:"target"`
	Hemi             string     `lf:"hemi"`
	VolMeasureFile   [][]string `lf:"vol_measure_file"`
	FWHM             *float64   `lf:"fwhm"`
	FWHMSource       *float64   `lf:"fwhm_source"`
	NumIters         *int       `lf:"num_iters"`
	Subjects         []string   `lf:"subjects"`
	FSGDFile         string     `lf:"fsgd_file"`
	ProjFrac         *float64   `lf:"proj_frac"`
	SmoothCortexOnly bool       `lf:"smooth_cortex_only"`
	OutFile          string     `lf:"out_file"`
	SubjectsDir      string     `lf:"subjects_dir"`
	Command          string     `lf:"command"`
}

// MRISPreprocOutput names the concatenated file.
type MRISPreprocOutput struct {
	OutFile string `cty:"out_file"`
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func checkHemi(hemi string) error {
	if hemi != "lh" && hemi != "rh" {
		return fmt.Errorf("hemi must be \"lh\" or \"rh\", got %q", hemi)
	}
	return nil
}

// MRISPreprocArgs builds the mris_preproc argument list.
func MRISPreprocArgs(in *MRISPreprocInput, outFile string) ([]string, error) {
	if in.Target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if err := checkHemi(in.Hemi); err != nil {
		return nil, err
	}
	pairs, err := listutil.Pairs(in.VolMeasureFile)
	if err != nil {
		return nil, fmt.Errorf("vol_measure_file: %w", err)
	}
	if len(pairs) == 0 && len(in.Subjects) == 0 && in.FSGDFile == "" {
		return nil, fmt.Errorf("one of vol_measure_file, subjects or fsgd_file is required")
	}

	args := []string{"--target", in.Target, "--hemi", in.Hemi, "--out", outFile}
	if in.FWHM != nil {
		args = append(args, "--fwhm", num(*in.FWHM))
	}
	if in.FWHMSource != nil {
		args = append(args, "--fwhm-src", num(*in.FWHMSource))
	}
	if in.NumIters != nil {
		args = append(args, "--niters", strconv.Itoa(*in.NumIters))
	}
	if in.ProjFrac != nil {
		args = append(args, "--projfrac", num(*in.ProjFrac))
	}
	if in.SmoothCortexOnly {
		args = append(args, "--smooth-cortex-only")
	}
	for _, s := range in.Subjects {
		args = append(args, "--s", s)
	}
	if in.FSGDFile != "" {
		args = append(args, "--fsgd", in.FSGDFile)
	}
	for _, p := range pairs {
		args = append(args, "--iv", p[0], p[1])
	}
	return args, nil
}

func environment(info *nodectx.Info, subjectsDir string) map[string]string {
	env := make(map[string]string, len(info.Env)+1)
	for k, v := range info.Env {
		env[k] = v
	}
	if subjectsDir != "" {
		env[SubjectsDirEnv] = subjectsDir
	}
	return env
}

// OnRunMRISPreproc is the handler for the 'fs_mris_preproc' runner.
func OnRunMRISPreproc(ctx context.Context, input *MRISPreprocInput) (*MRISPreprocOutput, error) {
	info := nodectx.FromContext(ctx)

	outFile := input.OutFile
	if outFile == "" {
		outFile = fmt.Sprintf("concat_%s_%s.mgz", input.Hemi, input.Target)
	}
	if !filepath.IsAbs(outFile) {
		outFile = info.Path(outFile)
	}

	args, err := MRISPreprocArgs(input, outFile)
	if err != nil {
		return nil, err
	}
	cmd, err := toolexec.Split(input.Command, args...)
	if err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	cmd.Dir = info.WorkDir
	cmd.Env = environment(info, input.SubjectsDir)

	ctxlog.FromContext(ctx).Info("Concatenating surface measures.", "hemi", input.Hemi, "target", input.Target, "inputs", len(input.VolMeasureFile))
	if err := toolexec.Run(ctx, cmd); err != nil {
		return nil, err
	}
	if _, err := os.Stat(outFile); err != nil {
		return nil, fmt.Errorf("mris_preproc did not write %s: %w", outFile, err)
	}
	return &MRISPreprocOutput{OutFile: outFile}, nil
}

// OneSampleTTestInput defines the arguments for fs_one_sample_ttest.
type OneSampleTTestInput struct {
	InFile      string   `lf:"in_file"`
	GLMDir      string   `lf:"glm_dir"`
	SurfSubject string   `lf:"surf_subject"`
	Hemi        string   `lf:"hemi"`
	FWHM        *float64 `lf:"fwhm"`
	SubjectsDir string   `lf:"subjects_dir"`
	Command     string   `lf:"command"`
}

// OneSampleTTestOutput lists the files mri_glmfit writes.
type OneSampleTTestOutput struct {
	GLMDir       string `cty:"glm_dir"`
	BetaFile     string `cty:"beta_file"`
	ErrorVarFile string `cty:"error_var_file"`
	MaskFile     string `cty:"mask_file"`
	FWHMFile     string `cty:"fwhm_file"`
	DOFFile      string `cty:"dof_file"`
	SigFile      string `cty:"sig_file"`
	GammaFile    string `cty:"gamma_file"`
	GammaVarFile string `cty:"gamma_var_file"`
}

// GLMFitArgs builds the mri_glmfit argument list.
func GLMFitArgs(in *OneSampleTTestInput, glmDir string) ([]string, error) {
	if in.InFile == "" {
		return nil, fmt.Errorf("in_file is required")
	}
	args := []string{"--y", in.InFile, "--osgm", "--glmdir", glmDir}
	if in.SurfSubject != "" || in.Hemi != "" {
		if in.SurfSubject == "" {
			return nil, fmt.Errorf("surf_subject is required with hemi")
		}
		if err := checkHemi(in.Hemi); err != nil {
			return nil, err
		}
		args = append(args, "--surf", in.SurfSubject, in.Hemi)
	}
	if in.FWHM != nil {
		args = append(args, "--fwhm", num(*in.FWHM))
	}
	return args, nil
}

// OnRunOneSampleTTest is the handler for the 'fs_one_sample_ttest' runner.
func OnRunOneSampleTTest(ctx context.Context, input *OneSampleTTestInput) (*OneSampleTTestOutput, error) {
	info := nodectx.FromContext(ctx)

	glmDir := input.GLMDir
	if !filepath.IsAbs(glmDir) {
		glmDir = info.Path(glmDir)
	}
	args, err := GLMFitArgs(input, glmDir)
	if err != nil {
		return nil, err
	}
	cmd, err := toolexec.Split(input.Command, args...)
	if err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	cmd.Dir = info.WorkDir
	cmd.Env = environment(info, input.SubjectsDir)

	ctxlog.FromContext(ctx).Info("Fitting one sample group mean.", "in_file", input.InFile)
	if err := toolexec.Run(ctx, cmd); err != nil {
		return nil, err
	}

	con := filepath.Join(glmDir, OneSampleContrast)
	out := &OneSampleTTestOutput{
		GLMDir:       glmDir,
		BetaFile:     filepath.Join(glmDir, "beta.mgh"),
		ErrorVarFile: filepath.Join(glmDir, "rvar.mgh"),
		MaskFile:     filepath.Join(glmDir, "mask.mgh"),
		FWHMFile:     filepath.Join(glmDir, "fwhm.dat"),
		DOFFile:      filepath.Join(glmDir, "dof.dat"),
		SigFile:      filepath.Join(con, "sig.mgh"),
		GammaFile:    filepath.Join(con, "gamma.mgh"),
		GammaVarFile: filepath.Join(con, "gammavar.mgh"),
	}
	if _, err := os.Stat(out.SigFile); err != nil {
		return nil, fmt.Errorf("mri_glmfit did not write %s: %w", out.SigFile, err)
	}
	return out, nil
}

// Register registers the handlers with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("OnRunMRISPreproc", &registry.RegisteredRunner{
		NewInput:   func() any { return new(MRISPreprocInput) },
		InputType:  reflect.TypeOf(MRISPreprocInput{}),
		OutputType: reflect.TypeOf(MRISPreprocOutput{}),
		Fn:         OnRunMRISPreproc,
	})
	r.RegisterRunner("OnRunOneSampleTTest", &registry.RegisteredRunner{
		NewInput:   func() any { return new(OneSampleTTestInput) },
		InputType:  reflect.TypeOf(OneSampleTTestInput{}),
		OutputType: reflect.TypeOf(OneSampleTTestOutput{}),
		Fn:         OnRunOneSampleTTest,
	})
}
