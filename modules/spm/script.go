package spm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/viant/afs"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/nodectx"
	"github.com/vk/levelflow/internal/toolexec"
)

// Image extensions written by SPM, preferred first.
var imageExts = []string{".nii", ".img"}

var funcs = template.FuncMap{
	"q":    quote,
	"nums": numbers,
	"bool": func(b bool) int {
		if b {
			return 1
		}
		return 0
	},
	"inc": func(i int) int { return i + 1 },
}

// quote renders s as a MATLAB string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// numbers renders a MATLAB row vector.
func numbers(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

const wrapperTemplate = `fprintf(1,'Executing %s at %s:\n',mfilename(),datestr(now));
ver,
try,
{{- range .Paths}}
addpath({{q .}});
{{- end}}
spm_jobman('initcfg');
{{.Body}}
catch ME,
fprintf(2,'MATLAB code threw an exception:\n');
fprintf(2,'%s\n',ME.message);
if length(ME.stack) ~= 0, fprintf(2,'File:%s\nName:%s\nLine:%d\n',ME.stack(1).file,ME.stack(1).name,ME.stack(1).line);, end;
exit(1);
end;
`

var wrapper = template.Must(template.New("wrapper").Funcs(funcs).Parse(wrapperTemplate))

// render executes a batch template with data.
func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// runMatlab writes pyscript_<name>.m into the node directory and executes it
// with the configured MATLAB command.
func runMatlab(ctx context.Context, matlabCmd string, paths []string, name, body string) error {
	info := nodectx.FromContext(ctx)
	script, err := render(wrapper, struct {
		Paths []string
		Body  string
	}{paths, body})
	if err != nil {
		return err
	}

	scriptName := "pyscript_" + name
	if err := os.WriteFile(info.Path(scriptName+".m"), []byte(script), 0o644); err != nil {
		return fmt.Errorf("failed to write batch script: %w", err)
	}

	cmd, err := toolexec.Split(matlabCmd, "-r", fmt.Sprintf("addpath(%s);%s;exit", quote(info.WorkDir), scriptName))
	if err != nil {
		return fmt.Errorf("matlab_cmd: %w", err)
	}
	cmd.Dir = info.WorkDir
	cmd.Env = info.Env

	ctxlog.FromContext(ctx).Info("Running MATLAB batch.", "script", scriptName+".m")
	return toolexec.Run(ctx, cmd)
}

// stage copies files into the node directory and returns their new paths.
func stage(ctx context.Context, files ...string) ([]string, error) {
	info := nodectx.FromContext(ctx)
	fs := afs.New()
	out := make([]string, 0, len(files))
	for _, src := range files {
		dest := info.Path(filepath.Base(src))
		if filepath.Clean(src) != filepath.Clean(dest) {
			if err := fs.Copy(ctx, src, dest); err != nil {
				return nil, fmt.Errorf("failed to stage %s: %w", src, err)
			}
		}
		out = append(out, dest)
	}
	return out, nil
}

// images returns the sorted images named <prefix>*<ext> in dir, using the
// first extension that matches anything.
func images(dir, prefix string) ([]string, error) {
	for _, ext := range imageExts {
		matches, err := filepath.Glob(filepath.Join(dir, prefix+"*"+ext))
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches, nil
		}
	}
	return []string{}, nil
}

// image returns dir/<name><ext> for the first existing extension, or the
// preferred one when none exists.
func image(dir, name string) string {
	for _, ext := range imageExts {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, name+imageExts[0])
}

// requireFile fails when a file the batch should have written is missing.
func requireFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("expected output %s: %w", path, err)
	}
	return nil
}
