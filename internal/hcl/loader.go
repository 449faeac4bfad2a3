package hcl

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/fsutil"
	"github.com/vk/levelflow/internal/schema"
	"github.com/zclconf/go-cty/cty"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	manifests fs.FS
	overrides map[string]cty.Value
}

// Option customises a Loader.
type Option func(*Loader)

// WithManifests adds a filesystem of runner manifests that is read before
// any pipeline file.
func WithManifests(fsys fs.FS) Option {
	return func(l *Loader) { l.manifests = fsys }
}

// WithOverrides replaces same-named locals before their dependents are
// evaluated.
func WithOverrides(overrides map[string]cty.Value) Option {
	return func(l *Loader) { l.overrides = overrides }
}

// NewLoader creates a new HCL configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// parsed collects the raw blocks of every file before evaluation.
type parsed struct {
	runners   []*schema.RunnerDefinition
	locals    []*schema.Locals
	workflows []*schema.Workflow
}

// Load orchestrates the entire HCL configuration loading process: manifests
// and pipeline files are parsed, locals are evaluated, then workflow bodies
// are decoded against the resulting evaluation context.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, config.Converter, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	parser := hclparse.NewParser()
	var raw parsed

	if l.manifests != nil {
		if err := l.parseManifests(parser, &raw); err != nil {
			return nil, nil, err
		}
	}

	files, err := fsutil.FindFilesByExtension(paths, ".hcl")
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read HCL file %s: %w", file, err)
		}
		if err := decodeFile(parser, src, file, &raw); err != nil {
			return nil, nil, err
		}
	}

	model := &config.Model{
		Runners: make(map[string]*config.RunnerDefinition),
	}

	for _, runner := range raw.runners {
		if _, exists := model.Runners[runner.Type]; exists {
			return nil, nil, fmt.Errorf("runner %q is defined more than once", runner.Type)
		}
		def, err := translateRunnerDefinition(ctx, runner)
		if err != nil {
			return nil, nil, err
		}
		model.Runners[def.Type] = def
	}

	model.Locals, err = evaluateLocals(ctx, raw.locals, l.overrides)
	if err != nil {
		return nil, nil, err
	}
	evalCtx := NewEvalContext(model.Locals)

	seen := make(map[string]struct{})
	for _, wf := range raw.workflows {
		if _, exists := seen[wf.Name]; exists {
			return nil, nil, fmt.Errorf("workflow %q is defined more than once", wf.Name)
		}
		seen[wf.Name] = struct{}{}

		var body schema.WorkflowBody
		if diags := gohcl.DecodeBody(wf.Body, evalCtx, &body); diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to decode workflow %q: %w", wf.Name, diags)
		}
		translated, err := translateWorkflow(wf.Name, &body)
		if err != nil {
			return nil, nil, err
		}
		model.Workflows = append(model.Workflows, translated)
	}

	logger.Debug("HCL loading complete.",
		"runners", len(model.Runners),
		"locals", len(model.Locals),
		"workflows", len(model.Workflows),
	)
	return model, NewConverter(), nil
}

// parseManifests reads every .hcl file of the manifest filesystem.
func (l *Loader) parseManifests(parser *hclparse.Parser, raw *parsed) error {
	return fs.WalkDir(l.manifests, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".hcl" {
			return nil
		}
		src, err := fs.ReadFile(l.manifests, p)
		if err != nil {
			return fmt.Errorf("failed to read manifest %s: %w", p, err)
		}
		return decodeFile(parser, src, p, raw)
	})
}

// decodeFile parses one file and appends its top-level blocks to raw.
func decodeFile(parser *hclparse.Parser, src []byte, filename string, raw *parsed) error {
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var root schema.File
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	raw.runners = append(raw.runners, root.Runners...)
	raw.locals = append(raw.locals, root.Locals...)
	raw.workflows = append(raw.workflows, root.Workflows...)
	return nil
}

// bodyAttributes returns the expressions of a block that holds attributes only.
func bodyAttributes(body hcl.Body) (map[string]hcl.Expression, error) {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	exprs := make(map[string]hcl.Expression, len(attrs))
	for name, attr := range attrs {
		exprs[name] = attr.Expr
	}
	return exprs, nil
}
