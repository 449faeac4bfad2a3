package data_sink

import (
	"context"
	"fmt"
	"path"
	"reflect"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/nodectx"
	"github.com/vk/levelflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the data_sink runner.
type Input struct {
	BaseDirectory    string     `lf:"base_directory"`
	Container        string     `lf:"container"`
	Files            cty.Value  `lf:"files"`
	Substitutions    [][]string `lf:"substitutions"`
	Parameterization bool       `lf:"parameterization"`
}

// Output lists the destination of every copied file.
type Output struct {
	OutFile []string `cty:"out_file"`
}

// KeyDir turns a destination key into a relative directory: components are
// separated by dots and a component starting with "@" names no directory.
// "vol_contrasts.@T" becomes "vol_contrasts" and "a.b.@c" becomes "a/b".
func KeyDir(key string) string {
	var parts []string
	for _, p := range strings.Split(key, ".") {
		if p == "" || strings.HasPrefix(p, "@") {
			continue
		}
		parts = append(parts, p)
	}
	return path.Join(parts...)
}

// Destination computes where src is copied for the given key.
func Destination(base, container, key, paramPath, src string, substitutions [][]string) (string, error) {
	container = strings.TrimLeft(container, "/")
	rel := path.Join(container, KeyDir(key), paramPath, path.Base(src))
	for _, sub := range substitutions {
		if len(sub) != 2 {
			return "", fmt.Errorf("substitution %v: expected [old, new]", sub)
		}
		rel = strings.ReplaceAll(rel, sub[0], sub[1])
	}
	return url.Join(base, rel), nil
}

// flattenFiles collects the strings of a file or a nested list of files.
func flattenFiles(v cty.Value) ([]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return []string{v.AsString()}, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		var out []string
		for it := v.ElementIterator(); it.Next(); {
			_, e := it.Element()
			files, err := flattenFiles(e)
			if err != nil {
				return nil, err
			}
			out = append(out, files...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a path or a list of paths, got %s", ty.FriendlyName())
	}
}

// OnRunDataSink is the handler for the 'data_sink' runner's on_run lifecycle event.
func OnRunDataSink(ctx context.Context, input *Input) (*Output, error) {
	logger := ctxlog.FromContext(ctx)
	info := nodectx.FromContext(ctx)

	if input.Files.IsNull() || !(input.Files.Type().IsObjectType() || input.Files.Type().IsMapType()) {
		return nil, fmt.Errorf("files must be a map from destination keys to paths")
	}
	paramPath := ""
	if input.Parameterization {
		paramPath = path.Join(info.ParamDirs...)
	}

	fs := afs.New()

	entries := input.Files.AsValueMap()
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &Output{OutFile: []string{}}
	for _, key := range keys {
		files, err := flattenFiles(entries[key])
		if err != nil {
			return nil, fmt.Errorf("files[%q]: %w", key, err)
		}
		for _, src := range files {
			dest, err := Destination(input.BaseDirectory, input.Container, key, paramPath, src, input.Substitutions)
			if err != nil {
				return nil, err
			}
			logger.Debug("Copying result.", "key", key, "src", src, "dest", dest)
			if err := fs.Copy(ctx, src, dest); err != nil {
				return nil, fmt.Errorf("failed to copy %s to %s: %w", src, dest, err)
			}
			out.OutFile = append(out.OutFile, dest)
		}
	}
	logger.Info("Sunk results.", "files", len(out.OutFile))
	return out, nil
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("OnRunDataSink", &registry.RegisteredRunner{
		NewInput:   func() any { return new(Input) },
		InputType:  reflect.TypeOf(Input{}),
		OutputType: reflect.TypeOf(Output{}),
		Fn:         OnRunDataSink,
	})
}
