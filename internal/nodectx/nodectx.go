// Package nodectx carries per-node execution details, such as the working
// directory and iterable parameterization, to runner handlers through
// context.Context.
package nodectx

import (
	"context"
	"path/filepath"
)

// Info describes the node instance a handler is running for.
type Info struct {
	RunID    string
	Workflow string
	NodeID   string
	// WorkDir is the node's private working directory. It exists when the
	// handler is called.
	WorkDir string
	// ParamDirs holds one path element per upstream iterable, e.g.
	// ["_contrasts_1_hemi_lh"].
	ParamDirs []string
	// Env is merged into the environment of external commands.
	Env map[string]string
}

type key struct{}

var infoKey = key{}

// WithInfo returns a new context carrying info.
func WithInfo(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, infoKey, info)
}

// FromContext returns the node info stored in ctx. Outside the executor it
// returns an Info whose WorkDir is the current directory.
func FromContext(ctx context.Context) *Info {
	if info, ok := ctx.Value(infoKey).(*Info); ok && info != nil {
		return info
	}
	return &Info{WorkDir: "."}
}

// Path joins elements onto the working directory.
func (i *Info) Path(elem ...string) string {
	return filepath.Join(append([]string{i.WorkDir}, elem...)...)
}

// ParamPath joins the parameterization directories, or returns "".
func (i *Info) ParamPath() string {
	if len(i.ParamDirs) == 0 {
		return ""
	}
	return filepath.Join(i.ParamDirs...)
}
