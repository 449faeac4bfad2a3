package app

import (
	"github.com/vk/levelflow/internal/config"
	lfhcl "github.com/vk/levelflow/internal/hcl"
	"github.com/vk/levelflow/modules"
)

// NewLoader returns the HCL loader for cfg: the embedded runner manifests
// plus, when a variables file is configured, its local overrides.
func NewLoader(cfg *Config) (config.Loader, error) {
	opts := []lfhcl.Option{lfhcl.WithManifests(modules.Manifests())}
	if cfg.VarFile != "" {
		vars, err := lfhcl.ReadVarFile(cfg.VarFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lfhcl.WithOverrides(vars))
	}
	return lfhcl.NewLoader(opts...), nil
}
