// Package modules bundles the runner manifests compiled into the binary.
// Each runner package next to this file provides the Go handlers named by
// the manifest in its directory.
package modules

import (
	"embed"
	"io/fs"
)

//go:embed */manifest.hcl
var manifests embed.FS

// Manifests returns the embedded manifest tree, one directory per module.
func Manifests() fs.FS {
	return manifests
}
