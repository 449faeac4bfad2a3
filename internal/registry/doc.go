// Package registry binds runner manifests to the Go handlers that run them.
//
// A manifest names its handler in `lifecycle { on_run = "OnRunDataGrabber" }`;
// each module's Register call stores the handler under that name together
// with the reflect types of its input and output structs. After the
// manifests are loaded, ValidateRegistry checks every runner against its
// handler: each manifest input needs an `lf`-tagged field of a compatible
// type, and each declared output needs a `cty`-tagged field.
package registry
