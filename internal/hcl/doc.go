// Package hcl provides the concrete HCL implementation for the configuration
// loading and data conversion interfaces defined in the `config` package.
// It is responsible for all file parsing, locals evaluation, HCL-to-model
// translation, and CTY-to-Go data binding. It also owns the function table
// exposed to pipeline expressions.
package hcl
