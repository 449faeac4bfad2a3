// Package app contains the core application logic. It wires the loader,
// the registry of runner handlers, the DAG builder and the executor
// together, decoupled from any specific entrypoint like a CLI or server.
package app
