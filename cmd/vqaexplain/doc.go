// Package main hosts the vqaexplain CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once per invocation (file,
// then flag overrides), runs analysis protocols against the inference
// backend, and exposes the run ledger, the object-removal cache, and
// compositing of existing output trees. The orchestration itself lives in
// internal/runner; commands here only translate flags and render results.
package main
