// Package services defines shared utilities consumed by the analysis
// dispatcher and the external integrations it drives.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, protocol entry IDs, explainability
//     methods, and analysis types for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into run-fatal configuration errors and entry- or analysis-scoped ones.
//
// Use these helpers when wiring new collaborators so operational behaviour
// (error scoping, observability) stays uniform across the protocol runner.
package services
