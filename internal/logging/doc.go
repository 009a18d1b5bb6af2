// Package logging assembles structured slog loggers and formatting helpers used
// across the protocol runner.
//
// It owns the console and JSON handlers, the run log lifecycle (archive the
// previous explainer.log, truncate, mirror to the terminal, prune old
// archives), and context-aware helpers so dispatcher code automatically tags
// log lines with run IDs, protocol entries, explainability methods, and
// analysis types. The package also provides a no-op logger for tests and
// wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits records with the same shape.
package logging
