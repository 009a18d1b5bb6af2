// Package ledger persists the history of protocol runs in SQLite.
//
// Each run records its configuration summary, the ranked predictions of every
// (entry, method, analysis type), the artifacts written and the skips taken.
// The ledger is append-only during a run; FinishRun stamps the final status
// and counters. The `runs` CLI commands read it back.
package ledger
