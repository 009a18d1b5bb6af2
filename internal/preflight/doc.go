// Package preflight provides readiness checks for the paths and the
// inference backend a protocol run depends on.
//
// These checks run in two contexts:
//   - `vqaexplain run` calls RunAll before loading the model and refuses to
//     start when a check fails, so a long run is not wasted on a missing
//     directory or an unreachable backend.
//   - `vqaexplain preflight` prints every result as a table.
//
// The report directory is only checked when one is configured.
package preflight
