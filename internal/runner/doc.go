// Package runner wires a single protocol run: it takes the save-path lock,
// opens the run log and ledger, loads the model through the inference
// backend, resolves the configured saliency methods and analysis types, and
// hands the protocol entries to the dispatcher. It finishes by closing the
// ledger row and writing the markdown report.
package runner
