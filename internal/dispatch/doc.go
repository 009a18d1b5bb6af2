// Package dispatch drives a protocol run.
//
// Entries are processed strictly in order. For each entry the ground-truth
// answer is resolved against the model vocabulary first; a miss skips the
// entry with a single warning. Each (entry, method) pair then walks a small
// state machine:
//
//	Pending -> AnswerResolved -> Analyzing -> [Composited] -> Done
//
// with Aborted reachable from every non-terminal state. Analyzing runs the
// planned analysis types in index order: perturb, classify, resolve the
// predicted category, compute saliency, render and persist the artifact.
//
// Configuration errors abort the whole run. Cache inconsistencies abort the
// current entry. Every other failure is confined to one analysis type.
package dispatch
