// Package perturb implements the analysis types applied to a protocol entry
// before classification: Normal (identity), OR (object removal through the
// removal cache), VisualNoise and TextualNoise.
//
// Each analysis type has a fixed index that orders artifacts on disk and in
// the combined image: Normal=0, OR=1, VisualNoise=2, TextualNoise=3. Plan
// turns the configured names into the execution order, and a Set maps each
// known type to its Strategy. Strategies that do not apply to an entry
// return ErrNotApplicable; the dispatcher logs and skips those.
package perturb
