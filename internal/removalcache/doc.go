// Package removalcache stores object-removal results on disk, keyed by image
// stem and removed object, so each removal is computed at most once across
// runs.
//
// A result directory lives at <root>/<image_stem>/<object>/ and its presence
// means the removal finished. Producers first Claim the key: the claim holds
// an advisory file lock for the key and hands out a uniquely named staging
// directory. Commit renames the staging directory into place, so a crashed
// computation never leaves a complete-looking result behind and two
// concurrent runs never compute the same key twice.
package removalcache
