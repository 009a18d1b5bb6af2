// Package config loads, normalizes, and validates protocol-run configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files from the XDG config directory or a
// project-local vqaexplain.toml, and lets command-line flags override file
// values before validation. The Config type centralizes every knob the
// protocol runner needs: model and protocol locations, the inference backend,
// explainability methods, analysis types, noise parameters, and logging.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
