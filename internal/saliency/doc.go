// Package saliency resolves explainability methods by name and computes
// saliency maps with them.
//
// A Registry is filled once at startup: the inference backend advertises its
// gradient-family methods (Gradient, GradCAM, MMGradient, ...) and the
// built-in Occlusion method needs nothing but Classify. Resolving a name that
// was never registered fails with ErrUnknownMethod, which is a configuration
// error for the whole run.
package saliency
