package services

import "context"

type contextKey string

const (
	runIDKey        contextKey = "run_id"
	entryIDKey      contextKey = "entry_id"
	methodKey       contextKey = "method"
	analysisTypeKey contextKey = "analysis_type"
)

// WithRunID annotates context with the run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithEntryID annotates context with the protocol entry identifier.
func WithEntryID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, entryIDKey, id)
}

// EntryIDFromContext extracts the protocol entry identifier if present.
func EntryIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(entryIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithMethod annotates context with the explainability method name.
func WithMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, methodKey, method)
}

// MethodFromContext returns the explainability method name if present.
func MethodFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(methodKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAnalysisType annotates context with the analysis type being evaluated.
func WithAnalysisType(ctx context.Context, analysisType string) context.Context {
	if analysisType == "" {
		return ctx
	}
	return context.WithValue(ctx, analysisTypeKey, analysisType)
}

// AnalysisTypeFromContext returns the analysis type if present.
func AnalysisTypeFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(analysisTypeKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
