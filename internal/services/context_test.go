package services_test

import (
	"context"
	"testing"

	"vqaexplain/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithEntryID(ctx, "7")
	ctx = services.WithMethod(ctx, "Gradient")
	ctx = services.WithAnalysisType(ctx, "OR")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-1" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if id, ok := services.EntryIDFromContext(ctx); !ok || id != "7" {
		t.Fatalf("unexpected entry id: %v %v", id, ok)
	}
	if m, ok := services.MethodFromContext(ctx); !ok || m != "Gradient" {
		t.Fatalf("unexpected method: %v %v", m, ok)
	}
	if at, ok := services.AnalysisTypeFromContext(ctx); !ok || at != "OR" {
		t.Fatalf("unexpected analysis type: %v %v", at, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithMethod(ctx, "")
	ctx = services.WithEntryID(ctx, "")
	if _, ok := services.MethodFromContext(ctx); ok {
		t.Fatal("expected no method value")
	}
	if _, ok := services.EntryIDFromContext(ctx); ok {
		t.Fatal("expected no entry id value")
	}
}
