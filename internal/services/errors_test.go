package services_test

import (
	"errors"
	"strings"
	"testing"

	"vqaexplain/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "inference", "classify", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"inference", "classify", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestScopeClassification(t *testing.T) {
	cases := []struct {
		err   error
		scope string
		fatal bool
	}{
		{nil, "", false},
		{services.Wrap(services.ErrConfiguration, "saliency", "resolve", "unknown", nil), "run", true},
		{services.Wrap(services.ErrCacheCorrupt, "removal", "load", "missing", nil), "entry", false},
		{services.Wrap(services.ErrExternalTool, "inference", "classify", "", errors.New("io")), "analysis", false},
	}
	for _, tc := range cases {
		if got := services.Scope(tc.err); got != tc.scope {
			t.Fatalf("Scope(%v) = %q, want %q", tc.err, got, tc.scope)
		}
		if got := services.IsFatal(tc.err); got != tc.fatal {
			t.Fatalf("IsFatal(%v) = %v, want %v", tc.err, got, tc.fatal)
		}
	}
}
