package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vqaexplain/internal/testsupport"
)

func TestRunCommandEndToEnd(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithAnalysisTypes("OR"), testsupport.WithShowAll(true), testsupport.WithLedger())

	out, _, err := runCLI(t, []string{"run", "--quiet"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	requireContains(t, out, "completed")
	requireContains(t, out, "demo_model")

	group := filepath.Join(env.cfg.ExplainabilityDir(), "Gradient", "car", "what_color_is_the_car")
	for _, name := range []string{"0_normal.png", "1_or.png", "combined.png"} {
		if _, err := os.Stat(filepath.Join(group, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(env.cfg.RemovalCacheDir(), "car", "car")); err != nil {
		t.Fatalf("expected removal cache entry: %v", err)
	}
	if got := env.backend.callCount("/health"); got != 1 {
		t.Fatalf("expected preflight health check, got %d calls", got)
	}

	out, _, err = runCLI(t, []string{"runs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, "demo_model")
	requireContains(t, out, "completed")

	out, _, err = runCLI(t, []string{"runs", "list", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("runs list --json: %v", err)
	}
	requireContains(t, out, `"Status": "completed"`)
	id := extractRunID(t, out)

	out, _, err = runCLI(t, []string{"runs", "show", id[:8]}, env.configPath)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	requireContains(t, out, id)
	requireContains(t, out, "Top predictions")
	requireContains(t, out, "red")
	requireContains(t, out, "2 artifacts recorded")

	out, _, err = runCLI(t, []string{"cache", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	requireContains(t, out, "car")
	requireContains(t, out, "1 entries")

	out, _, err = runCLI(t, []string{"cache", "clear", "--image", "car", "--object", "car"}, env.configPath)
	if err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	requireContains(t, out, "Removed car/car")
	if _, err := os.Stat(filepath.Join(env.cfg.RemovalCacheDir(), "car", "car")); !os.IsNotExist(err) {
		t.Fatalf("expected cache entry removed, stat err=%v", err)
	}
}

func TestRunCommandFlagsOverrideConfig(t *testing.T) {
	env := setupCLITestEnv(t)
	override := filepath.Join(t.TempDir(), "override")

	out, _, err := runCLI(t, []string{"run", "--quiet", "--skip-preflight", "--save-path", override, "--show-all=false"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	group := filepath.Join(override, "explainability", "Gradient", "car", "what_color_is_the_car")
	if _, err := os.Stat(filepath.Join(group, "0_normal.png")); err != nil {
		t.Fatalf("expected artifact under overridden save path: %v", err)
	}
	if _, err := os.Stat(filepath.Join(group, "combined.png")); !os.IsNotExist(err) {
		t.Fatalf("expected no combined.png with --show-all=false, stat err=%v", err)
	}
	if got := env.backend.callCount("/health"); got != 0 {
		t.Fatalf("expected preflight skipped, got %d health calls", got)
	}
}

func TestRunCommandUnknownMethodFails(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"run", "--quiet", "--skip-preflight", "--method", "Nope"}, env.configPath)
	if err == nil {
		t.Fatal("expected run to fail for an unknown method")
	}
	if !strings.Contains(err.Error(), "Nope") {
		t.Fatalf("expected method name in error, got %v", err)
	}
}

func TestRunCommandPreflightFailureStopsRun(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.RemoveAll(env.cfg.Paths.ModelDir); err != nil {
		t.Fatalf("remove model dir: %v", err)
	}

	_, _, err := runCLI(t, []string{"run", "--quiet"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "preflight failed") {
		t.Fatalf("expected preflight failure, got %v", err)
	}
	if got := env.backend.callCount("/load"); got != 0 {
		t.Fatalf("expected no model load after failed preflight, got %d", got)
	}
}

func extractRunID(t *testing.T, jsonOut string) string {
	t.Helper()
	const marker = `"ID": "`
	idx := strings.Index(jsonOut, marker)
	if idx < 0 {
		t.Fatalf("no run id in output:\n%s", jsonOut)
	}
	rest := jsonOut[idx+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		t.Fatalf("unterminated run id in output:\n%s", jsonOut)
	}
	return rest[:end]
}
