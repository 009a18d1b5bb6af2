package main

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"vqaexplain/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Normal, OR, VisualNoise, TextualNoise")

	if _, _, err := runCLI(t, []string{"config", "validate", "--run"}, target); err == nil {
		t.Fatal("expected --run validation to fail on the empty sample paths")
	}
}

func TestCompositeCommandRebuildsGroups(t *testing.T) {
	root := t.TempDir()
	group := filepath.Join(root, "Gradient", "car", "what_color_is_the_car")
	testsupport.WritePNG(t, filepath.Join(group, "0_normal.png"), testsupport.Image(8, 6, color.RGBA{R: 255, A: 255}))
	testsupport.WritePNG(t, filepath.Join(group, "1_or.png"), testsupport.Image(8, 6, color.RGBA{G: 255, A: 255}))
	empty := filepath.Join(root, "Gradient", "dog", "what_is_this")
	testsupport.WritePNG(t, filepath.Join(empty, "combined.png"), testsupport.Image(4, 4, color.RGBA{A: 255}))

	configPath := filepath.Join(t.TempDir(), "missing.toml")
	out, _, err := runCLI(t, []string{"composite", root}, configPath)
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	requireContains(t, out, "2 groups, 1 failed")
	requireContains(t, out, "no inputs")

	combined := testsupport.DecodePNG(t, filepath.Join(group, "combined.png"))
	if got := combined.Bounds().Dy(); got != 12 {
		t.Fatalf("expected stacked height 12, got %d", got)
	}
}

func TestRunsListWithoutLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)

	out, _, err := runCLI(t, []string{"runs", "list"}, configPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, "No run ledger")
}

func TestCacheListEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)

	out, _, err := runCLI(t, []string{"cache", "list"}, configPath)
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	requireContains(t, out, "Cached removals: none")
}

func TestCacheClearRequiresBothFlags(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)

	if _, _, err := runCLI(t, []string{"cache", "clear", "--image", "car"}, configPath); err == nil {
		t.Fatal("expected an error when --object is missing")
	}
}

func TestPreflightCommandReportsFailures(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"preflight"}, env.configPath)
	if err != nil {
		t.Fatalf("preflight: %v\n%s", err, out)
	}
	requireContains(t, out, "All checks passed")

	out, _, err = runCLI(t, []string{"preflight", "--protocol-name", "missing.txt"}, env.configPath)
	if err == nil {
		t.Fatal("expected preflight to fail for a missing protocol")
	}
	requireContains(t, out, "[ERROR]")
}
