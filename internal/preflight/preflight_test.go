package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vqaexplain/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckOutputDirectory_NotYetCreated(t *testing.T) {
	result := CheckOutputDirectory("save", filepath.Join(t.TempDir(), "results", "run1"))
	if !result.Passed {
		t.Fatalf("expected pass for creatable dir, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "will be created") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckBackend_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckBackend(context.Background(), srv.URL, "secret")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckBackend_Failing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	result := CheckBackend(context.Background(), srv.URL, "")
	if result.Passed {
		t.Fatal("expected failure for 503")
	}
}

func TestCheckBackend_MissingURL(t *testing.T) {
	if result := CheckBackend(context.Background(), "", ""); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckProtocol(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteProtocol(t, cfg, `{1: {Q: "What color is the car?", A: "red", I: "car.jpg"}, 2: {Q: "Where is the dog?", A: "park", I: "dog.png"}}`)
	testsupport.WriteProtocolImage(t, cfg, "car.jpg")

	result := CheckProtocol(cfg)
	if result.Passed || !strings.Contains(result.Detail, "1 images missing (dog.png)") {
		t.Fatalf("expected missing dog image, got %+v", result)
	}

	testsupport.WriteProtocolImage(t, cfg, "dog.png")
	if result := CheckProtocol(cfg); !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithReportDir())
	cfg.Backend.BaseURL = srv.URL
	if err := os.MkdirAll(cfg.Paths.ModelDir, 0o755); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteProtocol(t, cfg, `{1: {Q: "What color is the car?", A: "red", I: "car.jpg"}}`)
	testsupport.WriteProtocolImage(t, cfg, "car.jpg")

	results := RunAll(context.Background(), cfg)
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}
