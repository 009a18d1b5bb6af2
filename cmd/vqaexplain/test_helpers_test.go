package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"vqaexplain/internal/config"
	"vqaexplain/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	backend    *fakeBackend
}

// setupCLITestEnv writes a config pointing at a fake inference backend and a
// one-entry protocol with its image.
func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	backend := newFakeBackend(t)
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Backend.BaseURL = backend.server.URL
	cfg.Backend.TimeoutSeconds = 10
	if err := os.MkdirAll(cfg.Paths.ModelDir, 0o755); err != nil {
		t.Fatalf("mkdir model dir: %v", err)
	}
	testsupport.WriteProtocol(t, cfg, `{'1': {'Q': 'What color is the car?', 'A': 'red', 'I': 'car.jpg', 'R': 'car'}}`)
	testsupport.WriteProtocolImage(t, cfg, "car.jpg")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, backend: backend}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n%s", needle, haystack)
	}
}

// fakeBackend serves the inference HTTP API with a fixed vocabulary and
// ranking. Object removal echoes the input image.
type fakeBackend struct {
	server *httptest.Server

	mu    sync.Mutex
	calls map[string]int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{calls: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		b.count(r)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /load", func(w http.ResponseWriter, r *http.Request) {
		b.count(r)
		writeTestJSON(w, map[string]string{"model_name": "demo_model"})
	})
	mux.HandleFunc("GET /vocab", func(w http.ResponseWriter, r *http.Request) {
		b.count(r)
		writeTestJSON(w, map[string][]string{
			"answers":         {"<unk>", "red", "blue"},
			"question_tokens": {"what", "color", "is", "the", "car"},
		})
	})
	mux.HandleFunc("POST /classify", func(w http.ResponseWriter, r *http.Request) {
		b.count(r)
		writeTestJSON(w, map[string]any{"predictions": []map[string]any{
			{"answer": "red", "probability": 0.7},
			{"answer": "blue", "probability": 0.2},
		}})
	})
	mux.HandleFunc("GET /methods", func(w http.ResponseWriter, r *http.Request) {
		b.count(r)
		writeTestJSON(w, map[string][]string{"methods": {"Gradient"}})
	})
	mux.HandleFunc("POST /saliency", func(w http.ResponseWriter, r *http.Request) {
		b.count(r)
		writeTestJSON(w, map[string]any{"width": 2, "height": 2, "values": []float64{0, 0.25, 0.5, 1}})
	})
	mux.HandleFunc("POST /remove_object", func(w http.ResponseWriter, r *http.Request) {
		b.count(r)
		var req struct {
			Image     string `json:"image"`
			ImageName string `json:"image_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeTestJSON(w, map[string]any{"images": []map[string]string{{"name": req.ImageName, "data": req.Image}}})
	})
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) count(r *http.Request) {
	b.mu.Lock()
	b.calls[r.URL.Path]++
	b.mu.Unlock()
}

func (b *fakeBackend) callCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
