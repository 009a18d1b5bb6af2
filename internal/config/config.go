package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// AppName is used for XDG directory names and the project-local config file.
const AppName = "vqaexplain"

// Paths contains model, protocol, and output locations.
type Paths struct {
	ModelDir     string `toml:"model_dir"`
	TorchCache   string `toml:"torch_cache"`
	ProtocolDir  string `toml:"protocol_dir"`
	ProtocolName string `toml:"protocol_name"`
	ReportDir    string `toml:"report_dir"`
	SavePath     string `toml:"save_path"`
}

// Backend contains connection settings for the inference backend that hosts
// the VQA model, its saliency methods, and the object-removal model.
type Backend struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Analysis selects what the protocol runner evaluates.
type Analysis struct {
	ExplainabilityMethods []string `toml:"explainability_methods"`
	// AnalysisTypes lists perturbations to apply. Normal is always evaluated
	// first and does not need to be listed.
	AnalysisTypes []string `toml:"analysis_types"`
	// ShowAll stacks every per-analysis artifact of a group into combined.png.
	ShowAll           bool `toml:"show_all"`
	TopK              int  `toml:"top_k"`
	RemovalCandidates int  `toml:"removal_candidates"`
}

// Noise parameterizes the visual and textual noise perturbations.
type Noise struct {
	Seed         int64   `toml:"seed"`
	VisualStdDev float64 `toml:"visual_stddev"`
	TextualRate  float64 `toml:"textual_rate"`
}

// Occlusion configures the built-in black-box occlusion saliency method.
type Occlusion struct {
	Grid int `toml:"grid"`
	Fill int `toml:"fill"`
}

// Ledger contains configuration for the SQLite run ledger.
type Ledger struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // Default: <save_path>/explainer.db
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for a protocol run.
//
// Configuration sections by subsystem:
//   - Paths: model, protocol, report, and output locations
//   - Backend: inference backend connection
//   - Analysis: explainability methods, analysis types, compositing
//   - Noise: visual/textual perturbation parameters
//   - Occlusion: built-in occlusion saliency parameters
//   - Ledger: SQLite run history
//   - Logging: log format, level, and archived run-log retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Backend   Backend   `toml:"backend"`
	Analysis  Analysis  `toml:"analysis"`
	Noise     Noise     `toml:"noise"`
	Occlusion Occlusion `toml:"occlusion"`
	Ledger    Ledger    `toml:"ledger"`
	Logging   Logging   `toml:"logging"`
}

// LoadOption mutates the parsed configuration before normalization, which is
// how command-line flags take precedence over the file.
type LoadOption func(*Config)

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(filepath.Join(xdg.ConfigHome, AppName, "config.toml"))
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string, opts ...LoadOption) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(AppName + ".toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the output directories a run writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.SavePath}
	if strings.TrimSpace(c.Paths.ReportDir) != "" {
		dirs = append(dirs, c.Paths.ReportDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ModelName returns the trained model's name, taken from the last element of model_dir.
func (c *Config) ModelName() string {
	dir := strings.TrimRight(strings.TrimSpace(c.Paths.ModelDir), string(filepath.Separator))
	if dir == "" {
		return ""
	}
	return filepath.Base(dir)
}

// ProtocolPath returns the protocol file location.
func (c *Config) ProtocolPath() string {
	return filepath.Join(c.Paths.ProtocolDir, c.Paths.ProtocolName)
}

// ImagesDir returns the directory holding protocol images.
func (c *Config) ImagesDir() string {
	return filepath.Join(c.Paths.ProtocolDir, "imgs")
}

// RemovalCacheDir returns the root of the object-removal cache.
func (c *Config) RemovalCacheDir() string {
	return filepath.Join(c.Paths.ProtocolDir, "removal_results")
}

// ExplainabilityDir returns the root of the per-method artifact tree.
func (c *Config) ExplainabilityDir() string {
	return filepath.Join(c.Paths.SavePath, "explainability")
}

// RunLogPath returns the run log location.
func (c *Config) RunLogPath() string {
	return filepath.Join(c.Paths.SavePath, "explainer.log")
}

// LedgerPath returns the SQLite run ledger location.
func (c *Config) LedgerPath() string {
	if p := strings.TrimSpace(c.Ledger.Path); p != "" {
		return p
	}
	return filepath.Join(c.Paths.SavePath, "explainer.db")
}

// LockPath returns the advisory lock guarding a save_path against concurrent runs.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.SavePath, ".explainer.lock")
}

// AnalysisTypeNames returns the configured analysis types with Normal first
// and duplicates removed.
func (c *Config) AnalysisTypeNames() []string {
	names := []string{analysisNormal}
	seen := map[string]struct{}{analysisNormal: {}}
	for _, name := range c.Analysis.AnalysisTypes {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultTorchCache() string {
	return filepath.Join(xdg.CacheHome, "torch")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
