package testsupport

import (
	"path/filepath"
	"testing"

	"vqaexplain/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ModelDir = filepath.Join(base, "models", "demo_model")
	cfgVal.Paths.TorchCache = filepath.Join(base, "torch")
	cfgVal.Paths.ProtocolDir = filepath.Join(base, "protocol")
	cfgVal.Paths.ProtocolName = "pilot.txt"
	cfgVal.Paths.SavePath = filepath.Join(base, "results")
	cfgVal.Analysis.ExplainabilityMethods = []string{"Gradient"}
	cfgVal.Analysis.AnalysisTypes = nil
	cfgVal.Ledger.Enabled = false
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMethods sets the explainability methods.
func WithMethods(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Analysis.ExplainabilityMethods = names
	}
}

// WithAnalysisTypes sets the analysis types (Normal is implied).
func WithAnalysisTypes(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Analysis.AnalysisTypes = names
	}
}

// WithShowAll toggles combined artifacts.
func WithShowAll(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Analysis.ShowAll = enabled
	}
}

// WithLedger enables the SQLite run ledger under the save path.
func WithLedger() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ledger.Enabled = true
	}
}

// WithReportDir enables the markdown report.
func WithReportDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.ReportDir = filepath.Join(b.baseDir, "reports")
	}
}
