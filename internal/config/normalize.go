package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBackend()
	c.normalizeAnalysis()
	if err := c.normalizeLedger(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key   string
		value *string
	}{
		{"paths.model_dir", &c.Paths.ModelDir},
		{"paths.torch_cache", &c.Paths.TorchCache},
		{"paths.protocol_dir", &c.Paths.ProtocolDir},
		{"paths.report_dir", &c.Paths.ReportDir},
		{"paths.save_path", &c.Paths.SavePath},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	if strings.TrimSpace(c.Paths.TorchCache) == "" {
		c.Paths.TorchCache = defaultTorchCache()
	}
	c.Paths.ProtocolName = strings.TrimSpace(c.Paths.ProtocolName)
	return nil
}

func (c *Config) normalizeBackend() {
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaultBackendURL
	}
	if c.Backend.APIToken == "" {
		if value, ok := os.LookupEnv("VQAEXPLAIN_API_TOKEN"); ok {
			c.Backend.APIToken = strings.TrimSpace(value)
		}
	}
	c.Backend.APIToken = strings.TrimSpace(c.Backend.APIToken)
}

func (c *Config) normalizeAnalysis() {
	c.Analysis.ExplainabilityMethods = trimList(c.Analysis.ExplainabilityMethods)
	c.Analysis.AnalysisTypes = trimList(c.Analysis.AnalysisTypes)
	if c.Analysis.TopK <= 0 {
		c.Analysis.TopK = defaultTopK
	}
	if c.Analysis.RemovalCandidates <= 0 {
		c.Analysis.RemovalCandidates = defaultRemovalCandidates
	}
}

func (c *Config) normalizeLedger() error {
	if strings.TrimSpace(c.Ledger.Path) == "" {
		c.Ledger.Path = ""
		return nil
	}
	expanded, err := expandPath(strings.TrimSpace(c.Ledger.Path))
	if err != nil {
		return fmt.Errorf("ledger.path: %w", err)
	}
	c.Ledger.Path = expanded
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// trimList drops blank entries and duplicates while preserving order.
func trimList(values []string) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
