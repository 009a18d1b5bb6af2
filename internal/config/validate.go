package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable by any command.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateNoise(); err != nil {
		return err
	}
	if err := c.validateOcclusion(); err != nil {
		return err
	}
	return c.validateLogging()
}

// ValidateRun checks the settings a protocol run additionally requires.
func (c *Config) ValidateRun() error {
	required := []struct {
		key   string
		value string
	}{
		{"paths.model_dir", c.Paths.ModelDir},
		{"paths.protocol_dir", c.Paths.ProtocolDir},
		{"paths.protocol_name", c.Paths.ProtocolName},
		{"paths.save_path", c.Paths.SavePath},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = "~/.config/vqaexplain/config.toml"
			}
			return fmt.Errorf("%s is required. Pass it as a flag or edit %s (create with 'vqaexplain config init')", field.key, defaultPath)
		}
	}
	if len(c.Analysis.ExplainabilityMethods) == 0 {
		return errors.New("analysis.explainability_methods must include at least one method")
	}
	return nil
}

func (c *Config) validateBackend() error {
	parsed, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https, got %q", c.Backend.BaseURL)
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return errors.New("backend.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if c.Analysis.TopK < 1 {
		return errors.New("analysis.top_k must be >= 1")
	}
	if c.Analysis.RemovalCandidates < 1 {
		return errors.New("analysis.removal_candidates must be >= 1")
	}
	return nil
}

func (c *Config) validateNoise() error {
	if c.Noise.VisualStdDev < 0 || c.Noise.VisualStdDev > 1 {
		return errors.New("noise.visual_stddev must be between 0 and 1")
	}
	if c.Noise.TextualRate < 0 || c.Noise.TextualRate > 1 {
		return errors.New("noise.textual_rate must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateOcclusion() error {
	if c.Occlusion.Grid < 1 {
		return errors.New("occlusion.grid must be >= 1")
	}
	if c.Occlusion.Fill < 0 || c.Occlusion.Fill > 255 {
		return errors.New("occlusion.fill must be between 0 and 255")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}
