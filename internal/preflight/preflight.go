package preflight

import (
	"context"
	"strings"

	"vqaexplain/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Model directory", cfg.Paths.ModelDir),
		CheckDirectoryAccess("Protocol directory", cfg.Paths.ProtocolDir),
		CheckProtocol(cfg),
		CheckOutputDirectory("Save path", cfg.Paths.SavePath),
	}
	if strings.TrimSpace(cfg.Paths.ReportDir) != "" {
		results = append(results, CheckOutputDirectory("Report directory", cfg.Paths.ReportDir))
	}
	results = append(results, CheckBackend(ctx, cfg.Backend.BaseURL, cfg.Backend.APIToken))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
