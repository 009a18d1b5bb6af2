package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"vqaexplain/internal/config"
)

// addRunFlags registers the flags that override [paths], [analysis] and
// [backend] settings from the configuration file.
func addRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("model-dir", "", "Trained model directory (overrides paths.model_dir)")
	flags.String("torch-cache", "", "Backend cache location (overrides paths.torch_cache)")
	flags.String("protocol-dir", "", "Protocol directory (overrides paths.protocol_dir)")
	flags.String("protocol-name", "", "Protocol file inside the protocol directory (overrides paths.protocol_name)")
	flags.String("report-dir", "", "Markdown report directory (overrides paths.report_dir)")
	flags.String("save-path", "", "Output root (overrides paths.save_path)")
	flags.StringSlice("method", nil, "Explainability method; repeat or comma-separate (overrides analysis.explainability_methods)")
	flags.StringSlice("analysis-type", nil, "Analysis type after Normal; repeat or comma-separate (overrides analysis.analysis_types)")
	flags.Bool("show-all", false, "Write combined.png per group (overrides analysis.show_all)")
	flags.String("backend-url", "", "Inference backend URL (overrides backend.base_url)")
}

// pathOverrides turns the explicitly set run flags of cmd into load options.
// Commands without those flags yield none.
func pathOverrides(cmd *cobra.Command) []config.LoadOption {
	flags := cmd.Flags()
	var opts []config.LoadOption

	stringFlag := func(name string, apply func(*config.Config, string)) {
		if f := flags.Lookup(name); changed(f) {
			value := f.Value.String()
			opts = append(opts, func(c *config.Config) { apply(c, value) })
		}
	}
	stringFlag("model-dir", func(c *config.Config, v string) { c.Paths.ModelDir = v })
	stringFlag("torch-cache", func(c *config.Config, v string) { c.Paths.TorchCache = v })
	stringFlag("protocol-dir", func(c *config.Config, v string) { c.Paths.ProtocolDir = v })
	stringFlag("protocol-name", func(c *config.Config, v string) { c.Paths.ProtocolName = v })
	stringFlag("report-dir", func(c *config.Config, v string) { c.Paths.ReportDir = v })
	stringFlag("save-path", func(c *config.Config, v string) { c.Paths.SavePath = v })
	stringFlag("backend-url", func(c *config.Config, v string) { c.Backend.BaseURL = v })

	if f := flags.Lookup("method"); changed(f) {
		if methods, err := flags.GetStringSlice("method"); err == nil {
			opts = append(opts, func(c *config.Config) { c.Analysis.ExplainabilityMethods = methods })
		}
	}
	if f := flags.Lookup("analysis-type"); changed(f) {
		if types, err := flags.GetStringSlice("analysis-type"); err == nil {
			opts = append(opts, func(c *config.Config) { c.Analysis.AnalysisTypes = types })
		}
	}
	if f := flags.Lookup("show-all"); changed(f) {
		if showAll, err := flags.GetBool("show-all"); err == nil {
			opts = append(opts, func(c *config.Config) { c.Analysis.ShowAll = showAll })
		}
	}
	return opts
}

func changed(f *pflag.Flag) bool {
	return f != nil && f.Changed
}
