package config

const (
	analysisNormal = "Normal"

	defaultBackendURL            = "http://127.0.0.1:8765"
	defaultBackendTimeoutSeconds = 300
	defaultMethod                = "Gradient"
	defaultShowAll               = true
	defaultTopK                  = 5
	defaultRemovalCandidates     = 3
	defaultNoiseSeed             = 42
	defaultVisualStdDev          = 0.1
	defaultTextualRate           = 0.25
	defaultOcclusionGrid         = 7
	defaultOcclusionFill         = 128
	defaultLedgerEnabled         = true
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			TorchCache: defaultTorchCache(),
		},
		Backend: Backend{
			BaseURL:        defaultBackendURL,
			TimeoutSeconds: defaultBackendTimeoutSeconds,
		},
		Analysis: Analysis{
			ExplainabilityMethods: []string{defaultMethod},
			ShowAll:               defaultShowAll,
			TopK:                  defaultTopK,
			RemovalCandidates:     defaultRemovalCandidates,
		},
		Noise: Noise{
			Seed:         defaultNoiseSeed,
			VisualStdDev: defaultVisualStdDev,
			TextualRate:  defaultTextualRate,
		},
		Occlusion: Occlusion{
			Grid: defaultOcclusionGrid,
			Fill: defaultOcclusionFill,
		},
		Ledger: Ledger{
			Enabled: defaultLedgerEnabled,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
