package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"vqaexplain/internal/config"
	"vqaexplain/internal/dispatch"
	"vqaexplain/internal/ledger"
	"vqaexplain/internal/logging"
	"vqaexplain/internal/model"
	"vqaexplain/internal/perturb"
	"vqaexplain/internal/preflight"
	"vqaexplain/internal/protocol"
	"vqaexplain/internal/recorder"
	"vqaexplain/internal/removalcache"
	"vqaexplain/internal/report"
	"vqaexplain/internal/saliency"
	"vqaexplain/internal/services"
	"vqaexplain/internal/services/inference"
)

// ErrLocked is returned when another run holds the save-path lock.
var ErrLocked = errors.New("another run is writing to this save path")

// Backend is everything a run needs from the inference service.
// *inference.Client implements it.
type Backend interface {
	model.Model
	perturb.Remover
	saliency.Backend
}

// Options configures a run.
type Options struct {
	// Console mirrors run log records; nil keeps them in the log file only.
	Console io.Writer
	// Backend replaces the HTTP inference client. The caller is then
	// responsible for having loaded the model.
	Backend Backend
	// Preflight runs the preflight checks before anything else and fails the
	// run when one of them does not pass.
	Preflight bool
}

// Result describes a finished run.
type Result struct {
	RunID      string
	Model      string
	Status     ledger.Status
	Summary    dispatch.Summary
	Totals     ledger.Totals
	LogPath    string
	ReportPath string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Run executes the configured protocol once. The returned Result is
// populated as far as the run got, also when an error is returned.
func Run(ctx context.Context, cfg *config.Config, opts Options) (Result, error) {
	if cfg == nil {
		return Result{}, errors.New("config is required")
	}
	if err := cfg.ValidateRun(); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "runner", "validate", "invalid run configuration", err)
	}

	if opts.Preflight {
		if failed := preflight.Failed(preflight.RunAll(ctx, cfg)); len(failed) > 0 {
			details := make([]string, 0, len(failed))
			for _, r := range failed {
				details = append(details, fmt.Sprintf("%s: %s", r.Name, r.Detail))
			}
			return Result{}, services.Wrap(services.ErrConfiguration, "runner", "preflight",
				"preflight failed: "+strings.Join(details, "; "), nil)
		}
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "runner", "prepare", "create output directories", err)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return Result{}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return Result{}, fmt.Errorf("%w (%s)", ErrLocked, cfg.LockPath())
	}
	defer func() { _ = lock.Unlock() }()

	res := Result{
		RunID:     uuid.NewString(),
		Model:     cfg.ModelName(),
		LogPath:   cfg.RunLogPath(),
		StartedAt: time.Now().UTC(),
	}
	ctx = services.WithRunID(ctx, res.RunID)

	runLog, err := logging.NewRunLogger(cfg, opts.Console)
	if err != nil {
		return res, fmt.Errorf("init run log: %w", err)
	}
	defer runLog.Close()
	base := runLog.Logger
	logger := logging.WithContext(ctx, logging.NewComponentLogger(base, "runner"))

	var store *ledger.Store
	if cfg.Ledger.Enabled {
		store, err = ledger.Open(ctx, cfg.LedgerPath())
		if err != nil {
			logging.WarnWithContext(logger, "run ledger unavailable", "ledger_open_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check ledger.path permissions"),
				logging.String(logging.FieldImpact, "run history will not be recorded"),
			)
			store = nil
		} else {
			defer store.Close()
		}
	}

	var sink recorder.Sink
	if store != nil {
		sink = store
		if err := store.StartRun(ctx, ledger.Run{
			ID:            res.RunID,
			Model:         res.Model,
			ProtocolPath:  cfg.ProtocolPath(),
			SavePath:      cfg.Paths.SavePath,
			Methods:       cfg.Analysis.ExplainabilityMethods,
			AnalysisTypes: cfg.AnalysisTypeNames(),
			StartedAt:     res.StartedAt,
		}); err != nil {
			logging.WarnWithContext(logger, "run ledger start failed", "ledger_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run history will not be recorded"),
			)
			sink = nil
			store = nil
		}
	}
	rec := recorder.New(base, res.RunID, sink)
	rec.Header(ctx, res.Model)

	summary, runErr := execute(ctx, cfg, opts, rec, base, logger)
	res.Summary = summary
	res.Totals = rec.Totals()
	res.FinishedAt = time.Now().UTC()
	res.Status = statusOf(ctx, runErr)

	if store != nil {
		// The run context may already be canceled; the final row still has
		// to land.
		finishCtx := context.WithoutCancel(ctx)
		if err := store.FinishRun(finishCtx, res.RunID, res.Status, res.Totals, runErr); err != nil {
			logging.WarnWithContext(logger, "run ledger finish failed", "ledger_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run stays marked as running in history"),
			)
		}
	}

	if strings.TrimSpace(cfg.Paths.ReportDir) != "" {
		path, err := report.WriteFile(cfg.Paths.ReportDir, report.Run{
			ID:            res.RunID,
			Model:         res.Model,
			ProtocolPath:  cfg.ProtocolPath(),
			Methods:       cfg.Analysis.ExplainabilityMethods,
			AnalysisTypes: cfg.AnalysisTypeNames(),
			Status:        res.Status,
			StartedAt:     res.StartedAt,
			FinishedAt:    res.FinishedAt,
			Error:         errorText(runErr),
			Totals:        res.Totals,
		}, rec.Entries())
		if err != nil {
			logging.WarnWithContext(logger, "report write failed", "report_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.report_dir permissions"),
				logging.String(logging.FieldImpact, "no markdown report for this run"),
			)
		} else {
			res.ReportPath = path
			logger.Info("report written",
				logging.String(logging.FieldEventType, "report_written"),
				logging.String("path", path),
			)
		}
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_finished"),
		logging.String("status", string(res.Status)),
		logging.Int("entries", summary.Entries),
		logging.Int("skipped_entries", summary.SkippedEntries),
		logging.Int("artifacts", summary.Artifacts),
		logging.Int("composites", summary.Composites),
		logging.Int("skips", summary.Skips),
		logging.Int("failures", summary.Failures),
		logging.Duration("duration", res.FinishedAt.Sub(res.StartedAt)),
	}
	if runErr != nil {
		logging.ErrorWithContext(logger, "protocol run stopped", "run_finished",
			append(attrs, logging.Error(runErr))...)
	} else {
		logger.Info("protocol run finished", logging.Args(attrs...)...)
	}
	return res, runErr
}

// execute loads the model and protocol and runs the dispatcher.
func execute(ctx context.Context, cfg *config.Config, opts Options, rec *recorder.Recorder, base, logger *slog.Logger) (dispatch.Summary, error) {
	backend := opts.Backend
	if backend == nil {
		client, err := connect(ctx, cfg, logger)
		if err != nil {
			return dispatch.Summary{}, err
		}
		backend = client
	}

	methods, err := resolveMethods(ctx, cfg, backend, logger)
	if err != nil {
		return dispatch.Summary{}, err
	}

	entries, err := protocol.Load(cfg.ProtocolPath())
	if err != nil {
		return dispatch.Summary{}, err
	}
	logger.Info("protocol loaded",
		logging.String(logging.FieldEventType, "protocol_loaded"),
		logging.String("path", cfg.ProtocolPath()),
		logging.Int("entries", len(entries)),
	)

	cache := removalcache.New(cfg.RemovalCacheDir(), base)
	strategies := perturb.NewSet(
		perturb.Identity{},
		perturb.NewRemoval(cache, backend, cfg.Analysis.RemovalCandidates, base),
		perturb.Visual{StdDev: cfg.Noise.VisualStdDev, Seed: cfg.Noise.Seed},
		perturb.Textual{Vocab: backend.Vocabulary(), Rate: cfg.Noise.TextualRate, Seed: cfg.Noise.Seed},
	)

	d, err := dispatch.New(dispatch.Options{
		Model:      backend,
		Methods:    methods,
		Strategies: strategies,
		Steps:      perturb.Plan(cfg.Analysis.AnalysisTypes),
		Recorder:   rec,
		ImagesDir:  cfg.ImagesDir(),
		OutputRoot: cfg.ExplainabilityDir(),
		TopK:       cfg.Analysis.TopK,
		ShowAll:    cfg.Analysis.ShowAll,
		Logger:     base,
	})
	if err != nil {
		return dispatch.Summary{}, err
	}
	return d.Run(ctx, entries)
}

func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*inference.Client, error) {
	client, err := inference.New(cfg.Backend.BaseURL,
		inference.WithToken(cfg.Backend.APIToken),
		inference.WithTimeout(time.Duration(cfg.Backend.TimeoutSeconds)*time.Second),
	)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "runner", "connect", "invalid backend settings", err)
	}
	if err := client.Load(ctx, cfg.Paths.ModelDir, cfg.Paths.TorchCache); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "runner", "load model",
			fmt.Sprintf("backend could not load %s", cfg.Paths.ModelDir), err)
	}
	logger.Info("model loaded",
		logging.String(logging.FieldEventType, "model_loaded"),
		logging.String("model", client.Name()),
		logging.Int("answers", client.Vocabulary().Size()),
	)
	return client, nil
}

// resolveMethods registers the built-in methods plus whatever the backend
// serves, then resolves the configured names in order.
func resolveMethods(ctx context.Context, cfg *config.Config, backend saliency.Backend, logger *slog.Logger) ([]saliency.Method, error) {
	registry := saliency.NewRegistry()
	if err := registry.Register(saliency.NewOcclusion(cfg.Occlusion.Grid, uint8(cfg.Occlusion.Fill))); err != nil {
		return nil, err
	}
	added, err := saliency.RegisterRemote(ctx, registry, backend)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.WarnWithContext(logger, "backend saliency methods unavailable", "saliency_methods_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "only built-in methods can be used"),
		)
	}
	logger.Debug("saliency methods registered",
		logging.String(logging.FieldEventType, "saliency_methods_registered"),
		logging.Any("remote", added),
		logging.Any("available", registry.Names()),
	)
	return registry.ResolveAll(cfg.Analysis.ExplainabilityMethods)
}

func statusOf(ctx context.Context, err error) ledger.Status {
	switch {
	case err == nil:
		return ledger.StatusCompleted
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return ledger.StatusCanceled
	default:
		return ledger.StatusFailed
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
