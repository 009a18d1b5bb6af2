package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"vqaexplain/internal/composite"
	"vqaexplain/internal/imageio"
	"vqaexplain/internal/logging"
	"vqaexplain/internal/model"
	"vqaexplain/internal/perturb"
	"vqaexplain/internal/protocol"
	"vqaexplain/internal/recorder"
	"vqaexplain/internal/render"
	"vqaexplain/internal/saliency"
	"vqaexplain/internal/services"
	"vqaexplain/internal/textutil"
	"vqaexplain/internal/vocab"
)

// DefaultTopK is the number of ranked answers requested per classification.
const DefaultTopK = 5

// Options wires the collaborators of a Dispatcher.
type Options struct {
	Model      model.Model
	Gate       *vocab.Gate
	Methods    []saliency.Method
	Strategies *perturb.Set
	Steps      []perturb.Step
	Recorder   *recorder.Recorder
	ImagesDir  string
	OutputRoot string // <save_path>/explainability
	TopK       int
	ShowAll    bool
	Logger     *slog.Logger
}

// Summary counts what a run did.
type Summary struct {
	Entries        int
	SkippedEntries int
	Artifacts      int
	Composites     int
	Skips          int
	Failures       int
}

// Dispatcher executes protocol entries against the configured methods and
// analysis types.
type Dispatcher struct {
	opts    Options
	logger  *slog.Logger
	summary Summary
}

// New validates opts and returns a dispatcher.
func New(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Model == nil:
		return nil, errors.New("dispatch: model is required")
	case opts.Recorder == nil:
		return nil, errors.New("dispatch: recorder is required")
	case opts.Strategies == nil:
		return nil, errors.New("dispatch: perturbation strategies are required")
	case len(opts.Methods) == 0:
		return nil, services.Wrap(services.ErrConfiguration, "dispatch", "init", "no explainability methods configured", nil)
	case opts.OutputRoot == "":
		return nil, errors.New("dispatch: output root is required")
	}
	if opts.Gate == nil {
		opts.Gate = vocab.NewGate(opts.Model.Vocabulary())
	}
	if len(opts.Steps) == 0 {
		opts.Steps = perturb.Plan(nil)
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Dispatcher{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "dispatch"),
	}, nil
}

// GroupDir returns the artifact directory of an (entry, method) pair.
func GroupDir(root, method string, entry protocol.Entry) string {
	return filepath.Join(root, method, entry.ImageStem(), textutil.NormalizeQuestion(entry.Question))
}

// ArtifactName returns the filename of an analysis type's artifact.
func ArtifactName(t perturb.AnalysisType) string {
	return fmt.Sprintf("%d_%s.png", t.Index(), t.Slug())
}

// Run processes entries in order. It returns early only on cancellation or
// a configuration error; the summary covers the work done until then.
func (d *Dispatcher) Run(ctx context.Context, entries []protocol.Entry) (Summary, error) {
	d.summary = Summary{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return d.summary, err
		}
		if err := d.runEntry(ctx, entry); err != nil {
			return d.summary, err
		}
	}
	return d.summary, nil
}

func (d *Dispatcher) runEntry(ctx context.Context, entry protocol.Entry) error {
	ctx = services.WithEntryID(ctx, entry.ID)
	d.summary.Entries++

	if !d.opts.Gate.Admits(entry.Answer) {
		d.opts.Recorder.VocabularyMiss(ctx, entry)
		d.summary.SkippedEntries++
		return nil
	}

	img, err := imageio.Load(entry.ImagePath(d.opts.ImagesDir))
	if err != nil {
		d.opts.Recorder.Failure(ctx, entry, "", "", err)
		d.summary.SkippedEntries++
		d.summary.Failures++
		return nil
	}
	logging.WithContext(ctx, d.logger).Info("Running explainability protocol",
		logging.String("image", entry.ImageName),
		logging.String(logging.FieldEventType, "entry_start"),
	)

	base := perturb.Input{Image: img, Question: entry.Question}
	for _, method := range d.opts.Methods {
		err := d.runMethod(services.WithMethod(ctx, method.Name()), entry, method, base)
		if err == nil {
			continue
		}
		if services.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		// Entry-scoped failure: remaining methods of this entry are skipped.
		return nil
	}
	return nil
}

func (d *Dispatcher) runMethod(ctx context.Context, entry protocol.Entry, method saliency.Method, base perturb.Input) error {
	m := newMachine(logging.WithContext(ctx, d.logger))
	if err := m.advance(StateAnswerResolved); err != nil {
		return err
	}
	d.opts.Recorder.BeginEntry(ctx, entry, method.Name())
	if err := m.advance(StateAnalyzing); err != nil {
		return err
	}

	groupDir := GroupDir(d.opts.OutputRoot, method.Name(), entry)
	for _, step := range d.opts.Steps {
		stepCtx := services.WithAnalysisType(ctx, step.Name)
		if !step.Known {
			if err := perturb.CheckUnknown(step, entry); err != nil {
				m.abort()
				d.fatal(stepCtx, err)
				return err
			}
			d.opts.Recorder.UnimplementedType(stepCtx, entry, step.Name)
			continue
		}

		err := d.analyze(stepCtx, entry, method, step, base, groupDir)
		switch {
		case err == nil:
		case errors.Is(err, perturb.ErrNotApplicable):
			d.opts.Recorder.Skip(stepCtx, entry, method.Name(), step.Name, err.Error())
			d.summary.Skips++
		case ctx.Err() != nil:
			m.abort()
			return ctx.Err()
		case services.IsFatal(err):
			m.abort()
			d.fatal(stepCtx, err)
			return err
		case services.Scope(err) == "entry":
			m.abort()
			d.opts.Recorder.Failure(stepCtx, entry, method.Name(), step.Name, err)
			d.summary.Failures++
			return err
		default:
			d.opts.Recorder.Failure(stepCtx, entry, method.Name(), step.Name, err)
			d.summary.Failures++
		}
	}

	if d.opts.ShowAll {
		out, _, err := composite.Combine(groupDir)
		if err != nil {
			d.opts.Recorder.Failure(ctx, entry, method.Name(), "combined", err)
			d.summary.Failures++
		} else {
			d.opts.Recorder.Composite(ctx, entry, out)
			d.summary.Composites++
			if err := m.advance(StateComposited); err != nil {
				return err
			}
		}
	}
	return m.advance(StateDone)
}

// analyze runs one analysis type: perturb, classify, resolve the predicted
// category, compute saliency, render and persist.
func (d *Dispatcher) analyze(ctx context.Context, entry protocol.Entry, method saliency.Method, step perturb.Step, base perturb.Input, groupDir string) error {
	strategy, ok := d.opts.Strategies.Strategy(step.Type)
	if !ok {
		return services.Wrap(services.ErrConfiguration, "dispatch", "perturb",
			fmt.Sprintf("no strategy wired for analysis type %s", step.Name), nil)
	}
	in, err := strategy.Apply(ctx, entry, base)
	if err != nil {
		return err
	}

	preds, err := d.opts.Model.Classify(ctx, in.Image, in.Question, d.opts.TopK)
	if err != nil {
		return err
	}
	d.opts.Recorder.Predictions(ctx, entry, method.Name(), step.Name, preds)
	if len(preds) == 0 {
		return services.Wrap(services.ErrExternalTool, "dispatch", "classify", "model returned no predictions", nil)
	}

	top := preds[0]
	predicted := d.opts.Gate.Resolve(top.Answer)
	if predicted == model.UnknownCategory {
		logging.WarnWithContext(logging.WithContext(ctx, d.logger), "predicted answer outside the model vocabulary", "prediction_unknown",
			logging.String("predicted", top.Answer),
			logging.String(logging.FieldImpact, "analysis type skipped"),
			logging.String(logging.FieldErrorHint, "the backend vocabulary does not match the loaded model"),
		)
		d.opts.Recorder.Skip(ctx, entry, method.Name(), step.Name, "predicted answer not in vocabulary: "+top.Answer)
		d.summary.Skips++
		return nil
	}

	sal, err := method.Compute(ctx, saliency.Request{
		Model:      d.opts.Model,
		Image:      in.Image,
		Question:   in.Question,
		CategoryID: predicted,
	})
	if err != nil {
		return err
	}

	rendered, err := render.Comparison(in.Image, sal, render.Metadata{
		Model:        d.opts.Model.Name(),
		Method:       method.Name(),
		AnalysisType: step.Name,
		Question:     in.Question,
		Answer:       entry.Answer,
		Predicted:    top.Answer,
		Probability:  top.Probability,
	})
	if err != nil {
		return services.Wrap(services.ErrValidation, "dispatch", "render", method.Name(), err)
	}

	path := filepath.Join(groupDir, ArtifactName(step.Type))
	if err := imageio.SavePNG(path, rendered); err != nil {
		return fmt.Errorf("dispatch: save artifact %s: %w", path, err)
	}
	d.opts.Recorder.Artifact(ctx, entry, method.Name(), step.Name, step.Type.Index(), path)
	d.summary.Artifacts++
	return nil
}

func (d *Dispatcher) fatal(ctx context.Context, err error) {
	logging.ErrorWithContext(logging.WithContext(ctx, d.logger), "run aborted", "run_aborted",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "fix the configuration and re-run"),
	)
}
