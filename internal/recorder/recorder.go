// Package recorder writes the human-readable account of a protocol run: the
// run header, per-entry prediction summaries in analysis order, and the
// warnings for skipped work. One Recorder exists per run.
//
// Everything recorded is also kept in memory for the markdown report and,
// when a Sink is attached, mirrored into the run ledger.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"vqaexplain/internal/ledger"
	"vqaexplain/internal/logging"
	"vqaexplain/internal/model"
	"vqaexplain/internal/protocol"
	"vqaexplain/internal/services"
)

// Sink receives durable copies of recorded events. *ledger.Store satisfies it.
type Sink interface {
	RecordPredictions(ctx context.Context, runID, entryID, method, analysisType string, preds []model.Prediction) error
	RecordArtifact(ctx context.Context, runID string, artifact ledger.Artifact) error
	RecordSkip(ctx context.Context, runID string, skip ledger.Skip) error
}

// Analysis is the outcome of one (method, analysis type) of an entry.
type Analysis struct {
	Method       string
	AnalysisType string
	Predictions  []model.Prediction
	Artifact     string
	Skipped      string
}

// EntryRecord collects everything recorded for one protocol entry.
type EntryRecord struct {
	Entry      protocol.Entry
	Skipped    string
	Analyses   []Analysis
	Composites []string
}

// Recorder is safe for concurrent use, although the dispatcher records
// sequentially.
type Recorder struct {
	logger *slog.Logger
	sink   Sink
	runID  string

	mu      sync.Mutex
	entries []*EntryRecord
	byID    map[string]*EntryRecord
	totals  ledger.Totals
}

// New returns a recorder logging through logger. sink may be nil.
func New(logger *slog.Logger, runID string, sink Sink) *Recorder {
	return &Recorder{
		logger: logging.NewComponentLogger(logger, "recorder"),
		sink:   sink,
		runID:  runID,
		byID:   map[string]*EntryRecord{},
	}
}

// RunID returns the identifier of the run being recorded.
func (r *Recorder) RunID() string {
	return r.runID
}

// Header writes the run banner naming the model.
func (r *Recorder) Header(ctx context.Context, modelName string) {
	rule := strings.Repeat("-", 40)
	logging.WithContext(ctx, r.logger).Info(
		fmt.Sprintf("%s Running explainer-script for %s %s", rule, modelName, rule),
		logging.String("model", modelName),
		logging.String(logging.FieldEventType, "run_header"),
	)
}

// BeginEntry registers entry and writes its prediction header for method.
func (r *Recorder) BeginEntry(ctx context.Context, entry protocol.Entry, method string) {
	r.entry(entry)
	logging.WithContext(ctx, r.logger).Info(
		fmt.Sprintf("PREDICTIONS: Question: %q Image: %s Answer: %s", entry.Question, entry.ImageName, entry.Answer),
		logging.String(logging.FieldEventType, "entry_started"),
	)
}

// Predictions writes the ranked answers of one analysis type and stores them.
func (r *Recorder) Predictions(ctx context.Context, entry protocol.Entry, method, analysisType string, preds []model.Prediction) {
	var b strings.Builder
	fmt.Fprintf(&b, "Predicted outputs from the model (%s):", analysisType)
	for i, p := range preds {
		fmt.Fprintf(&b, " %d) %s", i+1, p.Answer)
	}
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "predictions")}
	if len(preds) > 0 {
		attrs = append(attrs,
			logging.String("top1", preds[0].Answer),
			logging.Float64("top1_probability", preds[0].Probability),
		)
	}
	logging.WithContext(ctx, r.logger).Info(b.String(), logging.Args(attrs...)...)

	r.mu.Lock()
	rec := r.entryLocked(entry)
	a := rec.analysis(method, analysisType)
	a.Predictions = append([]model.Prediction(nil), preds...)
	r.mu.Unlock()

	if r.sink != nil {
		if err := r.sink.RecordPredictions(ctx, r.runID, entry.ID, method, analysisType, preds); err != nil {
			r.sinkFailed(ctx, "predictions", err)
		}
	}
}

// Artifact notes a rendered comparison image.
func (r *Recorder) Artifact(ctx context.Context, entry protocol.Entry, method, analysisType string, index int, path string) {
	logging.WithContext(ctx, r.logger).Debug("artifact written",
		logging.String("path", path),
		logging.String(logging.FieldEventType, "artifact_written"),
	)

	r.mu.Lock()
	rec := r.entryLocked(entry)
	rec.analysis(method, analysisType).Artifact = path
	r.totals.Artifacts++
	r.mu.Unlock()

	if r.sink != nil {
		err := r.sink.RecordArtifact(ctx, r.runID, ledger.Artifact{
			EntryID:       entry.ID,
			Method:        method,
			AnalysisType:  analysisType,
			AnalysisIndex: index,
			Path:          path,
		})
		if err != nil {
			r.sinkFailed(ctx, "artifact", err)
		}
	}
}

// Composite notes a written combined.png.
func (r *Recorder) Composite(ctx context.Context, entry protocol.Entry, path string) {
	logging.WithContext(ctx, r.logger).Info("combined artifact written",
		logging.String("path", path),
		logging.String(logging.FieldEventType, "composite_written"),
	)
	r.mu.Lock()
	rec := r.entryLocked(entry)
	rec.Composites = append(rec.Composites, path)
	r.mu.Unlock()
}

// VocabularyMiss writes the single warning for an entry whose ground-truth
// answer is outside the model vocabulary.
func (r *Recorder) VocabularyMiss(ctx context.Context, entry protocol.Entry) {
	logging.WarnWithContext(logging.WithContext(ctx, r.logger),
		fmt.Sprintf("The ground truth '%s' not found in answer vocab - skipping", entry.Answer),
		"vocab_miss",
		logging.String("answer", entry.Answer),
		logging.String(logging.FieldImpact, "no analyses run for this entry"),
		logging.String(logging.FieldErrorHint, "check the answer spelling against the model vocabulary"),
	)
	r.skip(ctx, entry, "", "", "answer not in vocabulary: "+entry.Answer)
}

// UnimplementedType warns about an analysis type name nothing can evaluate.
func (r *Recorder) UnimplementedType(ctx context.Context, entry protocol.Entry, name string) {
	logging.WarnWithContext(logging.WithContext(ctx, r.logger),
		fmt.Sprintf("Analysis type - %s - is not implemented", name),
		"analysis_type_unknown",
		logging.String("requested", name),
		logging.String(logging.FieldImpact, "analysis type ignored"),
		logging.String(logging.FieldErrorHint, "use Normal, OR, VisualNoise or TextualNoise"),
	)
}

// Skip notes an analysis type the dispatcher did not evaluate. Empty method
// and analysisType mark the whole entry.
func (r *Recorder) Skip(ctx context.Context, entry protocol.Entry, method, analysisType, reason string) {
	logging.WithContext(ctx, r.logger).Info("analysis skipped",
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "analysis_skipped"),
	)
	r.skip(ctx, entry, method, analysisType, reason)
}

// Failure records a scoped error. The dispatcher continues with the next
// unit of work.
func (r *Recorder) Failure(ctx context.Context, entry protocol.Entry, method, analysisType string, err error) {
	logging.ErrorWithContext(logging.WithContext(ctx, r.logger), "analysis failed", "analysis_failed",
		logging.Error(err),
		logging.String("scope", services.Scope(err)),
		logging.String(logging.FieldImpact, impactOf(err, method == "" && analysisType == "")),
	)
	r.skip(ctx, entry, method, analysisType, err.Error())
}

// Totals returns the counters of everything recorded so far.
func (r *Recorder) Totals() ledger.Totals {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.totals
	t.Entries = len(r.entries)
	return t
}

// Entries returns a snapshot of the recorded entries in first-seen order.
func (r *Recorder) Entries() []EntryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EntryRecord, len(r.entries))
	for i, rec := range r.entries {
		cp := *rec
		cp.Analyses = append([]Analysis(nil), rec.Analyses...)
		cp.Composites = append([]string(nil), rec.Composites...)
		out[i] = cp
	}
	return out
}

func (r *Recorder) skip(ctx context.Context, entry protocol.Entry, method, analysisType, reason string) {
	r.mu.Lock()
	rec := r.entryLocked(entry)
	if method == "" && analysisType == "" {
		rec.Skipped = reason
	} else {
		rec.analysis(method, analysisType).Skipped = reason
	}
	r.totals.Skips++
	r.mu.Unlock()

	if r.sink != nil {
		err := r.sink.RecordSkip(ctx, r.runID, ledger.Skip{
			EntryID:      entry.ID,
			Method:       method,
			AnalysisType: analysisType,
			Reason:       reason,
		})
		if err != nil {
			r.sinkFailed(ctx, "skip", err)
		}
	}
}

func (r *Recorder) sinkFailed(ctx context.Context, what string, err error) {
	logging.WarnWithContext(logging.WithContext(ctx, r.logger), "run ledger write failed", "ledger_write_failed",
		logging.String("record", what),
		logging.Error(err),
		logging.String(logging.FieldImpact, "run history incomplete"),
	)
}

func (r *Recorder) entry(entry protocol.Entry) {
	r.mu.Lock()
	r.entryLocked(entry)
	r.mu.Unlock()
}

func (r *Recorder) entryLocked(entry protocol.Entry) *EntryRecord {
	if rec, ok := r.byID[entry.ID]; ok {
		return rec
	}
	rec := &EntryRecord{Entry: entry}
	r.byID[entry.ID] = rec
	r.entries = append(r.entries, rec)
	return rec
}

func (e *EntryRecord) analysis(method, analysisType string) *Analysis {
	for i := range e.Analyses {
		if e.Analyses[i].Method == method && e.Analyses[i].AnalysisType == analysisType {
			return &e.Analyses[i]
		}
	}
	e.Analyses = append(e.Analyses, Analysis{Method: method, AnalysisType: analysisType})
	return &e.Analyses[len(e.Analyses)-1]
}

func impactOf(err error, wholeEntry bool) string {
	if wholeEntry && services.Scope(err) != "run" {
		return "entry skipped"
	}
	switch services.Scope(err) {
	case "run":
		return "run aborted"
	case "entry":
		return "remaining analyses of this entry skipped"
	default:
		return "analysis type skipped"
	}
}
