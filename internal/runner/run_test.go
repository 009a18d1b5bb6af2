package runner

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"vqaexplain/internal/config"
	"vqaexplain/internal/ledger"
	"vqaexplain/internal/services"
	"vqaexplain/internal/services/inference"
	"vqaexplain/internal/testsupport"
)

type fakeBackend struct {
	*testsupport.FakeModel
	*testsupport.FakeRemover
	methods []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		FakeModel:   testsupport.NewFakeModel("<unk>", "red", "blue", "green"),
		FakeRemover: testsupport.NewFakeRemover(),
		methods:     []string{"Gradient"},
	}
}

func (b *fakeBackend) Methods(context.Context) ([]string, error) {
	return b.methods, nil
}

func (b *fakeBackend) Saliency(ctx context.Context, method string, img image.Image, question string, categoryID int) (inference.SaliencyResult, error) {
	if err := ctx.Err(); err != nil {
		return inference.SaliencyResult{}, err
	}
	return inference.SaliencyResult{Width: 2, Height: 2, Values: []float64{0, 0.25, 0.5, 1}}, nil
}

const carProtocol = `{'1': {'Q': 'What color is the car?', 'A': 'red', 'I': 'car.jpg', 'R': 'car'}}`

func setup(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	testsupport.WriteProtocol(t, cfg, carProtocol)
	testsupport.WriteProtocolImage(t, cfg, "car.jpg")
	return cfg
}

func TestRunProducesArtifactsLedgerAndReport(t *testing.T) {
	cfg := setup(t, testsupport.WithAnalysisTypes("OR"), testsupport.WithShowAll(true), testsupport.WithLedger(), testsupport.WithReportDir())
	backend := newFakeBackend()

	res, err := Run(context.Background(), cfg, Options{Backend: backend})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed status, got %s", res.Status)
	}
	if res.Summary.Artifacts != 2 || res.Summary.Composites != 1 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}

	group := filepath.Join(cfg.ExplainabilityDir(), "Gradient", "car", "what_color_is_the_car")
	for _, name := range []string{"0_normal.png", "1_or.png", "combined.png"} {
		if _, err := os.Stat(filepath.Join(group, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
	if got := backend.CallCount("car.jpg", "car"); got != 1 {
		t.Fatalf("expected one removal call, got %d", got)
	}

	logData, err := os.ReadFile(res.LogPath)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(logData), "Running explainer-script for demo_model") {
		t.Fatalf("run log missing header:\n%s", logData)
	}

	store, err := ledger.Open(context.Background(), cfg.LedgerPath())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer store.Close()
	run, err := store.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != ledger.StatusCompleted || run.Artifacts != 2 || run.Entries != 1 {
		t.Fatalf("unexpected ledger row %+v", run)
	}
	preds, err := store.Predictions(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("Predictions: %v", err)
	}
	if len(preds) == 0 {
		t.Fatal("expected recorded predictions")
	}

	if res.ReportPath == "" {
		t.Fatal("expected a report path")
	}
	reportData, err := os.ReadFile(res.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(reportData), "What color is the car?") {
		t.Fatalf("report missing entry:\n%s", reportData)
	}
}

func TestRunSecondInvocationReusesRemovalCache(t *testing.T) {
	cfg := setup(t, testsupport.WithAnalysisTypes("OR"))
	backend := newFakeBackend()

	for i := 0; i < 2; i++ {
		if _, err := Run(context.Background(), cfg, Options{Backend: backend}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := backend.CallCount("car.jpg", "car"); got != 1 {
		t.Fatalf("expected cached removal on second run, got %d calls", got)
	}
	matches, err := filepath.Glob(filepath.Join(cfg.Paths.SavePath, "explainer-*.log"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected previous run log archived once, got %v", matches)
	}
}

func TestRunUnknownMethodIsFatalAndRecorded(t *testing.T) {
	cfg := setup(t, testsupport.WithMethods("Nope"), testsupport.WithLedger())

	res, err := Run(context.Background(), cfg, Options{Backend: newFakeBackend()})
	if err == nil {
		t.Fatal("expected an error for an unknown method")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if res.Status != ledger.StatusFailed {
		t.Fatalf("expected failed status, got %s", res.Status)
	}

	store, err := ledger.Open(context.Background(), cfg.LedgerPath())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer store.Close()
	run, err := store.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != ledger.StatusFailed || run.ErrorMessage == "" {
		t.Fatalf("expected failed row with message, got %+v", run)
	}
}

func TestRunBuiltinOcclusionNeedsNoRemoteMethods(t *testing.T) {
	cfg := setup(t, testsupport.WithMethods("Occlusion"))
	cfg.Occlusion.Grid = 2
	backend := newFakeBackend()
	backend.methods = nil

	res, err := Run(context.Background(), cfg, Options{Backend: backend})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.Artifacts != 1 {
		t.Fatalf("expected one artifact, got %+v", res.Summary)
	}
	path := filepath.Join(cfg.ExplainabilityDir(), "Occlusion", "car", "what_color_is_the_car", "0_normal.png")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected occlusion artifact: %v", err)
	}
}

func TestRunRefusesLockedSavePath(t *testing.T) {
	cfg := setup(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	other := flock.New(cfg.LockPath())
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock: locked=%v err=%v", locked, err)
	}
	defer other.Unlock()

	_, err = Run(context.Background(), cfg, Options{Backend: newFakeBackend()})
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestRunCanceledContext(t *testing.T) {
	cfg := setup(t, testsupport.WithLedger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, cfg, Options{Backend: newFakeBackend()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Status != ledger.StatusCanceled {
		t.Fatalf("expected canceled status, got %s", res.Status)
	}
}

func TestRunRequiresRunSettings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.ProtocolName = ""

	_, err := Run(context.Background(), cfg, Options{Backend: newFakeBackend()})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "paths.protocol_name") {
		t.Fatalf("expected missing key in message, got %v", err)
	}
}
