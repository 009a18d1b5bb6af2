package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vqaexplain/internal/config"
	"vqaexplain/internal/services"
)

func TestNewJSONLoggerWritesStructuredRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Options{Level: "info", Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("prediction recorded", String("answer", "red"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("decode record %q: %v", data, err)
	}
	if record["msg"] != "prediction recorded" {
		t.Fatalf("unexpected msg %v", record["msg"])
	}
	if record["level"] != "info" {
		t.Fatalf("unexpected level %v", record["level"])
	}
	if record["answer"] != "red" {
		t.Fatalf("unexpected answer %v", record["answer"])
	}
	if _, ok := record["ts"]; !ok {
		t.Fatal("expected ts field")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml", OutputPaths: []string{"stdout"}}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleHandlerRendersSubject(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	ctx := services.WithEntryID(context.Background(), "3")
	ctx = services.WithMethod(ctx, "Gradient")
	ctx = services.WithAnalysisType(ctx, "OR")
	WithContext(ctx, NewComponentLogger(logger, "dispatch")).Info("predicted outputs", String("top1", "red"))

	line := buf.String()
	if !strings.Contains(line, "dispatch · Entry #3 · Gradient · OR: predicted outputs") {
		t.Fatalf("missing subject in %q", line)
	}
	if !strings.Contains(line, "top1=red") {
		t.Fatalf("missing attribute in %q", line)
	}
	if strings.Contains(line, "entry_id=") {
		t.Fatalf("subject fields should not repeat as attributes: %q", line)
	}
}

func TestConsoleHandlerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))
	logger.Info("hidden")
	logger.Warn("shown", String("reason", "two words"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, `reason="two words"`) {
		t.Fatalf("expected quoted value in %q", out)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	WarnWithContext(logger, "answer not in vocabulary", "vocab_miss", String(FieldImpact, "entry skipped"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record[FieldEventType] != "vocab_miss" {
		t.Fatalf("unexpected event_type %v", record[FieldEventType])
	}
	if record[FieldErrorHint] == nil {
		t.Fatal("expected default error_hint")
	}
	if record[FieldImpact] != "entry skipped" {
		t.Fatalf("caller impact should win, got %v", record[FieldImpact])
	}
}

func TestWithContextNilLogger(t *testing.T) {
	if WithContext(context.Background(), nil) == nil {
		t.Fatal("expected no-op logger")
	}
}

func TestFanoutHandlerDuplicatesRecords(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h := TeeHandler(
		slog.NewJSONHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h)
	logger.Info("first")
	logger.Warn("second")

	if strings.Count(buf1.String(), "\n") != 2 {
		t.Fatalf("expected both records in first handler, got %q", buf1.String())
	}
	if strings.Contains(buf2.String(), "first") || !strings.Contains(buf2.String(), "second") {
		t.Fatalf("second handler should only receive warn: %q", buf2.String())
	}
}

func TestTeeHandlerAllNil(t *testing.T) {
	if _, ok := TeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when all handlers are nil")
	}
}

func TestArchiveRunLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "explainer.log")

	archived, err := ArchiveRunLog(path)
	if err != nil || archived != "" {
		t.Fatalf("missing log: archived=%q err=%v", archived, err)
	}

	if err := os.WriteFile(path, []byte("previous run\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	archived, err = ArchiveRunLog(path)
	if err != nil {
		t.Fatalf("ArchiveRunLog: %v", err)
	}
	if matched, _ := filepath.Match(runLogArchivePattern, filepath.Base(archived)); !matched {
		t.Fatalf("archive %q does not match %q", archived, runLogArchivePattern)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected original log to be moved, stat err=%v", err)
	}
}

func TestNewRunLoggerTruncatesAndArchives(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.SavePath = t.TempDir()
	cfg.Logging.RetentionDays = 1
	logPath := cfg.RunLogPath()

	if err := os.WriteFile(logPath, []byte("old run\n"), 0o644); err != nil {
		t.Fatalf("seed log: %v", err)
	}
	stale := filepath.Join(cfg.Paths.SavePath, "explainer-20000101T000000.log")
	if err := os.WriteFile(stale, []byte("ancient\n"), 0o644); err != nil {
		t.Fatalf("seed stale archive: %v", err)
	}
	old := time.Now().AddDate(0, 0, -10)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	var console bytes.Buffer
	logger, err := NewRunLogger(&cfg, &console)
	if err != nil {
		t.Fatalf("NewRunLogger: %v", err)
	}
	logger.Info("Running explainer-script for demo")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if strings.Contains(string(data), "old run") {
		t.Fatalf("run log was not truncated: %q", data)
	}
	if !strings.Contains(string(data), "Running explainer-script for demo") {
		t.Fatalf("run log missing header: %q", data)
	}
	if !strings.Contains(console.String(), "Running explainer-script for demo") {
		t.Fatalf("console mirror missing header: %q", console.String())
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected stale archive to be pruned, stat err=%v", err)
	}
	archives, _ := filepath.Glob(filepath.Join(cfg.Paths.SavePath, runLogArchivePattern))
	if len(archives) != 1 {
		t.Fatalf("expected the previous run to be archived, got %v", archives)
	}
}
