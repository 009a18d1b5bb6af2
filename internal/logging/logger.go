package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"vqaexplain/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	OutputPaths []string
	Development bool
}

// Logger bundles the slog logger with the files it writes to so the run can
// flush and close them when it finishes.
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

// Close releases every file the logger opened.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closers = nil
	return firstErr
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	writer, closers, err := openWriters(defaultSlice(opts.OutputPaths, []string{"stdout"}))
	if err != nil {
		return nil, err
	}

	handler, err := newHandler(opts.Format, writer, levelVar, opts.Development || level <= slog.LevelDebug)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	return &Logger{Logger: slog.New(handler), closers: closers}, nil
}

// NewWithWriter builds a logger that writes records to w in the given format.
func NewWithWriter(w io.Writer, format, level string) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(level))
	handler, err := newHandler(format, w, levelVar, false)
	if err != nil {
		return nil, err
	}
	return slog.New(handler), nil
}

// NewRunLogger opens the run log for a fresh protocol run. The previous run
// log is archived next to it, old archives are pruned according to the
// retention setting, and the new log is truncated. Records are also mirrored
// to console when non-nil.
func NewRunLogger(cfg *config.Config, console io.Writer) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("run logger requires config")
	}
	logPath := cfg.RunLogPath()
	if err := ensureLogDir(logPath); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	archived, err := ArchiveRunLog(logPath)
	if err != nil {
		return nil, err
	}

	level := parseLevel(cfg.Logging.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)
	addSource := level <= slog.LevelDebug

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", logPath, err)
	}
	fileHandler, err := newHandler(cfg.Logging.Format, file, levelVar, addSource)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	handlers := []slog.Handler{fileHandler}
	if console != nil {
		handlers = append(handlers, newConsoleHandler(console, levelVar, false))
	}
	logger := &Logger{
		Logger:  slog.New(TeeHandler(handlers...)),
		closers: []io.Closer{file},
	}

	CleanupOldLogs(logger.Logger, cfg.Logging.RetentionDays, RetentionTarget{
		Dir:     filepath.Dir(logPath),
		Pattern: runLogArchivePattern,
		Exclude: []string{logPath, archived},
	})
	return logger, nil
}

func newHandler(format string, w io.Writer, lvl *slog.LevelVar, addSource bool) (slog.Handler, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "console"
	}
	switch format {
	case "json":
		return newJSONHandler(w, lvl, addSource), nil
	case "console":
		return newConsoleHandler(w, lvl, addSource), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", format)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

func defaultSlice(value []string, fallback []string) []string {
	if len(value) == 0 {
		cp := make([]string, len(fallback))
		copy(cp, fallback)
		return cp
	}
	cp := make([]string, len(value))
	copy(cp, value)
	return cp
}

func openWriters(paths []string) (io.Writer, []io.Closer, error) {
	seen := map[string]struct{}{}
	var writers []io.Writer
	var closers []io.Closer

	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}

		switch trimmed {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := ensureLogDir(trimmed); err != nil {
				closeAll(closers)
				return nil, nil, err
			}
			file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("open log file %s: %w", trimmed, err)
			}
			writers = append(writers, file)
			closers = append(closers, file)
		}
	}

	switch len(writers) {
	case 0:
		return os.Stdout, closers, nil
	case 1:
		return writers[0], closers, nil
	default:
		return io.MultiWriter(writers...), closers, nil
	}
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
