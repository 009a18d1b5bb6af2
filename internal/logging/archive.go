package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	runLogArchivePattern = "explainer-*.log"
	archiveStampLayout   = "20060102T150405"
)

// ArchiveRunLog renames an existing, non-empty run log to
// explainer-<timestamp>.log in the same directory and returns the new path.
// A missing or empty log is not an error and yields an empty path.
func ArchiveRunLog(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("inspect run log: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("run log %s is a directory", path)
	}
	if info.Size() == 0 {
		return "", nil
	}

	dir := filepath.Dir(path)
	stamp := info.ModTime().UTC().Format(archiveStampLayout)
	target := filepath.Join(dir, "explainer-"+stamp+".log")
	for n := 1; ; n++ {
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			break
		}
		target = filepath.Join(dir, fmt.Sprintf("explainer-%s-%d.log", stamp, n))
	}
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("archive run log: %w", err)
	}
	return target, nil
}
