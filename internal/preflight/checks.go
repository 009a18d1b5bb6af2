package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"vqaexplain/internal/config"
	"vqaexplain/internal/protocol"
	"vqaexplain/internal/services"
	"vqaexplain/internal/services/inference"
)

// CheckBackend verifies that the inference backend answers its health
// endpoint. It uses a 5-second timeout and a single attempt.
func CheckBackend(ctx context.Context, baseURL, token string) Result {
	const name = "Inference backend"

	base := strings.TrimSpace(baseURL)
	if base == "" {
		return Result{Name: name, Detail: "missing base_url"}
	}
	client, err := inference.New(base,
		inference.WithToken(token),
		inference.WithTimeout(5*time.Second),
		inference.WithRetry(1, 0, 0),
	)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Health(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeBackendError(err)}
	}
	return Result{Name: name, Passed: true, Detail: base + " (healthy)"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckOutputDirectory passes when path is a writable directory or does not
// exist yet but its nearest existing ancestor is writable.
func CheckOutputDirectory(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	if _, err := os.Stat(path); err == nil {
		return CheckDirectoryAccess(name, path)
	}
	ancestor := filepath.Dir(path)
	for {
		if _, err := os.Stat(ancestor); err == nil {
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		ancestor = parent
	}
	if err := unix.Access(ancestor, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: cannot create below %s: %v)", path, ancestor, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
}

// CheckProtocol loads the protocol file and verifies every entry image is
// present.
func CheckProtocol(cfg *config.Config) Result {
	const name = "Protocol"

	path := cfg.ProtocolPath()
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	entries, err := protocol.Load(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	var missing []string
	for _, e := range entries {
		if _, err := os.Stat(e.ImagePath(cfg.ImagesDir())); err != nil {
			missing = append(missing, e.ImageName)
		}
	}
	if len(missing) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%d entries, %d images missing (%s)",
			len(entries), len(missing), strings.Join(firstN(missing, 3), ", "))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d entries)", path, len(entries))}
}

func summarizeBackendError(err error) string {
	switch {
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "health check timed out (backend unresponsive)"
	case errors.Is(err, services.ErrTransient):
		return "backend unreachable"
	default:
		return err.Error()
	}
}

func firstN(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return append(values[:n:n], "...")
}
