package removalcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"vqaexplain/internal/logging"
	"vqaexplain/internal/services"
	"vqaexplain/internal/textutil"
)

const (
	lockRetryDelay = 200 * time.Millisecond
	stagingMarker  = ".staging-"
)

// Key identifies one removal result.
type Key struct {
	ImageStem string
	Object    string
}

func (k Key) String() string {
	return k.ImageStem + "/" + k.Object
}

func (k Key) valid() bool {
	return strings.TrimSpace(k.ImageStem) != "" && strings.TrimSpace(k.Object) != ""
}

// Status is the outcome of Claim.
type Status int

const (
	// Claimed means the caller owns the key and must produce the result.
	Claimed Status = iota + 1
	// AlreadyDone means a previous computation published the result.
	AlreadyDone
)

func (s Status) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case AlreadyDone:
		return "already_done"
	default:
		return "unknown"
	}
}

// Cache manages the removal result tree below root.
type Cache struct {
	root   string
	logger *slog.Logger
}

// New returns a cache rooted at root (normally <protocol_dir>/removal_results).
func New(root string, logger *slog.Logger) *Cache {
	return &Cache{
		root:   root,
		logger: logging.NewComponentLogger(logger, "removalcache"),
	}
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// Dir returns the published result directory for key.
func (c *Cache) Dir(key Key) string {
	return filepath.Join(c.root, key.ImageStem, objectDirName(key.Object))
}

// Path returns the location of name inside the result directory for key.
func (c *Cache) Path(key Key, name string) string {
	return filepath.Join(c.Dir(key), name)
}

// Done reports whether a result for key has been published.
func (c *Cache) Done(key Key) bool {
	info, err := os.Stat(c.Dir(key))
	return err == nil && info.IsDir()
}

// Claim acquires key. When the result already exists, the returned claim has
// status AlreadyDone and holds nothing. Otherwise the caller receives a
// Claimed claim with an empty staging directory and must call Commit or
// Release.
func (c *Cache) Claim(ctx context.Context, key Key) (*Claim, error) {
	if !key.valid() {
		return nil, services.Wrap(services.ErrValidation, "removalcache", "claim", fmt.Sprintf("invalid key %q", key.String()), nil)
	}
	final := c.Dir(key)
	if c.Done(key) {
		return &Claim{Status: AlreadyDone, key: key, dir: final}, nil
	}

	lock, err := c.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	parent := filepath.Dir(final)

	if c.Done(key) {
		_ = lock.Unlock()
		return &Claim{Status: AlreadyDone, key: key, dir: final}, nil
	}

	c.removeStaleStaging(key)
	staging := filepath.Join(parent, "."+objectDirName(key.Object)+stagingMarker+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("removalcache: create staging dir: %w", err)
	}
	c.logger.Debug("removal cache key claimed",
		logging.String("key", key.String()),
		logging.String("staging_dir", staging),
		logging.String(logging.FieldEventType, "removal_cache_claimed"),
	)
	return &Claim{Status: Claimed, key: key, dir: final, staging: staging, lock: lock, logger: c.logger}, nil
}

// Ensure publishes the result for key, running compute into a staging
// directory only when no result exists yet. It returns the result directory
// and whether compute ran.
func (c *Cache) Ensure(ctx context.Context, key Key, compute func(ctx context.Context, stagingDir string) error) (string, bool, error) {
	claim, err := c.Claim(ctx, key)
	if err != nil {
		return "", false, err
	}
	if claim.Status == AlreadyDone {
		return claim.Dir(), false, nil
	}
	defer claim.Release()

	if err := compute(ctx, claim.StagingDir()); err != nil {
		return "", true, err
	}
	if err := claim.Commit(); err != nil {
		return "", true, err
	}
	return claim.Dir(), true, nil
}

// removeStaleStaging deletes staging directories left by crashed
// computations. Callers must hold the key lock.
func (c *Cache) removeStaleStaging(key Key) {
	pattern := filepath.Join(filepath.Dir(c.Dir(key)), "."+objectDirName(key.Object)+stagingMarker+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, stale := range matches {
		if err := os.RemoveAll(stale); err != nil {
			logging.WarnWithContext(c.logger, "stale removal staging directory not removed", "removal_cache_stale",
				logging.String("path", stale),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "delete the directory manually"),
				logging.String(logging.FieldImpact, "disk space is not reclaimed"),
			)
			continue
		}
		c.logger.Info("removed stale removal staging directory",
			logging.String("path", stale),
			logging.String(logging.FieldEventType, "removal_cache_stale_removed"),
		)
	}
}

// Claim is an exclusive hold on a cache key.
type Claim struct {
	Status Status

	key       Key
	dir       string
	staging   string
	lock      *flock.Flock
	logger    *slog.Logger
	committed bool
	released  bool
}

// Key returns the claimed key.
func (cl *Claim) Key() Key { return cl.key }

// Dir returns the published result directory.
func (cl *Claim) Dir() string { return cl.dir }

// StagingDir returns the directory the producer writes into. It is empty for
// AlreadyDone claims.
func (cl *Claim) StagingDir() string { return cl.staging }

// Commit atomically publishes the staging directory and releases the lock.
func (cl *Claim) Commit() error {
	if cl.Status != Claimed || cl.released {
		return fmt.Errorf("removalcache: commit %s: claim not held", cl.key)
	}
	entries, err := os.ReadDir(cl.staging)
	if err != nil {
		return fmt.Errorf("removalcache: inspect staging dir: %w", err)
	}
	if len(entries) == 0 {
		return services.Wrap(services.ErrValidation, "removalcache", "commit", "staging directory is empty for "+cl.key.String(), nil)
	}
	if err := os.Rename(cl.staging, cl.dir); err != nil {
		return fmt.Errorf("removalcache: publish %s: %w", cl.key, err)
	}
	cl.committed = true
	cl.logger.Debug("removal cache entry published",
		logging.String("key", cl.key.String()),
		logging.String("dir", cl.dir),
		logging.String(logging.FieldEventType, "removal_cache_published"),
	)
	return cl.Release()
}

// Release drops an uncommitted staging directory and unlocks the key. It is
// safe to call more than once and on AlreadyDone claims.
func (cl *Claim) Release() error {
	if cl == nil || cl.Status != Claimed || cl.released {
		return nil
	}
	cl.released = true
	if !cl.committed {
		_ = os.RemoveAll(cl.staging)
	}
	if err := cl.lock.Unlock(); err != nil {
		return fmt.Errorf("removalcache: unlock %s: %w", cl.key, err)
	}
	return nil
}

// EntrySummary describes one published result.
type EntrySummary struct {
	Key        Key
	Dir        string
	Files      int
	SizeBytes  int64
	ModifiedAt time.Time
}

// Entries lists published results sorted by key.
func (c *Cache) Entries() ([]EntrySummary, error) {
	stems, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("removalcache: list %s: %w", c.root, err)
	}
	var out []EntrySummary
	for _, stem := range stems {
		if !stem.IsDir() || strings.HasPrefix(stem.Name(), ".") {
			continue
		}
		objects, err := os.ReadDir(filepath.Join(c.root, stem.Name()))
		if err != nil {
			continue
		}
		for _, obj := range objects {
			if !obj.IsDir() || strings.HasPrefix(obj.Name(), ".") {
				continue
			}
			dir := filepath.Join(c.root, stem.Name(), obj.Name())
			summary := EntrySummary{Key: Key{ImageStem: stem.Name(), Object: obj.Name()}, Dir: dir}
			files, _ := os.ReadDir(dir)
			for _, f := range files {
				info, err := f.Info()
				if err != nil || !info.Mode().IsRegular() {
					continue
				}
				summary.Files++
				summary.SizeBytes += info.Size()
				if info.ModTime().After(summary.ModifiedAt) {
					summary.ModifiedAt = info.ModTime()
				}
			}
			out = append(out, summary)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out, nil
}

// Remove deletes the published result for key so the next run recomputes it.
func (c *Cache) Remove(ctx context.Context, key Key) error {
	if !key.valid() {
		return services.Wrap(services.ErrValidation, "removalcache", "remove", fmt.Sprintf("invalid key %q", key.String()), nil)
	}
	lock, err := c.lock(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	if err := os.RemoveAll(c.Dir(key)); err != nil {
		return fmt.Errorf("removalcache: remove %s: %w", key, err)
	}
	c.logger.Info("removal cache entry removed",
		logging.String("key", key.String()),
		logging.String(logging.FieldEventType, "removal_cache_removed"),
	)
	return nil
}

// Clear removes every published result and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	entries, err := c.Entries()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if err := c.Remove(ctx, entry.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// lock blocks until the advisory lock for key is held or ctx ends.
func (c *Cache) lock(ctx context.Context, key Key) (*flock.Flock, error) {
	parent := filepath.Dir(c.Dir(key))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("removalcache: create %s: %w", parent, err)
	}
	lock := flock.New(filepath.Join(parent, "."+objectDirName(key.Object)+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("removalcache: lock %s: %w", key, err)
	}
	if !locked {
		return nil, fmt.Errorf("removalcache: lock %s: not acquired", key)
	}
	return lock, nil
}

func objectDirName(object string) string {
	return textutil.SanitizeFileName(object)
}
