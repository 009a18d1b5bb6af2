package perturb

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"vqaexplain/internal/imageio"
	"vqaexplain/internal/logging"
	"vqaexplain/internal/protocol"
	"vqaexplain/internal/removalcache"
	"vqaexplain/internal/services"
	"vqaexplain/internal/services/inference"
)

// Remover erases an object from an image. The first candidate is the
// preferred result.
type Remover interface {
	RemoveObject(ctx context.Context, img image.Image, imageName, object string, num int) ([]inference.Candidate, error)
}

// Removal is the OR analysis. Results are computed once per (image stem,
// object) key and reused from the removal cache afterwards.
type Removal struct {
	cache      *removalcache.Cache
	remover    Remover
	candidates int
	logger     *slog.Logger
}

// NewRemoval builds the OR strategy. candidates bounds how many removal
// candidates the remover writes per key.
func NewRemoval(cache *removalcache.Cache, remover Remover, candidates int, logger *slog.Logger) *Removal {
	if candidates < 1 {
		candidates = 1
	}
	return &Removal{
		cache:      cache,
		remover:    remover,
		candidates: candidates,
		logger:     logging.NewComponentLogger(logger, "removal"),
	}
}

func (r *Removal) Type() AnalysisType { return ObjectRemoval }

func (r *Removal) Apply(ctx context.Context, entry protocol.Entry, base Input) (Input, error) {
	if !entry.HasRemoval() {
		return Input{}, fmt.Errorf("%w: entry %s has no object to remove", ErrNotApplicable, entry.ID)
	}
	key := removalcache.Key{ImageStem: entry.ImageStem(), Object: entry.RemoveObject}

	dir, computed, err := r.cache.Ensure(ctx, key, func(ctx context.Context, staging string) error {
		return r.compute(ctx, entry, base.Image, staging)
	})
	if err != nil {
		return Input{}, err
	}
	logger := logging.WithContext(ctx, r.logger)
	if computed {
		logger.Info("object removed",
			logging.String("object", entry.RemoveObject),
			logging.String("cache_dir", dir),
			logging.String(logging.FieldEventType, "object_removed"),
		)
	} else {
		logger.Debug("object removal reused from cache",
			logging.String("object", entry.RemoveObject),
			logging.String("cache_dir", dir),
			logging.String(logging.FieldEventType, "object_removal_cached"),
		)
	}

	path := r.cache.Path(key, entry.ImageName)
	img, err := imageio.Load(path)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return Input{}, services.Wrap(services.ErrCacheCorrupt, "removal", "load",
				fmt.Sprintf("cache directory %s exists but %s is missing; delete the directory to recompute", dir, entry.ImageName), err)
		}
		return Input{}, services.Wrap(services.ErrCacheCorrupt, "removal", "load", "unreadable cached image "+path, err)
	}
	return Input{Image: img, Question: base.Question}, nil
}

// compute runs the remover and writes its candidates into the staging
// directory: the preferred one under the source filename, the rest as
// candidate_<n>.png.
func (r *Removal) compute(ctx context.Context, entry protocol.Entry, img image.Image, staging string) error {
	if r.remover == nil {
		return services.Wrap(services.ErrConfiguration, "removal", "compute", "no object remover configured", nil)
	}
	candidates, err := r.remover.RemoveObject(ctx, img, entry.ImageName, entry.RemoveObject, r.candidates)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return services.Wrap(services.ErrExternalTool, "removal", "compute", "remover returned no candidates", nil)
	}
	for i, c := range candidates {
		if i >= r.candidates {
			break
		}
		name := entry.ImageName
		if i > 0 {
			name = fmt.Sprintf("candidate_%d.png", i)
		}
		// Nothing undecodable may reach the staging directory; a committed
		// entry is never recomputed.
		if _, err := imageio.Decode(c.Data); err != nil {
			if i == 0 {
				return services.Wrap(services.ErrExternalTool, "removal", "compute",
					fmt.Sprintf("remover returned an undecodable image for %s", entry.ImageName), err)
			}
			logging.WarnWithContext(logging.WithContext(ctx, r.logger), "removal candidate dropped", "removal_candidate_invalid",
				logging.String("candidate", name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "fewer alternative candidates cached"),
			)
			continue
		}
		if err := os.WriteFile(filepath.Join(staging, name), c.Data, 0o644); err != nil {
			return fmt.Errorf("write removal candidate %s: %w", name, err)
		}
	}
	return nil
}
