// Package composite stacks the per-analysis artifacts of one (method, image,
// question) group into combined.png.
//
// Inputs are the image files of the group directory in lexicographic order,
// which the <index>_<type>.png naming turns into Normal, OR, VisualNoise,
// TextualNoise. A previous combined.png, hidden files and in-flight
// temporary files are never inputs, so compositing can be re-run safely.
package composite

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"vqaexplain/internal/fileutil"
	"vqaexplain/internal/imageio"
	"vqaexplain/internal/logging"
	"vqaexplain/internal/services"
)

// CombinedName is the filename of the stacked artifact.
const CombinedName = "combined.png"

// ErrNoInputs marks a group directory without any artifact to stack.
var ErrNoInputs = errors.New("no artifacts to combine")

var imageExts = map[string]struct{}{".png": {}, ".jpg": {}, ".jpeg": {}}

// Inputs returns the artifact files of dir in stacking order.
func Inputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("composite: list %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !eligible(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

func eligible(name string) bool {
	if name == CombinedName || fileutil.IsTempName(name) {
		return false
	}
	_, ok := imageExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Combine stacks the artifacts of dir vertically and writes combined.png.
// Narrower images are scaled up to the widest width, keeping their aspect
// ratio. It returns the combined path and the inputs in stacking order.
func Combine(dir string) (string, []string, error) {
	inputs, err := Inputs(dir)
	if err != nil {
		return "", nil, err
	}
	if len(inputs) == 0 {
		return "", nil, services.Wrap(services.ErrValidation, "composite", "combine", dir, ErrNoInputs)
	}

	images := make([]image.Image, 0, len(inputs))
	width := 0
	for _, path := range inputs {
		img, err := imageio.Load(path)
		if err != nil {
			return "", inputs, err
		}
		images = append(images, img)
		width = max(width, img.Bounds().Dx())
	}

	heights := make([]int, len(images))
	total := 0
	for i, img := range images {
		b := img.Bounds()
		heights[i] = b.Dy()
		if b.Dx() != width {
			heights[i] = max(1, b.Dy()*width/b.Dx())
		}
		total += heights[i]
	}

	out := image.NewRGBA(image.Rect(0, 0, width, total))
	y := 0
	for i, img := range images {
		dst := image.Rect(0, y, width, y+heights[i])
		if img.Bounds().Dx() == width && img.Bounds().Dy() == heights[i] {
			draw.Draw(out, dst, img, img.Bounds().Min, draw.Src)
		} else {
			draw.CatmullRom.Scale(out, dst, img, img.Bounds(), draw.Src, nil)
		}
		y += heights[i]
	}

	target := filepath.Join(dir, CombinedName)
	if err := imageio.SavePNG(target, out); err != nil {
		return "", inputs, fmt.Errorf("composite: write %s: %w", target, err)
	}
	return target, inputs, nil
}

// GroupResult is the outcome of combining one group directory.
type GroupResult struct {
	Dir    string
	Output string
	Inputs int
	Err    error
}

// CombineTree combines every group directory below root (a save_path
// explainability tree) with up to workers groups in flight. Failures of
// individual groups are reported in the results; only cancellation and
// walk errors abort.
func CombineTree(ctx context.Context, root string, workers int, logger *slog.Logger) ([]GroupResult, error) {
	logger = logging.NewComponentLogger(logger, "composite")
	groups, err := groupDirs(root)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]GroupResult, len(groups))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, dir := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, inputs, err := Combine(dir)
			mu.Lock()
			results[i] = GroupResult{Dir: dir, Output: out, Inputs: len(inputs), Err: err}
			mu.Unlock()
			if err != nil {
				logging.WarnWithContext(logger, "group not combined", "composite_failed",
					logging.String("dir", dir),
					logging.Error(err),
					logging.String(logging.FieldImpact, "no combined.png for this group"),
				)
				return nil
			}
			logger.Info("group combined",
				logging.String("output", out),
				logging.Int("inputs", len(inputs)),
				logging.String(logging.FieldEventType, "composite_written"),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// groupDirs returns every directory below root that directly holds an
// artifact or a combined.png, sorted.
func groupDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && (eligible(e.Name()) || e.Name() == CombinedName) {
				dirs = append(dirs, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "composite", "walk", root, err)
		}
		return nil, fmt.Errorf("composite: walk %s: %w", root, err)
	}
	sort.Strings(dirs)
	return dirs, nil
}
