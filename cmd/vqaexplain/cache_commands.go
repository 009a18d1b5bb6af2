package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vqaexplain/internal/config"
	"vqaexplain/internal/fileutil"
	"vqaexplain/internal/logging"
	"vqaexplain/internal/removalcache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the object-removal cache",
	}
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached object-removal results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := removalCache(ctx, nil)
			if err != nil {
				return err
			}
			entries, err := cache.Entries()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cache: %s\n", cache.Root())
			if len(entries) == 0 {
				fmt.Fprintln(out, "Cached removals: none")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				modified := "unknown"
				if !e.ModifiedAt.IsZero() {
					modified = e.ModifiedAt.Local().Format(stampLayout)
				}
				rows = append(rows, []string{e.Key.ImageStem, e.Key.Object, strconv.Itoa(e.Files), humanBytes(e.SizeBytes), modified})
			}
			fmt.Fprintln(out, renderTable([]string{"Image", "Object", "Files", "Size", "Modified"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft}))

			size, files, err := fileutil.DirSize(cache.Root())
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			fmt.Fprintf(out, "%d entries, %d files, %s on disk\n", len(entries), files, humanBytes(size))
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var image string
	var object string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached object-removal results so the next run recomputes them",
		Long: `Without flags every cached result is removed. With --image and --object
only that (image stem, object) result is removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			image = strings.TrimSpace(image)
			object = strings.TrimSpace(object)
			if (image == "") != (object == "") {
				return errors.New("--image and --object must be given together")
			}

			logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), "console", "warn")
			if err != nil {
				return err
			}
			cache, err := removalCache(ctx, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if image != "" {
				key := removalcache.Key{ImageStem: strings.ToLower(image), Object: object}
				if !cache.Done(key) {
					fmt.Fprintf(out, "No cached result for %s\n", key)
					return nil
				}
				if err := cache.Remove(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %s\n", key)
				return nil
			}
			removed, err := cache.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("cleared %d entries before failing: %w", removed, err)
			}
			fmt.Fprintf(out, "Removed %d cached entries\n", removed)
			return nil
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "Image stem of the entry to remove (e.g. car)")
	cmd.Flags().StringVar(&object, "object", "", "Removed object of the entry to remove")
	return cmd
}

func removalCache(ctx *commandContext, logger *slog.Logger) (*removalcache.Cache, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if err := requireProtocolDir(cfg); err != nil {
		return nil, err
	}
	return removalcache.New(cfg.RemovalCacheDir(), logger), nil
}

func requireProtocolDir(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Paths.ProtocolDir) == "" {
		return errors.New("paths.protocol_dir must be set to locate the removal cache")
	}
	return nil
}

func humanBytes(v int64) string {
	const unit = 1024
	if v < unit {
		return fmt.Sprintf("%d B", v)
	}
	div := int64(unit)
	exp := 0
	for n := v / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(v)/float64(div), "KMGTPE"[exp])
}
