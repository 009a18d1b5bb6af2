package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vqaexplain/internal/composite"
	"vqaexplain/internal/config"
	"vqaexplain/internal/logging"
)

func newCompositeCommand(ctx *commandContext) *cobra.Command {
	var workers int
	var verbose bool
	var logFile string

	cmd := &cobra.Command{
		Use:   "composite [dir]",
		Short: "Rebuild combined.png for every group below an output tree",
		Long: `Stack the per-analysis artifacts of every (method, image, question) group
into combined.png, ordered by analysis index. dir defaults to
<save_path>/explainability.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root, err := compositeRoot(cfg, args)
			if err != nil {
				return err
			}

			level := "warn"
			if verbose {
				level = "info"
			}
			logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Format, level)
			if err != nil {
				return err
			}
			if strings.TrimSpace(logFile) != "" {
				fileLogger, err := logging.New(logging.Options{
					Level:       level,
					Format:      "json",
					OutputPaths: []string{logFile},
				})
				if err != nil {
					return err
				}
				defer fileLogger.Close()
				logger = slog.New(logging.TeeHandler(logger.Handler(), fileLogger.Handler()))
			}

			results, err := composite.CombineTree(cmd.Context(), root, workers, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintf(out, "No artifact groups found below %s\n", root)
				return nil
			}

			rows := make([][]string, 0, len(results))
			failed := 0
			for _, r := range results {
				status := "combined"
				if r.Err != nil {
					failed++
					status = r.Err.Error()
					if errors.Is(r.Err, composite.ErrNoInputs) {
						status = "no inputs"
					}
				}
				rel, relErr := filepath.Rel(root, r.Dir)
				if relErr != nil {
					rel = r.Dir
				}
				rows = append(rows, []string{rel, strconv.Itoa(r.Inputs), status})
			}
			fmt.Fprintln(out, renderTable([]string{"Group", "Inputs", "Result"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft}))
			fmt.Fprintf(out, "%d groups, %d failed\n", len(results), failed)
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "Groups combined in parallel")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every combined group")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Also append JSON log records to this file")
	return cmd
}

func compositeRoot(cfg *config.Config, args []string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return config.ExpandPath(args[0])
	}
	if strings.TrimSpace(cfg.Paths.SavePath) == "" {
		return "", errors.New("no directory given and paths.save_path is not set")
	}
	return cfg.ExplainabilityDir(), nil
}
