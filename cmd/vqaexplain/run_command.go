package main

import (
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vqaexplain/internal/runner"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var quiet bool
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured analysis protocol",
		Long: `Run every protocol entry through each explainability method and analysis
type, writing comparison images below <save_path>/explainability and the run
log to <save_path>/explainer.log. Path and analysis flags override the
configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var console io.Writer
			if !quiet {
				console = cmd.ErrOrStderr()
			}
			res, runErr := runner.Run(signalCtx, cfg, runner.Options{
				Console:   console,
				Preflight: !skipPreflight,
			})
			if res.RunID != "" {
				printRunSummary(cmd.OutOrStdout(), res)
			}
			if runErr != nil && signalCtx.Err() != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Run interrupted; partial results are kept.")
			}
			return runErr
		},
	}

	addRunFlags(cmd)
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not mirror the run log to the terminal")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip directory and backend checks before running")
	return cmd
}

func printRunSummary(out io.Writer, res runner.Result) {
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Run "+shortID(res.RunID), colorize) {
		fmt.Fprintln(out, line)
	}
	rows := [][]string{
		{"Model", res.Model},
		{"Status", colorizeStatus(res.Status, colorize)},
		{"Entries", strconv.Itoa(res.Summary.Entries)},
		{"Skipped entries", strconv.Itoa(res.Summary.SkippedEntries)},
		{"Artifacts", strconv.Itoa(res.Summary.Artifacts)},
		{"Combined images", strconv.Itoa(res.Summary.Composites)},
		{"Skipped analyses", strconv.Itoa(res.Summary.Skips)},
		{"Failures", strconv.Itoa(res.Summary.Failures)},
		{"Duration", formatDuration(res.FinishedAt.Sub(res.StartedAt))},
		{"Run log", res.LogPath},
	}
	if res.ReportPath != "" {
		rows = append(rows, []string{"Report", res.ReportPath})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
