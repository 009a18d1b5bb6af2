package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vqaexplain/internal/config"
	"vqaexplain/internal/ledger"
)

const stampLayout = "2006-01-02 15:04:05"

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, ctx, func(store *ledger.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, runs)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						shortID(r.ID),
						r.Model,
						colorizeStatus(r.Status, colorize),
						r.StartedAt.Local().Format(stampLayout),
						formatDuration(r.Duration()),
						strconv.Itoa(r.Entries),
						strconv.Itoa(r.Artifacts),
						strconv.Itoa(r.Skips),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Model", "Status", "Started", "Duration", "Entries", "Artifacts", "Skips"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

type runDetail struct {
	Run         *ledger.Run         `json:"run"`
	Predictions []ledger.Prediction `json:"predictions"`
	Artifacts   []ledger.Artifact   `json:"artifacts"`
	Skips       []ledger.Skip       `json:"skips"`
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its predictions, artifacts and skips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, ctx, func(store *ledger.Store) error {
				detail, err := loadRunDetail(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, detail)
				}
				printRunDetail(cmd, detail)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func loadRunDetail(ctx context.Context, store *ledger.Store, id string) (runDetail, error) {
	run, err := store.GetRun(ctx, strings.TrimSpace(id))
	if err != nil {
		return runDetail{}, err
	}
	detail := runDetail{Run: run}
	if detail.Predictions, err = store.Predictions(ctx, run.ID); err != nil {
		return runDetail{}, err
	}
	if detail.Artifacts, err = store.Artifacts(ctx, run.ID); err != nil {
		return runDetail{}, err
	}
	if detail.Skips, err = store.Skips(ctx, run.ID); err != nil {
		return runDetail{}, err
	}
	return detail, nil
}

func printRunDetail(cmd *cobra.Command, d runDetail) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	r := d.Run

	finished := "-"
	if r.FinishedAt != nil {
		finished = r.FinishedAt.Local().Format(stampLayout)
	}
	rows := [][]string{
		{"ID", r.ID},
		{"Model", r.Model},
		{"Status", colorizeStatus(r.Status, colorize)},
		{"Protocol", r.ProtocolPath},
		{"Save path", r.SavePath},
		{"Methods", strings.Join(r.Methods, ", ")},
		{"Analysis types", strings.Join(r.AnalysisTypes, ", ")},
		{"Started", r.StartedAt.Local().Format(stampLayout)},
		{"Finished", finished},
		{"Duration", formatDuration(r.Duration())},
		{"Entries", strconv.Itoa(r.Entries)},
		{"Artifacts", strconv.Itoa(r.Artifacts)},
		{"Skips", strconv.Itoa(r.Skips)},
	}
	if r.ErrorMessage != "" {
		rows = append(rows, []string{"Error", r.ErrorMessage})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))

	if len(d.Predictions) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Top predictions", colorize) {
			fmt.Fprintln(out, line)
		}
		var predRows [][]string
		for _, p := range d.Predictions {
			if p.Rank != 1 {
				continue
			}
			predRows = append(predRows, []string{
				p.EntryID, p.Method, p.AnalysisType, p.Answer, strconv.FormatFloat(p.Probability, 'f', 3, 64),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"Entry", "Method", "Analysis", "Answer", "Probability"}, predRows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
	}

	if len(d.Skips) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Skipped", colorize) {
			fmt.Fprintln(out, line)
		}
		skipRows := make([][]string, 0, len(d.Skips))
		for _, s := range d.Skips {
			skipRows = append(skipRows, []string{s.EntryID, dashIfEmpty(s.Method), dashIfEmpty(s.AnalysisType), s.Reason})
		}
		fmt.Fprintln(out, renderTable([]string{"Entry", "Method", "Analysis", "Reason"}, skipRows, nil))
	}

	fmt.Fprintf(out, "\n%d artifacts recorded\n", len(d.Artifacts))
}

// withLedger opens the configured ledger for fn. A missing database is
// reported instead of created.
func withLedger(cmd *cobra.Command, ctx *commandContext, fn func(*ledger.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	path, err := ledgerPath(cfg)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(cmd.OutOrStdout(), "No run ledger at %s\n", path)
			return nil
		}
		return fmt.Errorf("inspect run ledger: %w", err)
	}
	store, err := ledger.Open(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func ledgerPath(cfg *config.Config) (string, error) {
	if strings.TrimSpace(cfg.Ledger.Path) == "" && strings.TrimSpace(cfg.Paths.SavePath) == "" {
		return "", errors.New("paths.save_path (or ledger.path) must be set to locate the run ledger")
	}
	return cfg.LedgerPath(), nil
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

