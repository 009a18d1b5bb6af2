// Package report renders a finished protocol run as a markdown review
// document: run metadata, totals, and per entry the ranked predictions of
// every analysis type next to links to the rendered artifacts.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"

	"vqaexplain/internal/fileutil"
	"vqaexplain/internal/ledger"
	"vqaexplain/internal/recorder"
	"vqaexplain/internal/textutil"
)

// Run is the run-level metadata shown at the top of the report.
type Run struct {
	ID            string
	Model         string
	ProtocolPath  string
	Methods       []string
	AnalysisTypes []string
	Status        ledger.Status
	StartedAt     time.Time
	FinishedAt    time.Time
	Error         string
	Totals        ledger.Totals
}

const topAnswers = 3

// Write renders the report to w. Artifact links are made relative to
// linkBase when possible.
func Write(w io.Writer, run Run, entries []recorder.EntryRecord, linkBase string) error {
	md := markdown.NewMarkdown(w)

	md.H1("Explainability report: " + run.Model)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", markdown.Code(run.ID)},
			{"Protocol", markdown.Code(run.ProtocolPath)},
			{"Methods", strings.Join(run.Methods, ", ")},
			{"Analysis types", strings.Join(run.AnalysisTypes, ", ")},
			{"Started", run.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()},
			{"Status", string(run.Status)},
		},
	})
	md.PlainText("")

	md.H2("Totals")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Entries", "Artifacts", "Skips"},
		Rows: [][]string{{
			strconv.Itoa(run.Totals.Entries),
			strconv.Itoa(run.Totals.Artifacts),
			strconv.Itoa(run.Totals.Skips),
		}},
	})
	md.PlainText("")
	if run.Error != "" {
		md.Cautionf("Run aborted: %s", run.Error)
		md.PlainText("")
	}

	md.H2("Entries")
	md.PlainText("")
	if len(entries) == 0 {
		md.PlainText("No protocol entries were processed.")
		md.PlainText("")
	}
	for _, rec := range entries {
		writeEntry(md, rec, linkBase)
	}

	return md.Build()
}

func writeEntry(md *markdown.Markdown, rec recorder.EntryRecord, linkBase string) {
	e := rec.Entry
	md.H3(fmt.Sprintf("Entry %s: %s", e.ID, e.Question))
	md.PlainText("")
	items := []string{
		"Image: " + markdown.Code(e.ImageName),
		"Ground truth: " + markdown.Bold(e.Answer),
	}
	if e.HasRemoval() {
		items = append(items, "Removed object: "+e.RemoveObject)
	}
	md.BulletList(items...)
	md.PlainText("")

	if rec.Skipped != "" {
		md.Warningf("Skipped: %s", rec.Skipped)
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(rec.Analyses))
	for _, a := range rec.Analyses {
		rows = append(rows, []string{
			a.Method,
			a.AnalysisType,
			formatPredictions(a),
			artifactCell(a, linkBase),
		})
	}
	if len(rows) > 0 {
		md.Table(markdown.TableSet{
			Header: []string{"Method", "Analysis", "Predictions", "Artifact"},
			Rows:   rows,
		})
		md.PlainText("")
	}
	for _, path := range rec.Composites {
		md.PlainText(markdown.Image("combined", link(path, linkBase)))
		md.PlainText("")
	}
}

func formatPredictions(a recorder.Analysis) string {
	if a.Skipped != "" && len(a.Predictions) == 0 {
		return "skipped: " + a.Skipped
	}
	parts := make([]string, 0, topAnswers)
	for i, p := range a.Predictions {
		if i == topAnswers {
			break
		}
		parts = append(parts, fmt.Sprintf("%d) %s (%.2f)", i+1, p.Answer, p.Probability))
	}
	return strings.Join(parts, " ")
}

func artifactCell(a recorder.Analysis, linkBase string) string {
	if a.Artifact == "" {
		if a.Skipped != "" {
			return "none"
		}
		return ""
	}
	return markdown.Link(filepath.Base(a.Artifact), link(a.Artifact, linkBase))
}

func link(path, base string) string {
	if base == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// FileName returns the report filename for run.
func FileName(run Run) string {
	id := run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("explainer-%s-%s.md", textutil.SanitizeToken(run.Model), id)
}

// WriteFile renders the report into dir and returns its path.
func WriteFile(dir string, run Run, entries []recorder.EntryRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(run))
	err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return Write(w, run, entries, dir)
	})
	if err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	return path, nil
}
