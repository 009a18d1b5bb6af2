package ledger

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Run is one invocation of the protocol runner.
type Run struct {
	ID            string
	Model         string
	ProtocolPath  string
	SavePath      string
	Methods       []string
	AnalysisTypes []string
	Status        Status
	StartedAt     time.Time
	FinishedAt    *time.Time
	Entries       int
	Artifacts     int
	Skips         int
	ErrorMessage  string
}

// Duration returns the elapsed time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Prediction is one ranked answer recorded for an (entry, method, type).
type Prediction struct {
	EntryID      string
	Method       string
	AnalysisType string
	Rank         int
	Answer       string
	Probability  float64
}

// Artifact is a rendered comparison image written by the run.
type Artifact struct {
	EntryID       string
	Method        string
	AnalysisType  string
	AnalysisIndex int
	Path          string
}

// Skip records work the run declined. Method and AnalysisType are empty when
// the whole entry was skipped.
type Skip struct {
	EntryID      string
	Method       string
	AnalysisType string
	Reason       string
}

// Totals are the counters stamped onto a run when it finishes.
type Totals struct {
	Entries   int
	Artifacts int
	Skips     int
}

func joinList(values []string) string {
	return strings.Join(values, ",")
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return strings.Split(value, ",")
}
