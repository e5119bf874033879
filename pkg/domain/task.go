package domain

import (
	"encoding"
	"strings"
)

// TaskStatus is the remote lifecycle state of an analysis task.
// StatusCompleted and StatusFailed are terminal.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// statusAliases holds the values the analysis service is known to send.
// in_progress is an older spelling of processing.
var statusAliases = map[string]TaskStatus{
	"pending":     StatusPending,
	"processing":  StatusProcessing,
	"in_progress": StatusProcessing,
	"completed":   StatusCompleted,
	"failed":      StatusFailed,
}

// ParseStatus maps a server status string onto a TaskStatus. Unknown values
// come back as StatusPending with ok=false.
func ParseStatus(s string) (TaskStatus, bool) {
	st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return StatusPending, false
	}
	return st, true
}

func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TaskStatus) rank() int {
	switch s {
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return 0
	}
}

// CanTransition reports whether a task may move from one status to another.
// Terminal statuses never move; processing never returns to pending.
func CanTransition(from, to TaskStatus) bool {
	if from.IsTerminal() {
		return from == to
	}
	return to.rank() >= from.rank()
}

var (
	_ encoding.TextMarshaler   = TaskStatus("")
	_ encoding.TextUnmarshaler = (*TaskStatus)(nil)
)

func (s TaskStatus) MarshalText() ([]byte, error) { return []byte(string(s)), nil }

func (s *TaskStatus) UnmarshalText(b []byte) error {
	*s, _ = ParseStatus(string(b))
	return nil
}

// Progress counts the domains the remote service has processed so far.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Percent returns completion in [0,100]. A zero or negative total is
// indeterminate and reports (0, false).
func (p Progress) Percent() (float64, bool) {
	if p.Total <= 0 {
		return 0, false
	}
	pct := float64(p.Current) / float64(p.Total) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// AnalysisTask is a snapshot of a remote analysis job.
type AnalysisTask struct {
	ID            string     `json:"id"`
	Status        TaskStatus `json:"status"`
	Progress      *Progress  `json:"progress,omitempty"`
	CurrentDomain string     `json:"currentDomain,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// Merge folds a newer snapshot into t. The id never changes once set and the
// status never regresses; a regressing snapshot keeps the current status but
// may still refresh progress and message while the task is not terminal.
// Merge reports whether the status changed.
func (t *AnalysisTask) Merge(next AnalysisTask) bool {
	if t.ID == "" {
		t.ID = next.ID
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Status.IsTerminal() {
		return false
	}
	changed := false
	if next.Status != "" && next.Status != t.Status && CanTransition(t.Status, next.Status) {
		t.Status = next.Status
		changed = true
	}
	if next.Progress != nil {
		p := *next.Progress
		t.Progress = &p
	}
	if next.CurrentDomain != "" {
		t.CurrentDomain = next.CurrentDomain
	}
	if next.Message != "" {
		t.Message = next.Message
	}
	return changed
}
