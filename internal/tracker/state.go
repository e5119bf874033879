package tracker

import (
	"time"

	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

// Phase is the local observation state, distinct from the remote task
// status.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// State is a snapshot of the tracked task. Generation increases with every
// submission; consumers drop states older than the newest they have seen.
type State struct {
	Generation uint64                  `json:"generation"`
	Phase      Phase                   `json:"phase"`
	TaskID     string                  `json:"taskId,omitempty"`
	Degraded   bool                    `json:"degraded,omitempty"`
	Domains    []string                `json:"domains,omitempty"`
	Task       *domain.AnalysisTask    `json:"task,omitempty"`
	Results    []domain.AnalysisResult `json:"results,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Err        error                   `json:"-"`
	StartedAt  time.Time               `json:"startedAt"`
	UpdatedAt  time.Time               `json:"updatedAt"`
}

// Percent is the task progress, ok=false when indeterminate.
func (s State) Percent() (float64, bool) {
	if s.Task == nil || s.Task.Progress == nil {
		return 0, false
	}
	return s.Task.Progress.Percent()
}

func (s State) clone() State {
	out := s
	if s.Task != nil {
		t := *s.Task
		if s.Task.Progress != nil {
			p := *s.Task.Progress
			t.Progress = &p
		}
		out.Task = &t
	}
	out.Domains = append([]string(nil), s.Domains...)
	if s.Results != nil {
		out.Results = append([]domain.AnalysisResult(nil), s.Results...)
	}
	return out
}
