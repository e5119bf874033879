package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/osvaldoandrade/domainscan/internal/backoff"
	"github.com/osvaldoandrade/domainscan/internal/metrics"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

func (t *Tracker) observe(ctx context.Context, gen uint64, id string, done chan struct{}) {
	defer close(done)
	defer t.finish(gen)

	if t.opts.Mode == ModeStream {
		if !t.stream(ctx, gen, id) {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
	t.poll(ctx, gen, id)
}

// apply merges a remote snapshot and reports the merged status.
func (t *Tracker) apply(gen uint64, snap domain.AnalysisTask) (domain.TaskStatus, bool) {
	var status domain.TaskStatus
	ok := t.update(gen, func(s *State) {
		if s.Task == nil {
			s.Task = &domain.AnalysisTask{ID: s.TaskID, Status: domain.StatusPending}
		}
		snap.ID = s.TaskID
		s.Task.Merge(snap)
		status = s.Task.Status
	})
	return status, ok
}

// settle handles a terminal remote status.
func (t *Tracker) settle(ctx context.Context, gen uint64, id string, status domain.TaskStatus) {
	switch status {
	case domain.StatusCompleted:
		t.fetchResults(ctx, gen, id)
	case domain.StatusFailed:
		t.update(gen, func(s *State) {
			msg := ""
			if s.Task != nil {
				msg = s.Task.Message
			}
			s.Phase = PhaseFailed
			s.Err = &domain.TaskFailedError{TaskID: id, Message: msg}
		})
	}
}

// poll reads the status endpoint until a terminal status, cancellation, or
// too many consecutive transport failures.
func (t *Tracker) poll(ctx context.Context, gen uint64, id string) {
	rng := newRand()
	failures := 0
	for {
		snap, err := t.api.GetTask(ctx, id)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			metrics.PollsTotal.WithLabelValues(ModePoll, "error").Inc()
			if analysisapi.Permanent(err) || failures > t.opts.MaxTransportRetries {
				t.lose(gen, id, failures, err)
				return
			}
			delay := t.opts.Backoff.Delay(failures-1, rng)
			t.opts.Logger.Warn("status read failed; retrying", "taskId", id, "attempt", failures, "delay", delay, "err", err)
			if backoff.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}
		failures = 0
		metrics.PollsTotal.WithLabelValues(ModePoll, "ok").Inc()

		status, ok := t.apply(gen, snap)
		if !ok {
			return
		}
		if status.IsTerminal() {
			t.settle(ctx, gen, id, status)
			return
		}
		if backoff.Sleep(ctx, t.opts.PollInterval) != nil {
			return
		}
	}
}

// stream consumes pushed status events. It reports true when observation
// should continue by polling: the version has no stream, the stream could
// not be opened, or it ended before a terminal status.
func (t *Tracker) stream(ctx context.Context, gen uint64, id string) bool {
	s, err := t.api.StreamStatus(ctx, id)
	if err != nil {
		if !errors.Is(err, analysisapi.ErrStreamUnsupported) {
			t.opts.Logger.Warn("status stream unavailable; polling instead", "taskId", id, "err", err)
		}
		return true
	}
	defer s.Close()

	for {
		ev, err := s.Next()
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				metrics.PollsTotal.WithLabelValues(ModeStream, "error").Inc()
			}
			t.opts.Logger.Warn("status stream ended early; polling instead", "taskId", id, "err", err)
			return true
		}
		metrics.PollsTotal.WithLabelValues(ModeStream, "ok").Inc()
		status, ok := t.apply(gen, ev.Task)
		if !ok {
			return false
		}
		if status.IsTerminal() {
			t.settle(ctx, gen, id, status)
			return false
		}
		if ev.Complete {
			// The server declared the stream done without a terminal
			// status we accept; confirm by polling.
			return true
		}
	}
}

func (t *Tracker) fetchResults(ctx context.Context, gen uint64, id string) {
	rng := newRand()
	var lastErr error
	for attempt := 0; attempt < t.opts.ResultFetchAttempts; attempt++ {
		if attempt > 0 {
			if backoff.Sleep(ctx, t.opts.Backoff.Delay(attempt-1, rng)) != nil {
				return
			}
		}
		res, err := t.api.GetResults(ctx, id)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			t.update(gen, func(s *State) {
				s.Phase = PhaseCompleted
				s.Results = res
			})
			return
		}
		lastErr = err
		t.opts.Logger.Warn("results fetch failed", "taskId", id, "attempt", attempt+1, "err", err)
	}
	t.update(gen, func(s *State) {
		s.Phase = PhaseFailed
		s.Err = fmt.Errorf("fetch results for task %s: %w", id, lastErr)
	})
}

func (t *Tracker) lose(gen uint64, id string, attempts int, err error) {
	t.update(gen, func(s *State) {
		s.Phase = PhaseFailed
		s.Err = &domain.PollingTransportError{TaskID: id, Attempts: attempts, Err: err}
	})
}
