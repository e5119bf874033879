// Package tracker follows one remote analysis task at a time from
// submission to a terminal status.
//
// Submit starts a task and an observer goroutine that either polls the
// status endpoint on a fixed interval or consumes the server-sent status
// stream. A new Submit, Cancel or Close stops the previous observer and waits
// for it to exit before anything else happens, so no update for an old task
// is ever published after a newer submission.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/backoff"
	"github.com/osvaldoandrade/domainscan/internal/metrics"
	"github.com/osvaldoandrade/domainscan/internal/normalize"
	"github.com/osvaldoandrade/domainscan/internal/submitter"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

const (
	ModePoll   = "poll"
	ModeStream = "stream"
)

var ErrClosed = errors.New("tracker closed")

type Options struct {
	Mode         string
	PollInterval time.Duration
	// MaxTransportRetries is how many failed status reads in a row are
	// retried before observation is declared lost.
	MaxTransportRetries int
	ResultFetchAttempts int
	Backoff             backoff.Policy
	Logger              *slog.Logger
	// OnFinish runs on the observer goroutine once a generation reaches a
	// terminal phase. It must not call Submit, Cancel or Close.
	OnFinish func(State)
}

func (o *Options) defaults() {
	if o.Mode == "" {
		o.Mode = ModePoll
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxTransportRetries < 0 {
		o.MaxTransportRetries = 0
	}
	if o.ResultFetchAttempts <= 0 {
		o.ResultFetchAttempts = 1
	}
	if o.Backoff.Name == "" {
		o.Backoff = backoff.Policy{Name: backoff.PolicyExpFullJitter, Base: 500 * time.Millisecond, Max: 10 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type Tracker struct {
	api  analysisapi.API
	sub  *submitter.Submitter
	opts Options

	// submitMu serialises Submit calls.
	submitMu sync.Mutex

	mu      sync.Mutex
	state   State
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	subs    map[int]chan State
	nextSub int
	closed  bool
}

func New(api analysisapi.API, opts Options) *Tracker {
	opts.defaults()
	return &Tracker{
		api:   api,
		sub:   submitter.New(api, opts.Logger),
		opts:  opts,
		state: State{Phase: PhaseIdle},
		subs:  map[int]chan State{},
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

// Subscribe returns a channel receiving every published state. A slow
// reader only ever misses intermediate states; the newest is always kept.
// The current state is delivered immediately.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan State, 1)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	ch <- t.state.clone()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
		})
	}
}

// Submit validates text, stops any previous observation and starts a new
// task. A ValidationError leaves the current state untouched and makes no
// request. A CreationError moves the phase to failed without polling.
func (t *Tracker) Submit(ctx context.Context, text string) (State, error) {
	domains, err := t.sub.Parse(text)
	if err != nil {
		return t.Snapshot(), err
	}

	// Interrupt a submission that is still waiting on the create call.
	t.stop()
	t.submitMu.Lock()
	defer t.submitMu.Unlock()
	t.stop()

	obsCtx, gen, done, err := t.begin(State{Phase: PhaseSubmitting, Domains: domains})
	if err != nil {
		return State{}, err
	}

	createCtx, stopCreate := context.WithCancel(ctx)
	unlink := context.AfterFunc(obsCtx, stopCreate)
	id, err := t.sub.Create(createCtx, domains)
	unlink()
	stopCreate()

	if obsCtx.Err() != nil {
		close(done)
		return t.Snapshot(), domain.ErrObservationCancelled
	}
	if err != nil {
		t.update(gen, func(s *State) {
			s.Phase = PhaseFailed
			s.Err = err
		})
		t.finish(gen)
		close(done)
		return t.Snapshot(), err
	}

	degraded := normalize.IsPlaceholderID(id)
	if degraded {
		t.opts.Logger.Warn("tracking task with placeholder id", "taskId", id)
	}
	t.update(gen, func(s *State) {
		s.Phase = PhasePolling
		s.TaskID = id
		s.Degraded = degraded
		s.Task = &domain.AnalysisTask{ID: id, Status: domain.StatusPending}
	})
	go t.observe(obsCtx, gen, id, done)
	return t.Snapshot(), nil
}

// Watch observes a task that was created elsewhere, replacing any current
// observation. No create request is made.
func (t *Tracker) Watch(id string) (State, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return t.Snapshot(), &domain.ValidationError{Field: "taskId", Reason: "a task id is required"}
	}

	t.stop()
	t.submitMu.Lock()
	defer t.submitMu.Unlock()
	t.stop()

	obsCtx, gen, done, err := t.begin(State{
		Phase:    PhasePolling,
		TaskID:   id,
		Degraded: normalize.IsPlaceholderID(id),
		Task:     &domain.AnalysisTask{ID: id, Status: domain.StatusPending},
	})
	if err != nil {
		return State{}, err
	}
	go t.observe(obsCtx, gen, id, done)
	return t.Snapshot(), nil
}

// begin opens a new generation starting from st. The caller holds submitMu
// and owns closing done.
func (t *Tracker) begin(st State) (context.Context, uint64, chan struct{}, error) {
	obsCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		cancel()
		return nil, 0, nil, ErrClosed
	}
	t.gen++
	t.cancel, t.done = cancel, done
	now := time.Now()
	st.Generation = t.gen
	st.StartedAt, st.UpdatedAt = now, now
	t.state = st
	t.publishLocked()
	return obsCtx, t.gen, done, nil
}

// Cancel stops observing the current task. The remote task is not
// affected. A non-terminal state returns to idle with
// ErrObservationCancelled.
func (t *Tracker) Cancel() State {
	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()
	t.stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen == gen && t.state.Phase != PhaseIdle && !t.state.Phase.IsTerminal() {
		t.state.Phase = PhaseIdle
		t.setErrLocked(domain.ErrObservationCancelled)
		t.state.UpdatedAt = time.Now()
		metrics.ObservationsFinishedTotal.WithLabelValues("cancelled").Inc()
		t.publishLocked()
	}
	return t.state.clone()
}

// Close stops observation and closes every subscription.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

// stop cancels the active observer and waits for it to exit.
func (t *Tracker) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// update applies fn when gen is still current and publishes the result.
func (t *Tracker) update(gen uint64, fn func(*State)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || t.state.Phase.IsTerminal() {
		return false
	}
	fn(&t.state)
	if t.state.Err != nil {
		t.state.Error = t.state.Err.Error()
	}
	t.state.UpdatedAt = time.Now()
	t.publishLocked()
	return true
}

func (t *Tracker) setErrLocked(err error) {
	t.state.Err = err
	t.state.Error = err.Error()
}

func (t *Tracker) publishLocked() {
	s := t.state.clone()
	for _, ch := range t.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// finish records metrics and runs OnFinish for a terminal generation.
func (t *Tracker) finish(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.state.Phase.IsTerminal() {
		t.mu.Unlock()
		return
	}
	s := t.state.clone()
	t.mu.Unlock()

	label := string(s.Phase)
	var lost *domain.PollingTransportError
	if errors.As(s.Err, &lost) {
		label = "lost"
	}
	metrics.ObservationsFinishedTotal.WithLabelValues(label).Inc()
	metrics.ObservationDurationSeconds.WithLabelValues(label).Observe(s.UpdatedAt.Sub(s.StartedAt).Seconds())
	t.opts.Logger.Info("task observation finished", "taskId", s.TaskID, "phase", s.Phase, "results", len(s.Results), "err", s.Error)
	if t.opts.OnFinish != nil {
		t.opts.OnFinish(s)
	}
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
