package http

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

const (
	defaultRunRetention    = time.Hour
	defaultMaxFinishedRuns = 1000
)

// Tracker keeps the live phase of every run submitted through the server.
// Finished runs are evicted once older than the retention window or when
// more than the maximum are held. It implements orchestrator.Observer.
type Tracker struct {
	retention   time.Duration
	maxFinished int

	mu   sync.RWMutex
	runs map[string]*RunStatusResponse
	// finished holds terminal run ids, oldest first.
	finished []string
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithRetention sets how long a finished run stays visible.
func WithRetention(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.retention = d
		}
	}
}

// WithMaxFinished caps how many finished runs are kept.
func WithMaxFinished(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.maxFinished = n
		}
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		retention:   defaultRunRetention,
		maxFinished: defaultMaxFinishedRuns,
		runs:        make(map[string]*RunStatusResponse),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) add(runID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evict(now)
	t.runs[runID] = &RunStatusResponse{RunID: runID, Phase: orchestrator.PhaseIdle, UpdatedAt: now}
}

// OnTransition records the phase entered. Transitions of runs the tracker
// did not submit are ignored.
func (t *Tracker) OnTransition(_ context.Context, tr orchestrator.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.runs[tr.RunID]
	if !ok || st.Summary != nil {
		return
	}
	st.Phase = tr.To
	st.Iteration = tr.Iteration
	st.UpdatedAt = tr.At
}

func (t *Tracker) finish(s orchestrator.Summary, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.runs[s.RunID]
	if !ok {
		st = &RunStatusResponse{RunID: s.RunID}
		t.runs[s.RunID] = st
	}
	if st.Summary == nil {
		t.finished = append(t.finished, s.RunID)
	}
	st.Phase = s.Phase
	st.Iteration = s.Iterations
	st.UpdatedAt = now
	st.Summary = &s
	t.evict(now)
}

// evict drops finished runs past retention, then the oldest beyond the
// cap. Callers hold mu.
func (t *Tracker) evict(now time.Time) {
	cutoff := now.Add(-t.retention)
	n := 0
	for n < len(t.finished) {
		st := t.runs[t.finished[n]]
		if len(t.finished)-n <= t.maxFinished && st.UpdatedAt.After(cutoff) {
			break
		}
		delete(t.runs, t.finished[n])
		n++
	}
	if n > 0 {
		t.finished = append(t.finished[:0], t.finished[n:]...)
	}
}

// Get returns a copy of the run's status.
func (t *Tracker) Get(runID string) (RunStatusResponse, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.runs[runID]
	if !ok {
		return RunStatusResponse{}, false
	}
	return *st, true
}

// Active counts runs that have not reached a terminal phase.
func (t *Tracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, st := range t.runs {
		if !st.Phase.Terminal() {
			n++
		}
	}
	return n
}

var _ orchestrator.Observer = (*Tracker)(nil)
