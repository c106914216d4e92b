package swarm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

// State is the run state machine position.
type State string

const (
	StatePlanning    State = "PLANNING"
	StateDispatching State = "DISPATCHING"
	StateDraining    State = "DRAINING"
	StateComplete    State = "COMPLETE"
	StateAborted     State = "ABORTED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateAborted
}

const maxFailureSamples = 20

// FailureSample describes one failed plan item.
type FailureSample struct {
	ItemID string            `json:"item_id"`
	Source models.SourceType `json:"source"`
	Query  string            `json:"query"`
	Reason string            `json:"reason"`
}

// RunReport is a snapshot of a run. Counters are live while the run executes.
type RunReport struct {
	RunID      string     `json:"run_id"`
	State      State      `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	PlanSize   int        `json:"plan_size"`

	Dispatched int64 `json:"dispatched"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed_items"`
	Requeued   int64 `json:"requeued"`
	Skipped    int64 `json:"skipped"`

	CandidatesSeen     int64 `json:"candidates_seen"`
	CandidatesRejected int64 `json:"candidates_rejected"`
	Created            int64 `json:"created"`
	Merged             int64 `json:"merged"`
	Unchanged          int64 `json:"unchanged"`
	Conflicts          int64 `json:"merge_conflicts"`

	FailureSamples []FailureSample `json:"failure_samples,omitempty"`
	// Statistics covers the businesses created or updated by this run.
	Statistics *models.Statistics `json:"statistics,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type counters struct {
	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	requeued   atomic.Int64

	seen      atomic.Int64
	rejected  atomic.Int64
	created   atomic.Int64
	merged    atomic.Int64
	unchanged atomic.Int64
	conflicts atomic.Int64
}

// failureLog keeps the first maxFailureSamples failures.
type failureLog struct {
	mu      sync.Mutex
	samples []FailureSample
}

func (f *failureLog) add(s FailureSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.samples) < maxFailureSamples {
		f.samples = append(f.samples, s)
	}
}

func (f *failureLog) snapshot() []FailureSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.samples) == 0 {
		return nil
	}
	out := make([]FailureSample, len(f.samples))
	copy(out, f.samples)
	return out
}

// touchedSet records ids written during the run.
type touchedSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (t *touchedSet) add(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ids == nil {
		t.ids = make(map[string]struct{})
	}
	t.ids[id] = struct{}{}
}

func (t *touchedSet) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.ids))
	for id := range t.ids {
		out = append(out, id)
	}
	return out
}
