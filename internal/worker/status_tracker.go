package worker

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/report-dispatch/internal/events"
	"github.com/garyjia/report-dispatch/internal/models"
	"github.com/garyjia/report-dispatch/internal/workflow"
)

// StateQueued is reported for runs accepted but not yet started
const StateQueued = "QUEUED"

// RunStatus is the externally visible view of one run
type RunStatus struct {
	RunID      string                `json:"run_id"`
	Source     string                `json:"source"`
	State      string                `json:"state"`
	Error      string                `json:"error,omitempty"`
	QueuedAt   time.Time             `json:"queued_at"`
	StartedAt  *time.Time            `json:"started_at,omitempty"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Built      int                   `json:"built"`
	Dispatched int                   `json:"dispatched"`
	Summary    *models.RunSummary    `json:"summary,omitempty"`
	Records    []models.RecordResult `json:"records,omitempty"`
}

// Done reports whether the run reached a terminal state
func (s RunStatus) Done() bool {
	return workflow.State(s.State).IsTerminal()
}

// StatusTracker keeps the status of recent runs in memory. History is not
// persisted; once more than maxRuns are tracked the oldest finished runs are
// forgotten.
type StatusTracker struct {
	mu      sync.RWMutex
	runs    map[string]*RunStatus
	order   []string
	maxRuns int
}

// NewStatusTracker creates a tracker that remembers up to maxRuns runs
func NewStatusTracker(maxRuns int) *StatusTracker {
	if maxRuns < 1 {
		maxRuns = 100
	}
	return &StatusTracker{
		runs:    make(map[string]*RunStatus),
		maxRuns: maxRuns,
	}
}

// Subscribe feeds run progress from bus into the tracker
func (t *StatusTracker) Subscribe(bus *events.Bus) {
	bus.SubscribeNamed(events.TypeRunStateChanged, "status-tracker", t.onEvent)
	bus.SubscribeNamed(events.TypeRecordBuilt, "status-tracker", t.onEvent)
	bus.SubscribeNamed(events.TypeRecordDispatched, "status-tracker", t.onEvent)
}

// Queued registers a new run
func (t *StatusTracker) Queued(runID, source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runs[runID] = &RunStatus{
		RunID:    runID,
		Source:   source,
		State:    StateQueued,
		QueuedAt: time.Now(),
	}
	t.order = append(t.order, runID)
	t.evict()
}

// Finish records the final result of a run
func (t *StatusTracker) Finish(result *models.RunResult, runErr error) {
	if result == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.lookup(result.RunID)
	status.State = result.State
	status.Error = result.Error
	if status.Error == "" && runErr != nil {
		status.Error = runErr.Error()
	}
	if !result.StartedAt.IsZero() {
		started := result.StartedAt
		status.StartedAt = &started
	}
	finished := result.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	status.FinishedAt = &finished

	summary := result.Summary()
	status.Summary = &summary
	status.Records = append([]models.RecordResult(nil), result.Records...)
}

// Fail marks a run that could not be started at all
func (t *StatusTracker) Fail(runID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.lookup(runID)
	now := time.Now()
	status.State = workflow.StateFailed.String()
	status.Error = err.Error()
	status.FinishedAt = &now
}

// Get returns a copy of the status of runID
func (t *StatusTracker) Get(runID string) (RunStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status, ok := t.runs[runID]
	if !ok {
		return RunStatus{}, false
	}
	out := *status
	out.Records = append([]models.RecordResult(nil), status.Records...)
	return out, true
}

// Forget drops runID from the tracker
func (t *StatusTracker) Forget(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.runs, runID)
	for i, id := range t.order {
		if id == runID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Count returns the number of tracked runs
func (t *StatusTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.runs)
}

func (t *StatusTracker) onEvent(_ context.Context, evt *events.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.runs[evt.RunID]
	if !ok {
		// runs started outside the queue, e.g. from the CLI, are not tracked
		return nil
	}

	switch evt.Type {
	case events.TypeRunStateChanged:
		state := evt.GetPayloadString("state")
		// terminal states arrive with the result in Finish
		if !workflow.State(state).IsTerminal() {
			status.State = state
		}
		if status.StartedAt == nil {
			started := evt.Timestamp
			status.StartedAt = &started
		}
	case events.TypeRecordBuilt:
		status.Built++
	case events.TypeRecordDispatched:
		status.Dispatched++
	}
	return nil
}

// lookup returns the status for runID, creating it if needed. Callers hold mu.
func (t *StatusTracker) lookup(runID string) *RunStatus {
	status, ok := t.runs[runID]
	if !ok {
		status = &RunStatus{RunID: runID, QueuedAt: time.Now()}
		t.runs[runID] = status
		t.order = append(t.order, runID)
		t.evict()
	}
	return status
}

// evict drops the oldest finished runs while over capacity. Callers hold mu.
func (t *StatusTracker) evict() {
	for i := 0; len(t.runs) > t.maxRuns && i < len(t.order); {
		id := t.order[i]
		status, ok := t.runs[id]
		if ok && !status.Done() {
			i++
			continue
		}
		delete(t.runs, id)
		t.order = append(t.order[:i], t.order[i+1:]...)
	}
}
