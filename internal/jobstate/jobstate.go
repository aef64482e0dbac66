// Package jobstate — jobstate.go
//
// Defines the job lifecycle state machine for Zenith's gang scheduler.
//
// State transition graph:
//
//	Pending ──→ Queued ──→ Scheduled ──→ Running ──┬─→ Completed
//	                                                ├─→ Failed
//	                                                ├─→ Cancelled
//	                                                └─→ Timeout
//
//	Any of {Pending, Queued, Scheduled} ──→ Cancelled
//	Running ──(Suspend)──→ Suspended ──(Resume)──→ Running
//
// Monotonicity invariant:
//   - Transitions only move forward along the edges in transitionTable.
//   - Completed, Failed, Cancelled, and Timeout are terminal with respect to
//     Transition: no edge in transitionTable leaves them.
//   - Suspended is reachable only via the explicit Suspend call, never as a
//     side effect of any other transition, and is left only via Resume
//     (back to Running) or Cancel (to Cancelled).
//   - Requeue is the one deliberate exception to the forward-only graph: a
//     Scheduled, Running, or Failed job may be explicitly resubmitted to
//     Queued (see requeueSources), incrementing retry_count. This never
//     happens as a side effect of Transition — only an explicit Requeue
//     call reaches back into Queued from those states.
//   - State transitions are atomic under a per-job mutex.
//
// State semantics:
//
//	Pending    — Submitted, not yet admitted to the scheduling queue.
//	Queued     — Admitted, waiting for schedule_cycle to place it.
//	Scheduled  — Placement decided, not yet confirmed running.
//	Running    — Confirmed running on its assigned node(s).
//	Suspended  — Running, but temporarily paused by an explicit Suspend call.
//	Completed  — Finished successfully. Terminal.
//	Failed     — Finished with an error. Terminal.
//	Cancelled  — Removed before or during execution by request. Terminal.
//	Timeout    — Exceeded its configured job_timeout_secs while Running. Terminal.
package jobstate

import (
	"fmt"
	"sync"
	"time"
)

// State represents a job's position in its lifecycle.
type State uint8

const (
	Pending State = iota
	Queued
	Scheduled
	Running
	Suspended
	Completed
	Failed
	Cancelled
	Timeout
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Queued:
		return "Queued"
	case Scheduled:
		return "Scheduled"
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	case Timeout:
		return "Timeout"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// ParseState parses the String() form of a State back into its value.
func ParseState(s string) (State, bool) {
	switch s {
	case "Pending":
		return Pending, true
	case "Queued":
		return Queued, true
	case "Scheduled":
		return Scheduled, true
	case "Running":
		return Running, true
	case "Suspended":
		return Suspended, true
	case "Completed":
		return Completed, true
	case "Failed":
		return Failed, true
	case "Cancelled":
		return Cancelled, true
	case "Timeout":
		return Timeout, true
	default:
		return 0, false
	}
}

// IsTerminal reports whether no transition can leave this state.
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Failed, Cancelled, Timeout:
		return true
	default:
		return false
	}
}

// transitionTable enumerates every legal edge. A transition not present
// here is rejected by Machine.Transition.
var transitionTable = map[State]map[State]bool{
	Pending:   {Queued: true, Cancelled: true},
	Queued:    {Scheduled: true, Cancelled: true},
	Scheduled: {Running: true, Cancelled: true},
	Running: {
		Completed: true,
		Failed:    true,
		Cancelled: true,
		Timeout:   true,
		Suspended: true,
	},
	Suspended: {Running: true, Cancelled: true},
}

// ErrIllegalTransition is returned when a transition is not present in
// transitionTable.
type ErrIllegalTransition struct {
	From, To State
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("jobstate: illegal transition %s -> %s", e.From, e.To)
}

// Machine holds the mutable lifecycle state for a single job. All fields
// are protected by mu. Do not access fields directly.
type Machine struct {
	mu          sync.Mutex
	jobID       string
	current     State
	enteredAt   time.Time
	retryCount  int
	lastEventAt time.Time
}

// NewMachine creates a Machine for jobID starting in Pending.
func NewMachine(jobID string) *Machine {
	now := time.Now()
	return &Machine{
		jobID:       jobID,
		current:     Pending,
		enteredAt:   now,
		lastEventAt: now,
	}
}

// Restore reconstructs a Machine that was previously loaded from persisted
// state. Unlike NewMachine, it does not assume Pending — state, retryCount,
// and timestamps are taken as given, since they were legally reached before
// the process restarted.
func Restore(jobID string, state State, retryCount int, enteredAt, lastEventAt time.Time) *Machine {
	return &Machine{
		jobID:       jobID,
		current:     state,
		enteredAt:   enteredAt,
		retryCount:  retryCount,
		lastEventAt: lastEventAt,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TimeInState returns how long the job has been in its current state.
func (m *Machine) TimeInState() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.enteredAt)
}

// Transition attempts to move to target. Returns an *ErrIllegalTransition
// if the edge is not present in transitionTable, including attempts to
// leave a terminal state or to enter Suspended from anything but Running.
func (m *Machine) Transition(target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	edges, ok := transitionTable[m.current]
	if !ok || !edges[target] {
		return &ErrIllegalTransition{From: m.current, To: target}
	}
	m.current = target
	m.enteredAt = time.Now()
	return nil
}

// requeueSources enumerates the states Requeue may resubmit from. This is
// intentionally separate from transitionTable: a Scheduled or Running job
// that needs to restart, or a Failed job an external controller chooses to
// retry, all resubmit to Queued, but none of those edges belong in the
// ordinary forward-only transition graph (transitionTable has no `-> Queued`
// edge at all, since nothing else ever re-enters Queued).
var requeueSources = map[State]bool{
	Scheduled: true,
	Running:   true,
	Failed:    true,
}

// Requeue increments retry_count. Per design, retry_count is only ever
// incremented through this explicit call, never implicitly by Transition.
func (m *Machine) Requeue() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !requeueSources[m.current] {
		return m.retryCount, &ErrIllegalTransition{From: m.current, To: Queued}
	}
	m.current = Queued
	m.enteredAt = time.Now()
	m.retryCount++
	return m.retryCount, nil
}

// RetryCount returns the number of times Requeue has succeeded for this job.
func (m *Machine) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// TouchEvent records the timestamp of the most recent heartbeat or status
// report affecting this job.
func (m *Machine) TouchEvent(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastEventAt = t
}

// LastEventAt returns the timestamp of the most recent recorded event.
func (m *Machine) LastEventAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEventAt
}

// JobID returns the job ID this machine belongs to.
func (m *Machine) JobID() string {
	return m.jobID // Immutable after construction, no lock needed.
}
