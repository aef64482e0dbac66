package jobstate_test

import (
	"errors"
	"testing"

	"github.com/zenith-fleet/zenith/internal/jobstate"
)

func TestNewMachine_StartsPending(t *testing.T) {
	m := jobstate.NewMachine("job-1")
	if m.Current() != jobstate.Pending {
		t.Fatalf("Current() = %v, want Pending", m.Current())
	}
}

func TestTransition_FollowsHappyPath(t *testing.T) {
	m := jobstate.NewMachine("job-1")
	path := []jobstate.State{jobstate.Queued, jobstate.Scheduled, jobstate.Running, jobstate.Completed}
	for _, s := range path {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%v): %v", s, err)
		}
	}
	if m.Current() != jobstate.Completed {
		t.Fatalf("Current() = %v, want Completed", m.Current())
	}
	if !m.Current().IsTerminal() {
		t.Fatal("Completed should be terminal")
	}
}

func TestTransition_RejectsSkippingStates(t *testing.T) {
	m := jobstate.NewMachine("job-1")
	err := m.Transition(jobstate.Running)
	var illegal *jobstate.ErrIllegalTransition
	if !errors.As(err, &illegal) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestTransition_RejectsLeavingTerminalState(t *testing.T) {
	m := jobstate.NewMachine("job-1")
	for _, s := range []jobstate.State{jobstate.Queued, jobstate.Scheduled, jobstate.Running, jobstate.Cancelled} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%v): %v", s, err)
		}
	}
	if err := m.Transition(jobstate.Queued); err == nil {
		t.Fatal("expected transition out of terminal Cancelled to be rejected")
	}
}

func TestSuspendResume_RoundTripsThroughRunning(t *testing.T) {
	m := jobstate.NewMachine("job-1")
	for _, s := range []jobstate.State{jobstate.Queued, jobstate.Scheduled, jobstate.Running} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%v): %v", s, err)
		}
	}
	if err := m.Transition(jobstate.Suspended); err != nil {
		t.Fatalf("Transition(Suspended): %v", err)
	}
	if err := m.Transition(jobstate.Running); err != nil {
		t.Fatalf("Transition(Running) after resume: %v", err)
	}
}

func TestSuspended_OnlyReachableFromRunning(t *testing.T) {
	m := jobstate.NewMachine("job-1")
	if err := m.Transition(jobstate.Suspended); err == nil {
		t.Fatal("expected Suspended to be unreachable directly from Pending")
	}
}

func TestRequeue_IncrementsRetryCountOnlyExplicitly(t *testing.T) {
	m := jobstate.NewMachine("job-1")
	if err := m.Transition(jobstate.Queued); err != nil {
		t.Fatalf("Transition(Queued): %v", err)
	}
	if err := m.Transition(jobstate.Scheduled); err != nil {
		t.Fatalf("Transition(Scheduled): %v", err)
	}
	if m.RetryCount() != 0 {
		t.Fatalf("RetryCount() = %d, want 0 before any Requeue", m.RetryCount())
	}
	count, err := m.Requeue()
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if count != 1 {
		t.Fatalf("Requeue returned %d, want 1", count)
	}
	if m.Current() != jobstate.Queued {
		t.Fatalf("Current() = %v, want Queued after Requeue", m.Current())
	}
}

func TestRequeue_SucceedsFromFailed(t *testing.T) {
	m := jobstate.NewMachine("job-1")
	for _, s := range []jobstate.State{jobstate.Queued, jobstate.Scheduled, jobstate.Running, jobstate.Failed} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("setup Transition(%v): %v", s, err)
		}
	}
	count, err := m.Requeue()
	if err != nil {
		t.Fatalf("Requeue from Failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Requeue returned %d, want 1", count)
	}
	if m.Current() != jobstate.Queued {
		t.Fatalf("Current() = %v, want Queued", m.Current())
	}
}

func TestRequeue_RejectedFromPendingAndOtherTerminalStates(t *testing.T) {
	m := jobstate.NewMachine("job-1")
	if _, err := m.Requeue(); err == nil {
		t.Fatal("expected Requeue to be rejected from Pending")
	}

	for _, s := range []jobstate.State{jobstate.Queued, jobstate.Scheduled, jobstate.Running, jobstate.Cancelled} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("setup Transition(%v): %v", s, err)
		}
	}
	if _, err := m.Requeue(); err == nil {
		t.Fatal("expected Requeue to be rejected from terminal Cancelled")
	}
}

func TestCancel_ReachableFromAnyNonTerminalState(t *testing.T) {
	for _, start := range []jobstate.State{jobstate.Pending, jobstate.Queued, jobstate.Scheduled, jobstate.Running} {
		m := jobstate.NewMachine("job-1")
		path := map[jobstate.State][]jobstate.State{
			jobstate.Pending:   {},
			jobstate.Queued:    {jobstate.Queued},
			jobstate.Scheduled: {jobstate.Queued, jobstate.Scheduled},
			jobstate.Running:   {jobstate.Queued, jobstate.Scheduled, jobstate.Running},
		}[start]
		for _, s := range path {
			if err := m.Transition(s); err != nil {
				t.Fatalf("setup Transition(%v): %v", s, err)
			}
		}
		if err := m.Transition(jobstate.Cancelled); err != nil {
			t.Fatalf("Transition(Cancelled) from %v: %v", start, err)
		}
	}
}
