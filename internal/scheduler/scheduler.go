// Package scheduler — scheduler.go
//
// GangScheduler places jobs onto nodes such that multi-GPU jobs are placed
// atomically, respects priorities, and reaps failures.
//
// Placement algorithm:
//  1. If required_gpus == 0 (CPU-only), pick any healthy node; the
//     allocation records the node but no GPU IDs.
//  2. Otherwise list candidate nodes: healthy nodes with >= 1 available GPU.
//  3. If policy.GangSchedule && locality.PreferSameNode: find the first
//     candidate with available_gpus >= required_gpus; take the first
//     required_gpus unallocated GPUs on it.
//  4. Else spread greedily across candidates in iteration order, consuming
//     as many GPUs as each node has free until required_gpus are collected.
//     If the sum of free GPUs across all candidates is less than
//     required_gpus, placement fails and the job stays queued.
//  5. On success, return a decision {job_id, allocations, gang_allocated}.
//
// Partial allocation is never exposed externally: a job is placed in full
// or not at all. Node iteration order is whatever NodesWithAvailableGPUs
// yields; same-priority jobs are not guaranteed FIFO stability.
package scheduler

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/zenith-fleet/zenith/internal/audit"
	"github.com/zenith-fleet/zenith/internal/jobstate"
	"github.com/zenith-fleet/zenith/internal/noderegistry"
	"github.com/zenith-fleet/zenith/internal/persist"
)

// jobQueue is a container/heap priority queue ordered by descending
// SchedulingPolicy.Priority (higher priority pops first).
type jobQueue []*Job

func (q jobQueue) Len() int { return len(q) }
func (q jobQueue) Less(i, j int) bool {
	return q[i].Descriptor.Policy.Priority > q[j].Descriptor.Policy.Priority
}
func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *jobQueue) Push(x interface{}) {
	*q = append(*q, x.(*Job))
}
func (q *jobQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// GangScheduler owns the job queue, the full set of known jobs, and the
// node registry they are placed against.
type GangScheduler struct {
	mu sync.Mutex

	queue jobQueue
	jobs  map[string]*Job

	nodes     *noderegistry.Registry
	ledger    *audit.Ledger // may be nil (audit optional)
	dataDir   string        // empty disables persistence
	syncWrite bool

	jobTimeout time.Duration
	nextSeq    uint64
}

// Config configures a GangScheduler.
type Config struct {
	Nodes          *noderegistry.Registry
	Ledger         *audit.Ledger
	DataDir        string
	SyncOnWrite    bool
	JobTimeoutSecs int
}

// New creates a GangScheduler.
func New(cfg Config) *GangScheduler {
	s := &GangScheduler{
		jobs:       make(map[string]*Job),
		nodes:      cfg.Nodes,
		ledger:     cfg.Ledger,
		dataDir:    cfg.DataDir,
		syncWrite:  cfg.SyncOnWrite,
		jobTimeout: time.Duration(cfg.JobTimeoutSecs) * time.Second,
	}
	heap.Init(&s.queue)
	return s
}

// SetJobTimeout updates the Running-job timeout applied by future
// CleanupZombieJobs passes. A zero duration disables the timeout check.
func (s *GangScheduler) SetJobTimeout(d time.Duration) {
	s.mu.Lock()
	s.jobTimeout = d
	s.mu.Unlock()
}

func (s *GangScheduler) nextJobID() string {
	s.nextSeq++
	return fmt.Sprintf("job-%d-%d", time.Now().UnixNano(), s.nextSeq)
}

// Submit admits a new job: Pending -> Queued, enqueued by priority.
func (s *GangScheduler) Submit(desc JobDescriptor) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextJobID()
	j := &Job{
		ID:          id,
		Descriptor:  desc,
		SubmittedAt: time.Now(),
		machine:     jobstate.NewMachine(id),
	}
	if err := j.machine.Transition(jobstate.Queued); err != nil {
		return "", fmt.Errorf("scheduler.Submit: %w", err)
	}
	s.jobs[id] = j
	heap.Push(&s.queue, j)
	s.recordTransition(j, jobstate.Pending, jobstate.Queued)
	s.persistLocked()
	return id, nil
}

// Cancel cancels a job. Allowed from Pending/Queued (drops from queue,
// releases no resources since none were allocated) and from
// Scheduled/Running (releases the job's GPU allocations, which are held
// from the moment ScheduleCycle places it, not just once it starts
// running). Rejected from terminal states.
func (s *GangScheduler) Cancel(jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("scheduler.Cancel: job %q not found", jobID)
	}

	from := j.machine.Current()
	if from == jobstate.Scheduled || from == jobstate.Running {
		s.releaseAllocations(j)
	}
	if err := j.machine.Transition(jobstate.Cancelled); err != nil {
		return fmt.Errorf("scheduler.Cancel(%q): %w", jobID, err)
	}
	j.Message = reason
	j.EndedAt = time.Now()
	s.removeFromQueue(jobID)
	s.recordTransition(j, from, jobstate.Cancelled)
	s.persistLocked()
	return nil
}

func (s *GangScheduler) removeFromQueue(jobID string) {
	for i, qj := range s.queue {
		if qj.ID == jobID {
			heap.Remove(&s.queue, i)
			return
		}
	}
}

// ScheduleCycle iterates the queue in priority order, up to maxBatch,
// attempting placement for each. Successfully-placed jobs are removed from
// the queue and transitioned to Scheduled.
func (s *GangScheduler) ScheduleCycle(maxBatch int) []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	var decisions []Decision
	var requeue []*Job
	attempts := 0

	for s.queue.Len() > 0 && attempts < maxBatch {
		j := heap.Pop(&s.queue).(*Job)
		attempts++

		decision, ok := s.tryPlace(j)
		if !ok {
			requeue = append(requeue, j)
			continue
		}

		from := j.machine.Current()
		if err := j.machine.Transition(jobstate.Scheduled); err != nil {
			requeue = append(requeue, j)
			continue
		}
		j.ScheduledAt = time.Now()
		j.Allocations = decisionToAllocations(decision)
		s.recordTransition(j, from, jobstate.Scheduled)
		decisions = append(decisions, decision)
	}

	for _, j := range requeue {
		heap.Push(&s.queue, j)
	}

	s.persistLocked()
	return decisions
}

func decisionToAllocations(d Decision) []Allocation {
	out := make([]Allocation, 0, len(d.Allocations))
	for nodeID, gpus := range d.Allocations {
		out = append(out, Allocation{NodeID: nodeID, GPUIDs: gpus})
	}
	return out
}

// tryPlace attempts the placement algorithm for j without mutating job
// state; it only reserves GPUs in the node registry on success.
func (s *GangScheduler) tryPlace(j *Job) (Decision, bool) {
	req := j.Descriptor.Resources.GPUCount

	if req == 0 {
		healthy := s.nodes.HealthyNodes()
		if len(healthy) == 0 {
			return Decision{}, false
		}
		node := healthy[0]
		return Decision{
			JobID:         j.ID,
			Allocations:   map[string][]int{node.ID: {}},
			GangAllocated: true,
		}, true
	}

	candidates := s.nodes.NodesWithAvailableGPUs()

	if j.Descriptor.Policy.GangSchedule && j.Descriptor.Locality.PreferSameNode {
		for _, n := range candidates {
			free := freeGPUIDs(n)
			if len(free) >= req {
				alloc := map[string][]int{n.ID: free[:req]}
				s.nodes.AllocateGPUs(n.ID, j.ID, free[:req])
				return Decision{JobID: j.ID, Allocations: alloc, GangAllocated: true}, true
			}
		}
		return Decision{}, false
	}

	remaining := req
	alloc := make(map[string][]int)
	for _, n := range candidates {
		if remaining <= 0 {
			break
		}
		free := freeGPUIDs(n)
		take := len(free)
		if take > remaining {
			take = remaining
		}
		if take == 0 {
			continue
		}
		alloc[n.ID] = free[:take]
		remaining -= take
	}

	if remaining > 0 {
		return Decision{}, false
	}

	for nodeID, gpus := range alloc {
		s.nodes.AllocateGPUs(nodeID, j.ID, gpus)
	}
	return Decision{JobID: j.ID, Allocations: alloc, GangAllocated: true}, true
}

func freeGPUIDs(n noderegistry.Node) []int {
	var ids []int
	for _, g := range n.Topology.GPUs {
		if !g.Allocated {
			ids = append(ids, g.Index)
		}
	}
	return ids
}

// releaseAllocations frees every GPU j holds, on every node it holds one,
// back to unallocated.
func (s *GangScheduler) releaseAllocations(j *Job) {
	for _, a := range j.Allocations {
		s.nodes.ReleaseGPUs(a.NodeID, j.ID)
	}
}

// MarkJobStarted transitions Scheduled -> Running, recording start time.
func (s *GangScheduler) MarkJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("scheduler.MarkJobStarted: job %q not found", jobID)
	}
	from := j.machine.Current()
	if err := j.machine.Transition(jobstate.Running); err != nil {
		return fmt.Errorf("scheduler.MarkJobStarted(%q): %w", jobID, err)
	}
	j.StartedAt = time.Now()
	s.recordTransition(j, from, jobstate.Running)
	s.persistLocked()
	return nil
}

// MarkJobCompleted transitions Running -> Completed or Failed.
func (s *GangScheduler) MarkJobCompleted(jobID string, success bool, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("scheduler.MarkJobCompleted: job %q not found", jobID)
	}
	target := jobstate.Completed
	if !success {
		target = jobstate.Failed
	}
	from := j.machine.Current()
	if err := j.machine.Transition(target); err != nil {
		return fmt.Errorf("scheduler.MarkJobCompleted(%q): %w", jobID, err)
	}
	j.EndedAt = time.Now()
	j.Message = message
	s.releaseAllocations(j)
	s.recordTransition(j, from, target)
	s.persistLocked()
	return nil
}

// Suspend transitions Running -> Suspended.
func (s *GangScheduler) Suspend(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("scheduler.Suspend: job %q not found", jobID)
	}
	from := j.machine.Current()
	if err := j.machine.Transition(jobstate.Suspended); err != nil {
		return fmt.Errorf("scheduler.Suspend(%q): %w", jobID, err)
	}
	s.recordTransition(j, from, jobstate.Suspended)
	s.persistLocked()
	return nil
}

// Resume transitions Suspended -> Running.
func (s *GangScheduler) Resume(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("scheduler.Resume: job %q not found", jobID)
	}
	from := j.machine.Current()
	if err := j.machine.Transition(jobstate.Running); err != nil {
		return fmt.Errorf("scheduler.Resume(%q): %w", jobID, err)
	}
	s.recordTransition(j, from, jobstate.Running)
	s.persistLocked()
	return nil
}

// Requeue increments retry_count and returns a job to the Queued state,
// re-entering the scheduling queue. A Scheduled or Running job already
// holds GPU allocations from a prior ScheduleCycle; those are released
// here since the job will be re-placed, possibly onto different nodes,
// the next time ScheduleCycle runs.
func (s *GangScheduler) Requeue(jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return 0, fmt.Errorf("scheduler.Requeue: job %q not found", jobID)
	}
	from := j.machine.Current()
	count, err := j.machine.Requeue()
	if err != nil {
		return count, fmt.Errorf("scheduler.Requeue(%q): %w", jobID, err)
	}
	if from == jobstate.Scheduled || from == jobstate.Running {
		s.releaseAllocations(j)
		j.Allocations = nil
	}
	j.RetryCount = count
	heap.Push(&s.queue, j)
	s.recordTransition(j, from, jobstate.Queued)
	s.persistLocked()
	return count, nil
}

// CleanupZombieJobs transitions Running -> Timeout for jobs exceeding
// job_timeout_secs, and Running -> Failed for jobs with an unhealthy
// allocated node. Returns the number of jobs reaped.
func (s *GangScheduler) CleanupZombieJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	now := time.Now()

	for _, j := range s.jobs {
		if j.machine.Current() != jobstate.Running {
			continue
		}

		if s.jobTimeout > 0 && now.Sub(j.StartedAt) > s.jobTimeout {
			from := j.machine.Current()
			if err := j.machine.Transition(jobstate.Timeout); err == nil {
				j.EndedAt = now
				j.Message = "job exceeded job_timeout_secs"
				s.releaseAllocations(j)
				s.recordTransitionWithCause(j, from, jobstate.Timeout, "timeout")
				count++
				continue
			}
		}

		for _, a := range j.Allocations {
			if !s.nodes.IsNodeHealthy(a.NodeID) {
				from := j.machine.Current()
				if err := j.machine.Transition(jobstate.Failed); err == nil {
					j.EndedAt = now
					j.Message = fmt.Sprintf("node %q unhealthy", a.NodeID)
					s.releaseAllocations(j)
					s.recordTransitionWithCause(j, from, jobstate.Failed, "node_unhealthy")
					count++
				}
				break
			}
		}
	}

	if count > 0 {
		s.persistLocked()
	}
	return count
}

// GetJob returns a copy of the named job.
func (s *GangScheduler) GetJob(jobID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// JobsWithState returns a snapshot of all jobs currently in the given state.
func (s *GangScheduler) JobsWithState(state jobstate.State) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Job
	for _, j := range s.jobs {
		if j.machine.Current() == state {
			out = append(out, *j)
		}
	}
	return out
}

// QueueSize returns the number of jobs currently queued for placement.
func (s *GangScheduler) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *GangScheduler) recordTransition(j *Job, from, to jobstate.State) {
	s.recordTransitionWithCause(j, from, to, "")
}

func (s *GangScheduler) recordTransitionWithCause(j *Job, from, to jobstate.State, _ string) {
	if s.ledger == nil {
		return
	}
	_ = s.ledger.Append(audit.Entry{
		Kind:      audit.KindJobTransition,
		JobID:     j.ID,
		StateFrom: from.String(),
		StateTo:   to.String(),
	})
}

// persistLocked writes the current job set to jobs.json. Caller must hold
// s.mu. Persistence errors are discarded and not logged; in-memory state
// is always the source of truth for the running process.
func (s *GangScheduler) persistLocked() {
	if s.dataDir == "" {
		return
	}
	snapshot := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		snapshot = append(snapshot, *j)
	}
	_ = persist.Save(persist.JobsPath(s.dataDir), snapshot, s.syncWrite)
}
