// Package scheduler — job.go
//
// Job and JobDescriptor types for Zenith's gang scheduler.
package scheduler

import (
	"encoding/json"
	"time"

	"github.com/zenith-fleet/zenith/internal/jobstate"
)

// ResourceRequirements is the immutable resource shape a job requests.
type ResourceRequirements struct {
	GPUCount          int      `json:"gpu_count"`
	GPUMemoryMB       int      `json:"gpu_memory_mb"`
	CPUCores          int      `json:"cpu_cores"`
	CPUMemoryMB       int      `json:"cpu_memory_mb"`
	RequiredGPUModels []string `json:"required_gpu_models,omitempty"`
	NVLinkVersionMin  int      `json:"nvlink_version_min,omitempty"`
	RequireNVSwitch   bool     `json:"require_nvswitch,omitempty"`
	RequireRDMA       bool     `json:"require_rdma,omitempty"`
}

// LocalityPreferences steers placement without constraining correctness.
type LocalityPreferences struct {
	PreferSameNode bool `json:"prefer_same_node"`
}

// SchedulingPolicy is the immutable scheduling behavior a job requests.
type SchedulingPolicy struct {
	Priority         int32         `json:"priority"`
	Preemptible      bool          `json:"preemptible"`
	CanPreemptOthers bool          `json:"can_preempt_others"`
	MaxWait          time.Duration `json:"max_wait"`
	MaxRuntime       time.Duration `json:"max_runtime"`
	QueueName        string        `json:"queue_name"`
	GangSchedule     bool          `json:"gang_schedule"`
	MaxRetries       int           `json:"max_retries"`
}

// JobDescriptor is the immutable specification a job is submitted with.
type JobDescriptor struct {
	Name      string `json:"name"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`

	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Cwd     string            `json:"cwd"`

	Resources ResourceRequirements `json:"resources"`
	Locality  LocalityPreferences  `json:"locality"`
	Policy    SchedulingPolicy     `json:"policy"`

	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Allocation records the GPU IDs allocated to a job on a single node.
type Allocation struct {
	NodeID string `json:"node_id"`
	GPUIDs []int  `json:"gpu_ids"`
}

// Job is the mutable scheduling record for a submitted JobDescriptor.
type Job struct {
	ID         string        `json:"id"`
	Descriptor JobDescriptor `json:"descriptor"`

	SubmittedAt time.Time `json:"submitted_at"`
	ScheduledAt time.Time `json:"scheduled_at,omitzero"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	EndedAt     time.Time `json:"ended_at,omitzero"`

	Allocations []Allocation `json:"allocations,omitempty"`
	RetryCount  int          `json:"retry_count"`
	Message     string       `json:"message,omitempty"`

	machine *jobstate.Machine
}

// State returns the job's current lifecycle state.
func (j *Job) State() jobstate.State {
	return j.machine.Current()
}

// jobJSON is the on-disk shape of a Job. Job.machine is unexported (it
// carries a mutex) so the lifecycle state is flattened into a "state"
// field here and restored into a fresh Machine on Unmarshal.
type jobJSON struct {
	ID         string        `json:"id"`
	Descriptor JobDescriptor `json:"descriptor"`

	SubmittedAt time.Time `json:"submitted_at"`
	ScheduledAt time.Time `json:"scheduled_at,omitzero"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	EndedAt     time.Time `json:"ended_at,omitzero"`

	Allocations []Allocation `json:"allocations,omitempty"`
	RetryCount  int          `json:"retry_count"`
	Message     string       `json:"message,omitempty"`

	State string `json:"state"`
}

// MarshalJSON flattens the job's current lifecycle state into the
// persisted record; see jobJSON.
func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{
		ID:          j.ID,
		Descriptor:  j.Descriptor,
		SubmittedAt: j.SubmittedAt,
		ScheduledAt: j.ScheduledAt,
		StartedAt:   j.StartedAt,
		EndedAt:     j.EndedAt,
		Allocations: j.Allocations,
		RetryCount:  j.RetryCount,
		Message:     j.Message,
		State:       j.State().String(),
	})
}

// UnmarshalJSON rebuilds a Machine from the persisted state field. The
// restored machine's clock fields are seeded from SubmittedAt since the
// original enteredAt/lastEventAt timestamps are not separately persisted.
func (j *Job) UnmarshalJSON(data []byte) error {
	var aux jobJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	state, ok := jobstate.ParseState(aux.State)
	if !ok {
		state = jobstate.Pending
	}

	j.ID = aux.ID
	j.Descriptor = aux.Descriptor
	j.SubmittedAt = aux.SubmittedAt
	j.ScheduledAt = aux.ScheduledAt
	j.StartedAt = aux.StartedAt
	j.EndedAt = aux.EndedAt
	j.Allocations = aux.Allocations
	j.RetryCount = aux.RetryCount
	j.Message = aux.Message
	j.machine = jobstate.Restore(aux.ID, state, aux.RetryCount, aux.SubmittedAt, aux.SubmittedAt)
	return nil
}

// Decision is the outcome of a successful placement attempt.
type Decision struct {
	JobID         string           `json:"job_id"`
	Allocations   map[string][]int `json:"allocations"`
	GangAllocated bool             `json:"gang_allocated"`
}
