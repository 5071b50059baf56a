package domain

import "time"

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindAvatarBatch     JobKind = "avatar-batch"
	JobKindSingleItemTryOn JobKind = "single-item-tryon"
	JobKindMultiItemTryOn  JobKind = "multi-item-tryon"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindAvatarBatch, JobKindSingleItemTryOn, JobKindMultiItemTryOn:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status ends a job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// DefaultJobTimeout bounds a running job end to end.
const DefaultJobTimeout = 5 * time.Minute

// JobInputs references the images a job was started with.
type JobInputs struct {
	SubjectRefs []string `json:"subjectRefs,omitempty"`
	GarmentRefs []string `json:"garmentRefs,omitempty"`
	PoseIDs     []int    `json:"poseIds,omitempty"`
}

// GenerationJob is the unit of orchestration. Only the background process
// transitions it.
type GenerationJob struct {
	ID            string        `json:"id"`
	Kind          JobKind       `json:"kind"`
	Status        JobStatus     `json:"status"`
	StartedAt     *time.Time    `json:"startedAt"`
	FinishedAt    *time.Time    `json:"finishedAt,omitempty"`
	Inputs        JobInputs     `json:"inputs"`
	TimeoutBudget time.Duration `json:"timeoutBudget"`
	ErrorKind     ErrorKind     `json:"errorKind,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	ResultRefs    []string      `json:"resultRefs,omitempty"`
	Partial       bool          `json:"partial,omitempty"`
}

// Elapsed returns the running time of the job as seen at now.
func (j GenerationJob) Elapsed(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	if end.Before(*j.StartedAt) {
		return 0
	}
	return end.Sub(*j.StartedAt)
}

// GenerationStatus is the read model every context derives its view from.
// InProgress and StartTime mirror the generationInProgress and
// generationStartTime store keys; Job is the current or most recent job.
type GenerationStatus struct {
	InProgress bool           `json:"inProgress"`
	StartTime  *time.Time     `json:"startTime"`
	Job        *GenerationJob `json:"job,omitempty"`
}

// Elapsed returns now - StartTime for a running job and zero otherwise.
func (s GenerationStatus) Elapsed(now time.Time) time.Duration {
	if !s.InProgress || s.StartTime == nil {
		return 0
	}
	if now.Before(*s.StartTime) {
		return 0
	}
	return now.Sub(*s.StartTime)
}
