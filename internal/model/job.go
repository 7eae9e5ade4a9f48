package model

import (
	"fmt"
	"time"
)

// JobState enumerates the lifecycle states of an extraction job.
type JobState string

const (
	StatePending      JobState = "PENDING"
	StateProcessing   JobState = "PROCESSING"
	StateAutoAccepted JobState = "AUTO_ACCEPTED"
	StateManualReview JobState = "MANUAL_REVIEW"
	StateFailed       JobState = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
// MANUAL_REVIEW is not terminal: a reviewer may still promote the job.
func (s JobState) Terminal() bool {
	return s == StateAutoAccepted || s == StateFailed
}

// validTransitions is the forward-only state machine. A state absent from
// the map accepts no outgoing transition.
var validTransitions = map[JobState][]JobState{
	StatePending:      {StateProcessing},
	StateProcessing:   {StateAutoAccepted, StateManualReview, StateFailed},
	StateManualReview: {StateAutoAccepted},
}

// InvalidTransitionError reports an attempted transition that the state
// machine forbids. It always indicates a caller bug or corrupted job state.
type InvalidTransitionError struct {
	JobID string
	From  JobState
	To    JobState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid state transition %s -> %s", e.JobID, e.From, e.To)
}

// Job is the unit of work for one submitted photograph.
type Job struct {
	ID       string   `json:"job_id"`
	TenantID string   `json:"tenant_id"`
	ImageKey string   `json:"-"`
	State    JobState `json:"state"`

	// Attempts is append-only; raw MRZ lines held by an attempt never
	// survive past in-memory processing.
	Attempts []EngineAttempt `json:"attempts,omitempty"`

	// Result is set only when the job is AUTO_ACCEPTED or holds a
	// candidate for manual review.
	Result *OCRResult `json:"result,omitempty"`

	// WinningEngine names the provider whose output produced Result.
	WinningEngine string `json:"winning_engine,omitempty"`

	// NeedsBetterPhoto is surfaced to the caller when the quality gate
	// rejected the image before any OCR attempt.
	NeedsBetterPhoto bool     `json:"needs_better_photo,omitempty"`
	QualityReasons   []string `json:"quality_reasons,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the job to the given state, enforcing the forward-only
// state machine. Attempting to leave a terminal state fails with
// *InvalidTransitionError rather than silently doing nothing.
func (j *Job) Transition(to JobState) error {
	for _, allowed := range validTransitions[j.State] {
		if allowed == to {
			j.State = to
			if to.Terminal() || to == StateManualReview {
				now := time.Now().UTC()
				j.CompletedAt = &now
			}
			return nil
		}
	}
	return &InvalidTransitionError{JobID: j.ID, From: j.State, To: to}
}

// EngineAttempt records one OCR provider invocation. It is owned
// exclusively by its Job.
type EngineAttempt struct {
	EngineName   string `json:"engine_name"`
	AttemptIndex int    `json:"attempt_index"`

	// RawMRZLines exists only for in-flight processing and is excluded
	// from every serialized or persisted form.
	RawMRZLines []string `json:"-"`

	LatencyMS       int64    `json:"latency_ms"`
	Error           string   `json:"error,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
}
