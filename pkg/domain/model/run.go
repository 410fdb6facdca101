package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Status is the lifecycle phase of a run or job run.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Conclusion is the terminal outcome of a completed run, job, or step.
type Conclusion string

const (
	ConclusionNone      Conclusion = ""
	ConclusionSuccess   Conclusion = "success"
	ConclusionFailure   Conclusion = "failure"
	ConclusionCancelled Conclusion = "cancelled"
	ConclusionSkipped   Conclusion = "skipped"
)

// checkTransition validates a status transition. Queued runs may only
// complete directly when they never ran (cancelled or skipped).
func checkTransition(from, to Status, conclusion Conclusion) error {
	switch {
	case from == StatusQueued && to == StatusInProgress:
		return nil
	case from == StatusQueued && to == StatusCompleted:
		if conclusion == ConclusionCancelled || conclusion == ConclusionSkipped {
			return nil
		}
		return goerr.New("queued can only complete as cancelled or skipped",
			goerr.V("conclusion", conclusion))
	case from == StatusInProgress && to == StatusCompleted:
		if conclusion == ConclusionNone {
			return goerr.New("completing a run requires a conclusion")
		}
		return nil
	default:
		return goerr.New("invalid status transition",
			goerr.V("from", from), goerr.V("to", to))
	}
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Name       string        `json:"name"`
	Conclusion Conclusion    `json:"conclusion"`
	ExitCode   int           `json:"exit_code"`
	Output     string        `json:"output,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// JobRun is one expanded matrix cell of a job within a workflow run.
type JobRun struct {
	JobID      string     `json:"job_id"`
	Name       string     `json:"name"`
	Cell       MatrixCell `json:"matrix,omitempty"`
	Status     Status     `json:"status"`
	Conclusion Conclusion `json:"conclusion,omitempty"`
	// ContinueOnError records the job's continue-on-error flag so that a
	// failure of this job does not fail the run.
	ContinueOnError bool          `json:"continue_on_error,omitempty"`
	StartedAt       time.Time     `json:"started_at,omitzero"`
	FinishedAt      time.Time     `json:"finished_at,omitzero"`
	Steps           []*StepResult `json:"steps,omitempty"`
}

// WorkflowRun is a single execution of a workflow for one event.
type WorkflowRun struct {
	ID         string     `json:"id"`
	Workflow   string     `json:"workflow"`
	Event      *Event     `json:"event,omitempty"`
	Status     Status     `json:"status"`
	Conclusion Conclusion `json:"conclusion,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  time.Time  `json:"started_at,omitzero"`
	FinishedAt time.Time  `json:"finished_at,omitzero"`
	Jobs       []*JobRun  `json:"jobs"`
}

// NewWorkflowRun creates a queued run with a fresh UUID.
func NewWorkflowRun(w *Workflow, ev *Event) *WorkflowRun {
	name := w.Name
	if name == "" {
		name = w.Path
	}
	return &WorkflowRun{
		ID:        uuid.NewString(),
		Workflow:  name,
		Event:     ev,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
}

// Start transitions the run to in_progress.
func (r *WorkflowRun) Start() error {
	if err := checkTransition(r.Status, StatusInProgress, ConclusionNone); err != nil {
		return err
	}
	r.Status = StatusInProgress
	r.StartedAt = time.Now()
	return nil
}

// Finish completes the run with the given conclusion.
func (r *WorkflowRun) Finish(c Conclusion) error {
	if err := checkTransition(r.Status, StatusCompleted, c); err != nil {
		return err
	}
	r.Status = StatusCompleted
	r.Conclusion = c
	r.FinishedAt = time.Now()
	return nil
}

// Start transitions the job run to in_progress.
func (j *JobRun) Start() error {
	if err := checkTransition(j.Status, StatusInProgress, ConclusionNone); err != nil {
		return err
	}
	j.Status = StatusInProgress
	j.StartedAt = time.Now()
	return nil
}

// Finish completes the job run with the given conclusion.
func (j *JobRun) Finish(c Conclusion) error {
	if err := checkTransition(j.Status, StatusCompleted, c); err != nil {
		return err
	}
	j.Status = StatusCompleted
	j.Conclusion = c
	j.FinishedAt = time.Now()
	return nil
}

// AggregateConclusion derives a run conclusion from its job runs: failure
// beats cancelled beats success. Skipped jobs and failures of
// continue-on-error jobs do not affect the outcome.
func AggregateConclusion(jobs []*JobRun) Conclusion {
	conclusion := ConclusionSuccess
	for _, j := range jobs {
		switch j.Conclusion {
		case ConclusionFailure:
			if j.ContinueOnError {
				continue
			}
			return ConclusionFailure
		case ConclusionCancelled:
			conclusion = ConclusionCancelled
		}
	}
	return conclusion
}
