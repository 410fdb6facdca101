package interfaces

import (
	"context"

	"github.com/m-mizutani/drover/pkg/domain/model"
)

// StepExecutor runs one resolved shell command of a job step.
type StepExecutor interface {
	// Execute runs the command and reports its outcome. A non-zero exit
	// code is returned in the result, not as an error.
	Execute(ctx context.Context, cmd *model.Command) (*model.CommandResult, error)
}

// SourceFetcher materializes the triggering commit into a job workspace.
type SourceFetcher interface {
	// Fetch downloads repo ("owner/name") at ref into destDir.
	Fetch(ctx context.Context, repo, ref, destDir string) error
}

// CoverageUploader transmits a coverage report to the reporting service.
type CoverageUploader interface {
	Upload(ctx context.Context, report *model.CoverageReport) error
}

// RunStore persists workflow runs.
type RunStore interface {
	// Put inserts or updates a run keyed by its ID.
	Put(ctx context.Context, run *model.WorkflowRun) error
	// Get returns the run with the given ID, or an error when absent.
	Get(ctx context.Context, id string) (*model.WorkflowRun, error)
	// List returns up to limit runs, newest first.
	List(ctx context.Context, limit int) ([]*model.WorkflowRun, error)
	Close() error
}

// Notifier reports run completion to an external channel.
type Notifier interface {
	NotifyRunCompleted(ctx context.Context, run *model.WorkflowRun) error
}
