package interfaces

import (
	"context"

	"github.com/m-mizutani/drover/pkg/domain/model"
)

// WebhookUseCase defines the interface for webhook event processing
type WebhookUseCase interface {
	// ProcessEvent matches the event against the configured workflows and
	// dispatches a run for each match. It returns once dispatching is
	// done; the runs themselves proceed asynchronously.
	ProcessEvent(ctx context.Context, event *model.Event) error
}

// RunnerUseCase executes one workflow for one event.
type RunnerUseCase interface {
	RunWorkflow(ctx context.Context, w *model.Workflow, ev *model.Event) (*model.WorkflowRun, error)
}
