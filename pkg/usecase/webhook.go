package usecase

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/utils/async"
	"github.com/m-mizutani/goerr/v2"
)

// prActions are the pull_request actions that trigger runs.
var prActions = map[string]bool{
	"opened":      true,
	"reopened":    true,
	"synchronize": true,
}

type webhookUseCase struct {
	runner      interfaces.RunnerUseCase
	workflowDir string
}

// NewWebhook creates the webhook use case: events are matched against every
// workflow file in workflowDir and one run is dispatched per match.
func NewWebhook(runner interfaces.RunnerUseCase, workflowDir string) interfaces.WebhookUseCase {
	return &webhookUseCase{
		runner:      runner,
		workflowDir: workflowDir,
	}
}

// ProcessEvent matches the event against the configured workflows and
// dispatches runs asynchronously. The HTTP response never waits for runs.
func (uc *webhookUseCase) ProcessEvent(ctx context.Context, event *model.Event) error {
	logger := ctxlog.From(ctx)

	logger.Info("Processing webhook event",
		"delivery_id", event.DeliveryID,
		"event", event.Name,
		"action", event.Action,
		"repository", event.Repository,
		"branch", event.Branch(),
	)

	if event.Name == model.EventPullRequest && !prActions[event.Action] {
		logger.Info("Ignoring pull_request action", "action", event.Action)
		return nil
	}

	workflows, err := uc.loadWorkflows(ctx)
	if err != nil {
		return err
	}

	dispatched := 0
	for _, w := range workflows {
		if !w.On.Matches(event) {
			continue
		}
		dispatched++

		workflow := w
		async.Dispatch(ctx, "workflow-run", func(ctx context.Context) error {
			_, err := uc.runner.RunWorkflow(ctx, workflow, event)
			return err
		})
	}

	logger.Info("Dispatched workflow runs",
		"matched", dispatched,
		"workflows", len(workflows),
	)

	return nil
}

// loadWorkflows parses every .yml/.yaml file in the workflow directory.
// Files that fail to parse or validate are skipped with a warning so one
// broken file cannot take down intake for the rest.
func (uc *webhookUseCase) loadWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	logger := ctxlog.From(ctx)

	entries, err := os.ReadDir(uc.workflowDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read workflow directory",
			goerr.V("dir", uc.workflowDir))
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yml", ".yaml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	workflows := make([]*model.Workflow, 0, len(names))
	for _, name := range names {
		path := filepath.Join(uc.workflowDir, name)

		w, err := model.LoadWorkflow(path)
		if err != nil {
			logger.Warn("Skipping unparsable workflow", "path", path, "error", err)
			continue
		}
		if findings := ValidateWorkflow(w); HasErrors(findings) {
			logger.Warn("Skipping invalid workflow",
				"path", path, "findings", len(findings))
			continue
		}
		workflows = append(workflows, w)
	}

	return workflows, nil
}
