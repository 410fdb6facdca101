package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/gt"
	"github.com/slack-go/slack"
)

func completedRun(t *testing.T, conclusions ...model.Conclusion) *model.WorkflowRun {
	t.Helper()

	run := model.NewWorkflowRun(
		&model.Workflow{Name: "CI"},
		&model.Event{
			Name:       model.EventPush,
			Repository: "pyscf/pyscf",
			SHA:        "abc1234567890",
			RefName:    "main",
		},
	)
	gt.NoError(t, run.Start())

	for _, c := range conclusions {
		job := &model.JobRun{
			JobID:  "linux-build",
			Name:   "linux-build",
			Status: model.StatusQueued,
		}
		if c == model.ConclusionCancelled || c == model.ConclusionSkipped {
			gt.NoError(t, job.Finish(c))
		} else {
			gt.NoError(t, job.Start())
			gt.NoError(t, job.Finish(c))
		}
		run.Jobs = append(run.Jobs, job)
	}

	gt.NoError(t, run.Finish(model.AggregateConclusion(run.Jobs)))
	return run
}

func TestSlackNotifier_Success(t *testing.T) {
	var gotURL string
	var gotMsg *slack.WebhookMessage

	n := NewSlack("https://hooks.slack.com/services/T/B/X")
	n.post = func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
		gotURL = url
		gotMsg = msg
		return nil
	}

	run := completedRun(t, model.ConclusionSuccess, model.ConclusionSuccess)
	gt.NoError(t, n.NotifyRunCompleted(context.Background(), run))

	gt.Value(t, gotURL).Equal("https://hooks.slack.com/services/T/B/X")
	gt.Value(t, len(gotMsg.Attachments)).Equal(1)

	att := gotMsg.Attachments[0]
	gt.Value(t, att.Color).Equal("good")
	gt.True(t, strings.Contains(att.Title, "CI"))
	gt.True(t, strings.Contains(att.Title, "success"))
	gt.Value(t, len(att.Fields)).Equal(4)
	gt.Value(t, att.Fields[2].Value).Equal("abc1234")
}

func TestSlackNotifier_Failure(t *testing.T) {
	var gotMsg *slack.WebhookMessage

	n := NewSlack("https://hooks.slack.com/services/T/B/X")
	n.post = func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
		gotMsg = msg
		return nil
	}

	run := completedRun(t, model.ConclusionSuccess, model.ConclusionFailure)
	gt.NoError(t, n.NotifyRunCompleted(context.Background(), run))

	att := gotMsg.Attachments[0]
	gt.Value(t, att.Color).Equal("danger")
	gt.True(t, strings.Contains(att.Text, ":x:"))
	gt.True(t, strings.Contains(att.Text, ":white_check_mark:"))
}

func TestSlackNotifier_NoEvent(t *testing.T) {
	var gotMsg *slack.WebhookMessage

	n := NewSlack("https://hooks.slack.com/services/T/B/X")
	n.post = func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
		gotMsg = msg
		return nil
	}

	run := model.NewWorkflowRun(&model.Workflow{Name: "CI"}, nil)
	gt.NoError(t, run.Start())
	gt.NoError(t, run.Finish(model.ConclusionSuccess))

	gt.NoError(t, n.NotifyRunCompleted(context.Background(), run))
	gt.Value(t, len(gotMsg.Attachments)).Equal(1)
	gt.Value(t, len(gotMsg.Attachments[0].Fields)).Equal(0)
}

func TestSlackNotifier_PostError(t *testing.T) {
	n := NewSlack("https://hooks.slack.com/services/T/B/X")
	n.post = func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
		return context.DeadlineExceeded
	}

	run := completedRun(t, model.ConclusionSuccess)
	gt.Error(t, n.NotifyRunCompleted(context.Background(), run))
}
