package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/slack-go/slack"
)

// SlackNotifier posts run results to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

var _ interfaces.Notifier = (*SlackNotifier)(nil)

// NewSlack creates a notifier for the given incoming webhook URL.
func NewSlack(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		post:       slack.PostWebhookContext,
	}
}

// NotifyRunCompleted posts a summary attachment for a completed run.
func (n *SlackNotifier) NotifyRunCompleted(ctx context.Context, run *model.WorkflowRun) error {
	msg := buildMessage(run)
	if err := n.post(ctx, n.webhookURL, msg); err != nil {
		return goerr.Wrap(err, "failed to post Slack notification", goerr.V("run_id", run.ID))
	}
	return nil
}

func buildMessage(run *model.WorkflowRun) *slack.WebhookMessage {
	color := "good"
	emoji := ":white_check_mark:"
	if run.Conclusion != model.ConclusionSuccess {
		color = "danger"
		emoji = ":x:"
	}

	title := fmt.Sprintf("%s %s: %s", emoji, run.Workflow, run.Conclusion)

	var lines []string
	for _, job := range run.Jobs {
		lines = append(lines, fmt.Sprintf("%s `%s`: %s", jobEmoji(job.Conclusion), job.Name, job.Conclusion))
	}

	attachment := slack.Attachment{
		Color:  color,
		Title:  title,
		Text:   strings.Join(lines, "\n"),
		Footer: types.ServiceName + " " + types.Version,
	}

	// Local runs may have no event metadata.
	if ev := run.Event; ev != nil {
		attachment.Fields = []slack.AttachmentField{
			{Title: "Repository", Value: ev.Repository, Short: true},
			{Title: "Branch", Value: ev.Branch(), Short: true},
			{Title: "Commit", Value: shortSHA(ev.SHA), Short: true},
			{Title: "Event", Value: string(ev.Name), Short: true},
		}
	}

	return &slack.WebhookMessage{
		Attachments: []slack.Attachment{attachment},
	}
}

func jobEmoji(c model.Conclusion) string {
	switch c {
	case model.ConclusionSuccess:
		return ":white_check_mark:"
	case model.ConclusionFailure:
		return ":x:"
	case model.ConclusionCancelled:
		return ":no_entry_sign:"
	case model.ConclusionSkipped:
		return ":fast_forward:"
	default:
		return ":grey_question:"
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
