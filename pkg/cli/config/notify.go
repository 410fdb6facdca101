package config

import "github.com/urfave/cli/v3"

// Notify holds notification configuration
type Notify struct {
	SlackWebhookURL string `masq:"secret"`
}

// Enabled reports whether Slack notification is configured.
func (c *Notify) Enabled() bool {
	return c.SlackWebhookURL != ""
}

// Flags returns CLI flags for notification configuration
func (c *Notify) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-webhook-url",
			Usage:       "Slack incoming webhook URL for run results (empty disables notification)",
			Destination: &c.SlackWebhookURL,
			Sources:     cli.EnvVars("DROVER_SLACK_WEBHOOK_URL"),
		},
	}
}
