package config

import "github.com/urfave/cli/v3"

// GitHub holds GitHub configuration
type GitHub struct {
	WebhookSecret string `masq:"secret"`
	APIToken      string `masq:"secret"`
}

// Flags returns CLI flags for GitHub configuration
func (c *GitHub) Flags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:        "github-webhook-secret",
			Usage:       "GitHub webhook secret",
			Required:    true,
			Destination: &c.WebhookSecret,
			Sources:     cli.EnvVars("DROVER_GITHUB_WEBHOOK_SECRET"),
		},
	}, c.TokenFlags()...)
}

// TokenFlags returns only the API token flag, for commands that never
// receive webhooks.
func (c *GitHub) TokenFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "github-token",
			Usage:       "GitHub API token used to download sources",
			Destination: &c.APIToken,
			Sources:     cli.EnvVars("DROVER_GITHUB_TOKEN"),
		},
	}
}
