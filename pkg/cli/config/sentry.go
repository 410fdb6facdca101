package config

import (
	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Sentry holds error tracking configuration
type Sentry struct {
	DSN string `masq:"secret"`
	Env string
}

// Flags returns CLI flags for Sentry configuration
func (c *Sentry) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "sentry-dsn",
			Usage:       "Sentry DSN (empty disables error tracking)",
			Destination: &c.DSN,
			Sources:     cli.EnvVars("DROVER_SENTRY_DSN"),
		},
		&cli.StringFlag{
			Name:        "sentry-env",
			Usage:       "Sentry environment tag",
			Value:       "production",
			Destination: &c.Env,
			Sources:     cli.EnvVars("DROVER_SENTRY_ENV"),
		},
	}
}

// Configure initializes the Sentry SDK when a DSN is set.
func (c *Sentry) Configure() (bool, error) {
	if c.DSN == "" {
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         c.DSN,
		Environment: c.Env,
	})
	if err != nil {
		return false, goerr.Wrap(err, "failed to initialize Sentry")
	}
	return true, nil
}
