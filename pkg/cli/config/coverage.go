package config

import "github.com/urfave/cli/v3"

// Coverage holds coverage upload configuration
type Coverage struct {
	Endpoint string
	Token    string `masq:"secret"`
}

// Enabled reports whether coverage upload is configured.
func (c *Coverage) Enabled() bool {
	return c.Endpoint != ""
}

// Flags returns CLI flags for coverage configuration
func (c *Coverage) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "coverage-endpoint",
			Usage:       "Coverage service upload URL (empty disables upload)",
			Destination: &c.Endpoint,
			Sources:     cli.EnvVars("DROVER_COVERAGE_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:        "coverage-token",
			Usage:       "Coverage service upload token",
			Destination: &c.Token,
			Sources:     cli.EnvVars("DROVER_COVERAGE_TOKEN"),
		},
	}
}
