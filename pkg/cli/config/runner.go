package config

import (
	"time"

	"github.com/urfave/cli/v3"
)

// Runner holds workflow execution configuration
type Runner struct {
	Workspace   string
	StepTimeout time.Duration
}

// Flags returns CLI flags for runner configuration
func (c *Runner) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "workspace",
			Usage:       "Root directory for per-job workspaces (empty runs in the current directory)",
			Destination: &c.Workspace,
			Sources:     cli.EnvVars("DROVER_WORKSPACE"),
		},
		&cli.DurationFlag{
			Name:        "step-timeout",
			Usage:       "Default timeout per step",
			Value:       30 * time.Minute,
			Destination: &c.StepTimeout,
			Sources:     cli.EnvVars("DROVER_STEP_TIMEOUT"),
		},
	}
}
