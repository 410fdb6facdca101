package config

import "github.com/urfave/cli/v3"

// Server holds server configuration
type Server struct {
	Addr        string
	WorkflowDir string
	StorePath   string
}

// Flags returns CLI flags for server configuration
func (c *Server) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Server address",
			Value:       "localhost:8080",
			Destination: &c.Addr,
			Sources:     cli.EnvVars("DROVER_ADDR"),
		},
		&cli.StringFlag{
			Name:        "workflow-dir",
			Usage:       "Directory containing workflow YAML files",
			Value:       ".github/workflows",
			Destination: &c.WorkflowDir,
			Sources:     cli.EnvVars("DROVER_WORKFLOW_DIR"),
		},
		&cli.StringFlag{
			Name:        "store-path",
			Usage:       "Path of the run store database (empty disables persistence)",
			Destination: &c.StorePath,
			Sources:     cli.EnvVars("DROVER_STORE_PATH"),
		},
	}
}
