package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/usecase"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func cmdValidate() *cli.Command {
	var showMatrix bool

	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check workflow files for errors",
		ArgsUsage: "<workflow.yml> [...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "matrix",
				Usage:       "Print the expanded matrix cells per job",
				Destination: &showMatrix,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return goerr.New("at least one workflow file is required")
			}

			failed := false
			for _, path := range c.Args().Slice() {
				if err := validateFile(path, showMatrix); err != nil {
					failed = true
				}
			}

			if failed {
				return goerr.New("validation failed")
			}
			return nil
		},
	}
}

func validateFile(path string, showMatrix bool) error {
	workflow, err := model.LoadWorkflow(path)
	if err != nil {
		fmt.Printf("%s %s: %v\n", color.RedString("error"), path, err)
		return err
	}

	findings := usecase.ValidateWorkflow(workflow)
	for _, f := range findings {
		label := color.YellowString("warning")
		if f.Severity == usecase.SeverityError {
			label = color.RedString("error")
		}
		fmt.Printf("%s %s: %s\n", label, path, f)
	}

	if showMatrix {
		summaries, err := usecase.DescribeMatrix(workflow)
		if err != nil {
			fmt.Printf("%s %s: %v\n", color.RedString("error"), path, err)
			return err
		}
		for _, s := range summaries {
			fmt.Printf("%s: job %q expands to %d cells\n", path, s.JobID, len(s.Cells))
			for _, cell := range s.Cells {
				if label := cell.Label(); label != "" {
					fmt.Printf("  - %s\n", label)
				}
			}
		}
	}

	if usecase.HasErrors(findings) {
		return usecase.ValidationError(findings)
	}

	fmt.Printf("%s %s\n", color.GreenString("ok"), path)
	return nil
}
