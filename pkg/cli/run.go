package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/m-mizutani/drover/pkg/cli/config"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/infra/exec"
	"github.com/m-mizutani/drover/pkg/usecase"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// secretEnvPrefix exposes secrets to serve mode, e.g.
// DROVER_SECRET_CODECOV_TOKEN becomes secrets.CODECOV_TOKEN.
const secretEnvPrefix = "DROVER_SECRET_"

func cmdRun() *cli.Command {
	var (
		githubCfg   config.GitHub
		runnerCfg   config.Runner
		coverageCfg config.Coverage

		eventName   string
		repo        string
		ref         string
		sha         string
		onlyJob     string
		secretPairs []string
		secretsFile string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "event",
			Usage:       "Event to simulate (push or pull_request)",
			Value:       "push",
			Destination: &eventName,
		},
		&cli.StringFlag{
			Name:        "repo",
			Usage:       "Repository as owner/name, enables checkout steps",
			Destination: &repo,
			Sources:     cli.EnvVars("DROVER_REPO"),
		},
		&cli.StringFlag{
			Name:        "ref",
			Usage:       "Branch the event targets",
			Value:       "main",
			Destination: &ref,
		},
		&cli.StringFlag{
			Name:        "sha",
			Usage:       "Commit SHA to check out",
			Destination: &sha,
		},
		&cli.StringFlag{
			Name:        "job",
			Usage:       "Run only the named job",
			Destination: &onlyJob,
		},
		&cli.StringSliceFlag{
			Name:        "secret",
			Usage:       "Secret as NAME=value, repeatable",
			Destination: &secretPairs,
		},
		&cli.StringFlag{
			Name:        "secrets-file",
			Usage:       "dotenv file of secrets",
			Destination: &secretsFile,
			Sources:     cli.EnvVars("DROVER_SECRETS_FILE"),
		},
	}
	flags = append(flags, githubCfg.TokenFlags()...)
	flags = append(flags, runnerCfg.Flags()...)
	flags = append(flags, coverageCfg.Flags()...)

	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Run a workflow file locally",
		ArgsUsage: "<workflow.yml>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("exactly one workflow file is required")
			}

			workflow, err := model.LoadWorkflow(c.Args().First())
			if err != nil {
				return err
			}

			if findings := usecase.ValidateWorkflow(workflow); usecase.HasErrors(findings) {
				return usecase.ValidationError(findings)
			}

			secrets, err := collectSecrets(secretPairs, secretsFile)
			if err != nil {
				return err
			}

			ev, err := syntheticEvent(eventName, repo, ref, sha)
			if err != nil {
				return err
			}

			opts := buildRunnerOptions(&githubCfg, &runnerCfg, &coverageCfg, secrets)
			if onlyJob != "" {
				opts = append(opts, usecase.WithOnlyJob(onlyJob))
			}

			run, err := newRunner(opts).RunWorkflow(ctx, workflow, ev)
			if err != nil {
				return err
			}

			printRunSummary(run)
			if run.Conclusion != model.ConclusionSuccess {
				return goerr.New("workflow run failed", goerr.V("conclusion", run.Conclusion))
			}
			return nil
		},
	}
}

func newRunner(opts []usecase.RunnerOption) *usecase.Runner {
	return usecase.NewRunner(exec.New(), opts...)
}

// syntheticEvent builds the event a local run pretends to have received.
func syntheticEvent(name, repo, ref, sha string) (*model.Event, error) {
	ev := &model.Event{
		Repository: repo,
		SHA:        sha,
		Ref:        "refs/heads/" + ref,
		RefName:    ref,
	}

	switch model.EventName(name) {
	case model.EventPush:
		ev.Name = model.EventPush
	case model.EventPullRequest:
		ev.Name = model.EventPullRequest
		ev.Action = "opened"
		ev.BaseRef = ref
	default:
		return nil, goerr.New("unsupported event", goerr.V("event", name))
	}

	return ev, nil
}

// collectSecrets merges the secrets file with --secret pairs, pairs winning.
func collectSecrets(pairs []string, file string) (map[string]string, error) {
	secrets := map[string]string{}

	if file != "" {
		fromFile, err := godotenv.Read(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read secrets file", goerr.V("path", file))
		}
		for k, v := range fromFile {
			secrets[k] = v
		}
	}

	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, goerr.New("secret must be NAME=value", goerr.V("secret", pair))
		}
		secrets[name] = value
	}

	return secrets, nil
}

// loadSecretsFromEnv collects DROVER_SECRET_* variables for serve mode.
func loadSecretsFromEnv() map[string]string {
	secrets := map[string]string{}
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, secretEnvPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, secretEnvPrefix)
		if name != "" {
			secrets[name] = value
		}
	}
	return secrets
}

func printRunSummary(run *model.WorkflowRun) {
	header := color.New(color.Bold)
	header.Printf("\n%s: %s\n", run.Workflow, colorConclusion(run.Conclusion))

	for _, job := range run.Jobs {
		fmt.Printf("  %s  %s\n", colorConclusion(job.Conclusion), job.Name)
		for _, step := range job.Steps {
			line := fmt.Sprintf("    %s  %s (%s)", colorConclusion(step.Conclusion), step.Name, step.Duration.Round(time.Millisecond))
			fmt.Println(line)
			if step.Conclusion == model.ConclusionFailure && step.Error != "" {
				fmt.Printf("       %s\n", step.Error)
			}
		}
	}
}

func colorConclusion(c model.Conclusion) string {
	switch c {
	case model.ConclusionSuccess:
		return color.GreenString("ok")
	case model.ConclusionFailure:
		return color.RedString("failed")
	case model.ConclusionCancelled:
		return color.YellowString("cancelled")
	case model.ConclusionSkipped:
		return color.CyanString("skipped")
	default:
		return string(c)
	}
}
