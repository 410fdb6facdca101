package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

const defaultStepTimeout = 30 * time.Minute

// Runner executes workflows: it expands each job's matrix into cells, runs
// the cells concurrently under the strategy's parallelism bound, executes
// steps through the configured executor, and reports results to the store,
// the coverage service, and the notifier.
type Runner struct {
	executor interfaces.StepExecutor
	fetcher  interfaces.SourceFetcher
	uploader interfaces.CoverageUploader
	store    interfaces.RunStore
	notifier interfaces.Notifier

	secrets       map[string]string
	workspaceRoot string
	stepTimeout   time.Duration
	onlyJob       string

	mu sync.Mutex // guards run mutation across concurrent cells
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSourceFetcher enables `uses: checkout` steps.
func WithSourceFetcher(f interfaces.SourceFetcher) RunnerOption {
	return func(r *Runner) { r.fetcher = f }
}

// WithCoverageUploader enables coverage upload after successful jobs.
func WithCoverageUploader(u interfaces.CoverageUploader) RunnerOption {
	return func(r *Runner) { r.uploader = u }
}

// WithRunStore persists runs at creation and after every job completes.
func WithRunStore(s interfaces.RunStore) RunnerOption {
	return func(r *Runner) { r.store = s }
}

// WithNotifier reports run completion.
func WithNotifier(n interfaces.Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

// WithSecrets supplies the `${{ secrets.* }}` values.
func WithSecrets(secrets map[string]string) RunnerOption {
	return func(r *Runner) { r.secrets = secrets }
}

// WithWorkspaceRoot runs each job cell in a private directory created under
// root. Without it, steps run in the current directory.
func WithWorkspaceRoot(root string) RunnerOption {
	return func(r *Runner) { r.workspaceRoot = root }
}

// WithStepTimeout overrides the default per-step timeout applied when a
// step declares none.
func WithStepTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.stepTimeout = d }
}

// WithOnlyJob restricts the run to a single job ID.
func WithOnlyJob(jobID string) RunnerOption {
	return func(r *Runner) { r.onlyJob = jobID }
}

// NewRunner creates a Runner. Only the executor is mandatory; everything
// else is optional infrastructure.
func NewRunner(executor interfaces.StepExecutor, opts ...RunnerOption) *Runner {
	r := &Runner{
		executor:    executor,
		stepTimeout: defaultStepTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunWorkflow executes the workflow for the given event and returns the
// completed run. Job failures are reflected in the run's conclusion, not in
// the returned error; the error is reserved for structural problems such as
// an unknown --job filter or an inexpandable matrix.
func (r *Runner) RunWorkflow(ctx context.Context, w *model.Workflow, ev *model.Event) (*model.WorkflowRun, error) {
	logger := ctxlog.From(ctx)

	run := model.NewWorkflowRun(w, ev)

	jobIDs := make([]string, 0, len(w.Jobs))
	for id := range w.Jobs {
		if r.onlyJob != "" && id != r.onlyJob {
			continue
		}
		jobIDs = append(jobIDs, id)
	}
	sort.Strings(jobIDs)

	if r.onlyJob != "" && len(jobIDs) == 0 {
		return nil, goerr.New("job not found in workflow",
			goerr.V("job", r.onlyJob), goerr.V("workflow", w.Name))
	}

	cellsByJob := make(map[string][]*model.JobRun, len(jobIDs))
	for _, id := range jobIDs {
		job := w.Jobs[id]
		cells, err := job.ExpandJob()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to expand job matrix", goerr.V("job", id))
		}
		for _, cell := range cells {
			jr := &model.JobRun{
				JobID:           id,
				Name:            model.JobDisplayName(id, job, cell),
				Cell:            cell,
				Status:          model.StatusQueued,
				ContinueOnError: job.ContinueOnError,
			}
			run.Jobs = append(run.Jobs, jr)
			cellsByJob[id] = append(cellsByJob[id], jr)
		}
	}

	r.persist(ctx, run)

	if err := run.Start(); err != nil {
		return nil, err
	}

	logger.Info("Workflow run started",
		"run_id", run.ID,
		"workflow", run.Workflow,
		"jobs", len(run.Jobs),
	)

	for _, id := range jobIDs {
		r.runJobCells(ctx, w, id, w.Jobs[id], cellsByJob[id], ev, run.ID)
		r.persist(ctx, run)
	}

	if err := run.Finish(model.AggregateConclusion(run.Jobs)); err != nil {
		return nil, err
	}
	r.persist(ctx, run)

	logger.Info("Workflow run finished",
		"run_id", run.ID,
		"workflow", run.Workflow,
		"conclusion", run.Conclusion,
		"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	)

	if r.notifier != nil {
		if err := r.notifier.NotifyRunCompleted(ctx, run); err != nil {
			logger.Warn("Failed to notify run completion", "error", err, "run_id", run.ID)
		}
	}

	return run, nil
}

// runJobCells executes all matrix cells of one job with the strategy's
// parallelism bound. With fail-fast, the first failing cell cancels cells
// that have not started yet; running cells finish normally.
func (r *Runner) runJobCells(ctx context.Context, w *model.Workflow, jobID string, job *model.Job, cells []*model.JobRun, ev *model.Event, runID string) {
	queue := make(chan *model.JobRun, len(cells))
	for _, jr := range cells {
		queue <- jr
	}
	close(queue)

	failFast := job.Strategy.IsFailFast()
	workers := job.Strategy.Parallelism(len(cells))

	var failed bool
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for jr := range queue {
				r.mu.Lock()
				abort := ctx.Err() != nil || (failFast && failed)
				if abort {
					if err := jr.Finish(model.ConclusionCancelled); err != nil {
						ctxlog.From(ctx).Warn("Failed to cancel job run", "error", err, "job", jr.Name)
					}
					r.mu.Unlock()
					continue
				}
				if err := jr.Start(); err != nil {
					ctxlog.From(ctx).Warn("Failed to start job run", "error", err, "job", jr.Name)
					r.mu.Unlock()
					continue
				}
				r.mu.Unlock()

				conclusion := r.runSingleJob(ctx, w, job, jr, ev, runID)

				r.mu.Lock()
				if err := jr.Finish(conclusion); err != nil {
					ctxlog.From(ctx).Warn("Failed to finish job run", "error", err, "job", jr.Name)
				}
				if conclusion == model.ConclusionFailure && !job.ContinueOnError {
					failed = true
				}
				r.mu.Unlock()
			}
		}()
	}

	wg.Wait()
}

// runSingleJob runs the steps of one cell and returns the job conclusion.
func (r *Runner) runSingleJob(ctx context.Context, w *model.Workflow, job *model.Job, jr *model.JobRun, ev *model.Event, runID string) model.Conclusion {
	logger := ctxlog.From(ctx)
	logger.Info("Job started", "run_id", runID, "job", jr.Name)

	dir, cleanup, err := r.workspace(jr)
	if err != nil {
		logger.Error("Failed to create job workspace", "error", err, "job", jr.Name)
		return model.ConclusionFailure
	}
	defer cleanup()

	if job.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	envMap := mergeEnv(w.Env, job.Env)
	exprCtx := &model.ExprContext{
		Matrix:  jr.Cell,
		Secrets: r.secrets,
		Env:     envMap,
		GitHub:  model.GitHubContext(ev, runID),
	}

	conclusion := model.ConclusionSuccess

	for _, step := range job.Steps {
		if ctx.Err() != nil {
			conclusion = model.ConclusionCancelled
			break
		}

		result := r.runStep(ctx, step, jr, ev, dir, envMap, exprCtx)

		r.mu.Lock()
		jr.Steps = append(jr.Steps, result)
		r.mu.Unlock()

		if result.Conclusion == model.ConclusionFailure && !step.ContinueOnError {
			conclusion = model.ConclusionFailure
			break
		}
	}

	if conclusion == model.ConclusionSuccess {
		conclusion = r.uploadCoverage(ctx, job, jr, ev, dir, exprCtx)
	}

	logger.Info("Job finished", "run_id", runID, "job", jr.Name, "conclusion", conclusion)
	return conclusion
}

// runStep executes one step: a checkout action or a shell command.
func (r *Runner) runStep(ctx context.Context, step *model.Step, jr *model.JobRun, ev *model.Event, dir string, envMap map[string]string, exprCtx *model.ExprContext) *model.StepResult {
	started := time.Now()
	result := &model.StepResult{Name: step.DisplayName()}

	if step.Uses == model.UsesCheckout {
		err := r.checkout(ctx, ev, dir)
		result.Duration = time.Since(started)
		if err != nil {
			result.Conclusion = model.ConclusionFailure
			result.ExitCode = -1
			result.Error = err.Error()
		} else {
			result.Conclusion = model.ConclusionSuccess
		}
		return result
	}

	stepEnv := exprCtx.InterpolateMap(step.Env)
	cmd := &model.Command{
		Script:  exprCtx.Interpolate(step.Run),
		Shell:   step.Shell,
		Dir:     dir,
		Env:     buildEnviron(envMap, stepEnv, jr.Cell),
		Timeout: r.stepTimeout,
	}
	if wd := exprCtx.Interpolate(step.WorkingDirectory); wd != "" {
		// Relative directories stay inside the job workspace.
		cmd.Dir = resolvePath(dir, wd)
	}
	if step.TimeoutMinutes > 0 {
		cmd.Timeout = time.Duration(step.TimeoutMinutes) * time.Minute
	}

	res, err := r.executor.Execute(ctx, cmd)
	result.Duration = time.Since(started)

	switch {
	case err != nil:
		result.Conclusion = model.ConclusionFailure
		result.ExitCode = -1
		result.Error = err.Error()
	case res.TimedOut:
		result.Conclusion = model.ConclusionFailure
		result.ExitCode = res.ExitCode
		result.Output = res.Output
		result.Error = "step timed out"
	case res.ExitCode != 0:
		result.Conclusion = model.ConclusionFailure
		result.ExitCode = res.ExitCode
		result.Output = res.Output
	default:
		result.Conclusion = model.ConclusionSuccess
		result.Output = res.Output
	}

	return result
}

func (r *Runner) checkout(ctx context.Context, ev *model.Event, dir string) error {
	if r.fetcher == nil {
		return goerr.New("checkout step requires a source fetcher")
	}
	if ev == nil || ev.Repository == "" || ev.SHA == "" {
		return goerr.New("checkout step requires event repository and commit")
	}
	return r.fetcher.Fetch(ctx, ev.Repository, ev.SHA, dir)
}

// uploadCoverage sends declared coverage files after a successful job. A
// failed upload fails the job unless the coverage block is optional.
func (r *Runner) uploadCoverage(ctx context.Context, job *model.Job, jr *model.JobRun, ev *model.Event, dir string, exprCtx *model.ExprContext) model.Conclusion {
	if job.Coverage == nil || r.uploader == nil {
		return model.ConclusionSuccess
	}
	logger := ctxlog.From(ctx)

	flags := make([]string, 0, len(job.Coverage.Flags))
	for _, f := range job.Coverage.Flags {
		flags = append(flags, exprCtx.Interpolate(f))
	}

	for _, file := range job.Coverage.Files {
		report := &model.CoverageReport{
			Path:  resolvePath(dir, exprCtx.Interpolate(file)),
			Flags: flags,
		}
		if ev != nil {
			report.CommitSHA = ev.SHA
			report.Ref = ev.Ref
		}

		if err := r.uploader.Upload(ctx, report); err != nil {
			if job.Coverage.Optional {
				logger.Warn("Coverage upload failed (optional)",
					"error", err, "job", jr.Name, "file", report.Path)
				continue
			}
			logger.Error("Coverage upload failed",
				"error", err, "job", jr.Name, "file", report.Path)
			return model.ConclusionFailure
		}

		logger.Info("Coverage uploaded", "job", jr.Name, "file", report.Path)
	}

	return model.ConclusionSuccess
}

// workspace returns the directory steps run in. With a workspace root, each
// cell gets a private directory that is removed when the job ends.
func (r *Runner) workspace(jr *model.JobRun) (string, func(), error) {
	if r.workspaceRoot == "" {
		return ".", func() {}, nil
	}

	dir, err := os.MkdirTemp(r.workspaceRoot, "drover-job-*")
	if err != nil {
		return "", nil, goerr.Wrap(err, "failed to create workspace",
			goerr.V("root", r.workspaceRoot), goerr.V("job", jr.Name))
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func (r *Runner) persist(ctx context.Context, run *model.WorkflowRun) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	err := r.store.Put(ctx, run)
	r.mu.Unlock()
	if err != nil {
		ctxlog.From(ctx).Warn("Failed to persist run", "error", err, "run_id", run.ID)
	}
}

func mergeEnv(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// buildEnviron merges the OS environment with workflow/job env, step env,
// and MATRIX_<KEY> variables derived from the cell, later layers winning.
func buildEnviron(envMap, stepEnv map[string]string, cell model.MatrixCell) []string {
	environ := os.Environ()
	for _, layer := range []map[string]string{envMap, stepEnv} {
		for k, v := range layer {
			environ = append(environ, k+"="+v)
		}
	}
	for k, v := range cell {
		environ = append(environ, matrixEnvName(k)+"="+v.Raw)
	}
	return environ
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func matrixEnvName(key string) string {
	upper := strings.ToUpper(key)
	upper = strings.ReplaceAll(upper, "-", "_")
	return fmt.Sprintf("MATRIX_%s", upper)
}
