package usecase

import (
	"fmt"
	"sort"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one validation result for a workflow.
type Finding struct {
	Severity Severity
	Path     string // dotted location inside the workflow, e.g. "jobs.linux-build.steps[1]"
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s: %s", f.Severity, f.Path, f.Message)
}

// HasErrors reports whether any finding is an error (warnings alone keep
// the workflow runnable).
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidationError wraps error-severity findings into a single error.
func ValidationError(findings []Finding) error {
	if !HasErrors(findings) {
		return nil
	}
	msgs := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Severity == SeverityError {
			msgs = append(msgs, f.String())
		}
	}
	return goerr.New("workflow validation failed", goerr.V("findings", msgs))
}

// ValidateWorkflow checks a parsed workflow against the schema rules and
// returns every finding, errors and warnings alike, in deterministic order.
func ValidateWorkflow(w *model.Workflow) []Finding {
	var findings []Finding
	add := func(sev Severity, path, format string, args ...any) {
		findings = append(findings, Finding{
			Severity: sev,
			Path:     path,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if len(w.On.Rules) == 0 {
		add(SeverityError, "on", "workflow declares no trigger")
	}
	for name, rule := range w.On.Rules {
		if name != model.EventPush && name != model.EventPullRequest {
			add(SeverityError, "on."+string(name), "unsupported event %q", name)
		}
		if rule != nil && len(rule.Branches) > 0 && len(rule.BranchesIgnore) > 0 {
			add(SeverityError, "on."+string(name),
				"branches and branches-ignore are mutually exclusive")
		}
	}

	checkExprContexts("env", add, mapValues(w.Env)...)

	if len(w.Jobs) == 0 {
		add(SeverityError, "jobs", "workflow declares no job")
	}

	jobIDs := make([]string, 0, len(w.Jobs))
	for id := range w.Jobs {
		jobIDs = append(jobIDs, id)
	}
	sort.Strings(jobIDs)

	for _, id := range jobIDs {
		validateJob(id, w.Jobs[id], add)
	}

	sortFindings(findings)
	return findings
}

func validateJob(id string, job *model.Job, add func(Severity, string, string, ...any)) {
	base := "jobs." + id

	if job == nil {
		add(SeverityError, base, "job has no body")
		return
	}
	if job.RunsOn == "" {
		add(SeverityError, base+".runs-on", "runs-on must not be empty")
	}
	if job.TimeoutMinutes < 0 {
		add(SeverityError, base+".timeout-minutes", "timeout must be positive")
	}
	if len(job.Steps) == 0 {
		add(SeverityError, base+".steps", "job declares no step")
	}

	if job.Strategy != nil && job.Strategy.Matrix != nil {
		validateMatrix(base+".strategy.matrix", job.Strategy.Matrix, add)
	}
	if job.Strategy != nil && job.Strategy.MaxParallel < 0 {
		add(SeverityError, base+".strategy.max-parallel", "max-parallel must be positive")
	}

	checkExprContexts(base+".env", add, mapValues(job.Env)...)

	for i, step := range job.Steps {
		validateStep(fmt.Sprintf("%s.steps[%d]", base, i), step, add)
	}

	if job.Coverage != nil {
		if len(job.Coverage.Files) == 0 {
			add(SeverityError, base+".coverage.files", "coverage declares no file")
		}
		checkExprContexts(base+".coverage.files", add, job.Coverage.Files...)
		checkExprContexts(base+".coverage.flags", add, job.Coverage.Flags...)
	}
}

func validateStep(path string, step *model.Step, add func(Severity, string, string, ...any)) {
	switch {
	case step.Run != "" && step.Uses != "":
		add(SeverityError, path, "step sets both run and uses")
	case step.Run == "" && step.Uses == "":
		add(SeverityError, path, "step sets neither run nor uses")
	case step.Uses != "" && step.Uses != model.UsesCheckout:
		add(SeverityError, path+".uses", "unsupported action reference %q", step.Uses)
	}

	if step.Shell != "" && step.Shell != "sh" && step.Shell != "bash" {
		add(SeverityError, path+".shell", "unsupported shell %q", step.Shell)
	}
	if step.TimeoutMinutes < 0 {
		add(SeverityError, path+".timeout-minutes", "timeout must be positive")
	}

	checkExprContexts(path, add,
		append([]string{step.Run, step.WorkingDirectory}, mapValues(step.Env)...)...)
}

// checkExprContexts reports unknown `${{ }}` contexts in every source
// string, so typos fail validation instead of silently interpolating to
// the empty string at run time.
func checkExprContexts(path string, add func(Severity, string, string, ...any), srcs ...string) {
	for _, src := range srcs {
		for _, ctx := range model.UnknownExprContexts(src) {
			add(SeverityError, path, "unknown expression context %q", ctx)
		}
	}
}

func validateMatrix(path string, m *model.Matrix, add func(Severity, string, string, ...any)) {
	dims := make([]string, 0, len(m.Dimensions))
	for k := range m.Dimensions {
		dims = append(dims, k)
	}
	sort.Strings(dims)

	for _, dim := range dims {
		values := m.Dimensions[dim]
		if len(values) == 0 {
			add(SeverityError, path+"."+dim, "dimension has no values")
		}
		for _, v := range values {
			if v.IsFloat() {
				add(SeverityWarning, path+"."+dim,
					"value %s is a YAML float; quote it to keep the exact text", v.Raw)
			}
		}
	}

	for i, entry := range m.Exclude {
		for k := range entry {
			if _, ok := m.Dimensions[k]; !ok {
				add(SeverityError, fmt.Sprintf("%s.exclude[%d]", path, i),
					"unknown dimension %q", k)
			}
		}
	}
	// include entries may introduce new keys; only existing-key typing is
	// checked at expansion time.
}

func mapValues(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(m))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Path != findings[j].Path {
			return findings[i].Path < findings[j].Path
		}
		return findings[i].Message < findings[j].Message
	})
}

// JobMatrixSummary reports the expanded cell count for one job, the
// "matrix dimensions match intent" check exposed by `drover validate
// --matrix`.
type JobMatrixSummary struct {
	JobID string
	Cells []model.MatrixCell
}

// DescribeMatrix expands every job's matrix and returns per-job summaries
// in sorted job-ID order.
func DescribeMatrix(w *model.Workflow) ([]JobMatrixSummary, error) {
	ids := make([]string, 0, len(w.Jobs))
	for id := range w.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	summaries := make([]JobMatrixSummary, 0, len(ids))
	for _, id := range ids {
		cells, err := w.Jobs[id].ExpandJob()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to expand matrix", goerr.V("job", id))
		}
		summaries = append(summaries, JobMatrixSummary{JobID: id, Cells: cells})
	}
	return summaries, nil
}
