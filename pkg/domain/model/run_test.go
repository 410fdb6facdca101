package model_test

import (
	"encoding/json"
	"testing"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/gt"
)

func TestWorkflowRun_Lifecycle(t *testing.T) {
	w := &model.Workflow{Name: "CI"}
	run := model.NewWorkflowRun(w, &model.Event{Name: model.EventPush})

	gt.Value(t, run.Status).Equal(model.StatusQueued)
	gt.True(t, run.ID != "")
	gt.Value(t, run.Workflow).Equal("CI")

	gt.NoError(t, run.Start())
	gt.Value(t, run.Status).Equal(model.StatusInProgress)

	gt.NoError(t, run.Finish(model.ConclusionSuccess))
	gt.Value(t, run.Status).Equal(model.StatusCompleted)
	gt.Value(t, run.Conclusion).Equal(model.ConclusionSuccess)
}

func TestWorkflowRun_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		op   func(r *model.WorkflowRun) error
		prep func(r *model.WorkflowRun)
	}{
		{
			name: "finish queued as success",
			op:   func(r *model.WorkflowRun) error { return r.Finish(model.ConclusionSuccess) },
		},
		{
			name: "finish without conclusion",
			prep: func(r *model.WorkflowRun) { _ = r.Start() },
			op:   func(r *model.WorkflowRun) error { return r.Finish(model.ConclusionNone) },
		},
		{
			name: "double start",
			prep: func(r *model.WorkflowRun) { _ = r.Start() },
			op:   func(r *model.WorkflowRun) error { return r.Start() },
		},
		{
			name: "start after completion",
			prep: func(r *model.WorkflowRun) {
				_ = r.Start()
				_ = r.Finish(model.ConclusionFailure)
			},
			op: func(r *model.WorkflowRun) error { return r.Start() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := model.NewWorkflowRun(&model.Workflow{Name: "CI"}, nil)
			if tt.prep != nil {
				tt.prep(run)
			}
			gt.Error(t, tt.op(run))
		})
	}
}

func TestJobRun_QueuedToCancelled(t *testing.T) {
	j := &model.JobRun{JobID: "build", Status: model.StatusQueued}

	// A queued job that never ran may complete only as cancelled or skipped.
	gt.Error(t, j.Finish(model.ConclusionSuccess))
	gt.NoError(t, j.Finish(model.ConclusionCancelled))
	gt.Value(t, j.Status).Equal(model.StatusCompleted)
}

func TestAggregateConclusion(t *testing.T) {
	jr := func(c model.Conclusion) *model.JobRun {
		return &model.JobRun{Status: model.StatusCompleted, Conclusion: c}
	}
	tolerated := func(c model.Conclusion) *model.JobRun {
		j := jr(c)
		j.ContinueOnError = true
		return j
	}

	tests := []struct {
		name string
		jobs []*model.JobRun
		want model.Conclusion
	}{
		{
			name: "all success",
			jobs: []*model.JobRun{jr(model.ConclusionSuccess), jr(model.ConclusionSuccess)},
			want: model.ConclusionSuccess,
		},
		{
			name: "failure dominates",
			jobs: []*model.JobRun{jr(model.ConclusionSuccess), jr(model.ConclusionFailure), jr(model.ConclusionCancelled)},
			want: model.ConclusionFailure,
		},
		{
			name: "cancelled beats success",
			jobs: []*model.JobRun{jr(model.ConclusionSuccess), jr(model.ConclusionCancelled)},
			want: model.ConclusionCancelled,
		},
		{
			name: "skipped ignored",
			jobs: []*model.JobRun{jr(model.ConclusionSuccess), jr(model.ConclusionSkipped)},
			want: model.ConclusionSuccess,
		},
		{
			name: "continue-on-error failure ignored",
			jobs: []*model.JobRun{jr(model.ConclusionSuccess), tolerated(model.ConclusionFailure)},
			want: model.ConclusionSuccess,
		},
		{
			name: "continue-on-error does not mask other failures",
			jobs: []*model.JobRun{tolerated(model.ConclusionFailure), jr(model.ConclusionFailure)},
			want: model.ConclusionFailure,
		},
		{
			name: "no jobs",
			jobs: nil,
			want: model.ConclusionSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Value(t, model.AggregateConclusion(tt.jobs)).Equal(tt.want)
		})
	}
}

func TestWorkflowRun_JSONRoundTrip(t *testing.T) {
	run := model.NewWorkflowRun(&model.Workflow{Name: "CI"}, &model.Event{
		Name:       model.EventPush,
		Repository: "pyscf/pyscf",
		SHA:        "abc123",
	})
	run.Jobs = []*model.JobRun{{
		JobID:  "linux-build",
		Name:   "linux-build (3.10)",
		Cell:   model.MatrixCell{"python-version": model.MatrixValue{Raw: "3.10"}},
		Status: model.StatusQueued,
	}}

	data, err := json.Marshal(run)
	gt.NoError(t, err)

	var back model.WorkflowRun
	gt.NoError(t, json.Unmarshal(data, &back))
	gt.Value(t, back.ID).Equal(run.ID)
	gt.Value(t, back.Jobs[0].Cell.Get("python-version")).Equal("3.10")
}
