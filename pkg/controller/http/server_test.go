package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	controller "github.com/m-mizutani/drover/pkg/controller/http"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

// memoryRunStore is an in-memory RunStore for handler tests
type memoryRunStore struct {
	runs []*model.WorkflowRun
}

func (s *memoryRunStore) Put(ctx context.Context, run *model.WorkflowRun) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *memoryRunStore) Get(ctx context.Context, id string) (*model.WorkflowRun, error) {
	for _, run := range s.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, goerr.New("run not found", goerr.V("id", id))
}

func (s *memoryRunStore) List(ctx context.Context, limit int) ([]*model.WorkflowRun, error) {
	out := make([]*model.WorkflowRun, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

func (s *memoryRunStore) Close() error { return nil }

func newTestServer(t *testing.T, store *memoryRunStore) *controller.Server {
	t.Helper()

	opts := []controller.Option{controller.WithWebhookSecret("test-secret")}
	if store != nil {
		opts = append(opts, controller.WithRunStore(store))
	}

	srv, err := controller.NewServer(context.Background(), &captureWebhookUC{}, opts...)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v", w.Code, http.StatusOK)
	}

	var status model.HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if status.Status != "healthy" || status.Service != "drover" {
		t.Errorf("health = %+v", status)
	}
}

func TestServer_ListRuns(t *testing.T) {
	store := &memoryRunStore{}
	for _, name := range []string{"first", "second", "third"} {
		run := model.NewWorkflowRun(&model.Workflow{Name: name}, &model.Event{Name: model.EventPush})
		if err := store.Put(context.Background(), run); err != nil {
			t.Fatal(err)
		}
	}
	srv := newTestServer(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=2", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v", w.Code, http.StatusOK)
	}

	var body struct {
		Runs []*model.WorkflowRun `json:"runs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(body.Runs))
	}
	if body.Runs[0].Workflow != "third" {
		t.Errorf("runs[0] = %q, want newest first", body.Runs[0].Workflow)
	}
}

func TestServer_ListRunsBadLimit(t *testing.T) {
	srv := newTestServer(t, &memoryRunStore{})

	for _, limit := range []string{"0", "-3", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/runs?limit="+limit, nil)
		w := httptest.NewRecorder()
		srv.Handler.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %v, want %v", limit, w.Code, http.StatusBadRequest)
		}
	}
}

func TestServer_GetRun(t *testing.T) {
	store := &memoryRunStore{}
	run := model.NewWorkflowRun(&model.Workflow{Name: "pyscf"}, &model.Event{Name: model.EventPush, SHA: "abc123"})
	if err := store.Put(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID, nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v", w.Code, http.StatusOK)
	}

	var got model.WorkflowRun
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ID != run.ID || got.Workflow != "pyscf" {
		t.Errorf("got = %+v", got)
	}
}

func TestServer_GetRunNotFound(t *testing.T) {
	srv := newTestServer(t, &memoryRunStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %v, want %v", w.Code, http.StatusNotFound)
	}
}

func TestServer_RunsAPIDisabledWithoutStore(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %v, want %v", w.Code, http.StatusNotFound)
	}
}
