package http_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	controller "github.com/m-mizutani/drover/pkg/controller/http"
	"github.com/m-mizutani/drover/pkg/domain/model"
)

// captureWebhookUC records events handed to ProcessEvent
type captureWebhookUC struct {
	mu     sync.Mutex
	events []*model.Event
}

func (c *captureWebhookUC) ProcessEvent(ctx context.Context, event *model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureWebhookUC) captured() []*model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Event(nil), c.events...)
}

// generateSignature generates HMAC-SHA256 signature for testing
func generateSignature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const pushPayload = `{
	"ref": "refs/heads/main",
	"after": "abc123",
	"repository": {"full_name": "pyscf/pyscf"},
	"sender": {"login": "octocat"}
}`

const prPayload = `{
	"action": "opened",
	"pull_request": {
		"number": 7,
		"head": {"ref": "feature/x", "sha": "def456"},
		"base": {"ref": "main"}
	},
	"repository": {"full_name": "pyscf/pyscf"},
	"sender": {"login": "octocat"}
}`

func postWebhook(t *testing.T, handler *controller.WebhookHandler, eventType, payload, signature string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-GitHub-Delivery", "test-delivery")
	req.Header.Set("X-Hub-Signature-256", signature)

	w := httptest.NewRecorder()
	handler.Handle(w, req)
	return w
}

func TestWebhookHandler_SignatureVerification(t *testing.T) {
	secret := "test-secret"

	tests := []struct {
		name           string
		signature      string // empty means generate a valid one
		wantStatusCode int
	}{
		{
			name:           "Valid signature",
			signature:      "",
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "Invalid signature",
			signature:      "sha256=invalid",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "Missing signature",
			signature:      "none",
			wantStatusCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := &captureWebhookUC{}
			handler := controller.NewWebhookHandler(secret, uc)

			signature := tt.signature
			switch signature {
			case "":
				signature = generateSignature(secret, []byte(pushPayload))
			case "none":
				signature = ""
			}

			w := postWebhook(t, handler, "push", pushPayload, signature)
			if w.Code != tt.wantStatusCode {
				t.Errorf("Handle() status = %v, want %v", w.Code, tt.wantStatusCode)
			}
		})
	}
}

func TestWebhookHandler_PushEvent(t *testing.T) {
	secret := "test-secret"
	uc := &captureWebhookUC{}
	handler := controller.NewWebhookHandler(secret, uc)

	w := postWebhook(t, handler, "push", pushPayload, generateSignature(secret, []byte(pushPayload)))
	if w.Code != http.StatusOK {
		t.Fatalf("Handle() status = %v, want %v", w.Code, http.StatusOK)
	}

	events := uc.captured()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.Name != model.EventPush {
		t.Errorf("Name = %v, want push", ev.Name)
	}
	if ev.Repository != "pyscf/pyscf" || ev.SHA != "abc123" {
		t.Errorf("Repository/SHA = %q/%q", ev.Repository, ev.SHA)
	}
	if ev.RefName != "main" {
		t.Errorf("RefName = %q, want main", ev.RefName)
	}
	if ev.DeliveryID != "test-delivery" {
		t.Errorf("DeliveryID = %q", ev.DeliveryID)
	}
}

func TestWebhookHandler_PullRequestEvent(t *testing.T) {
	secret := "test-secret"
	uc := &captureWebhookUC{}
	handler := controller.NewWebhookHandler(secret, uc)

	w := postWebhook(t, handler, "pull_request", prPayload, generateSignature(secret, []byte(prPayload)))
	if w.Code != http.StatusOK {
		t.Fatalf("Handle() status = %v, want %v", w.Code, http.StatusOK)
	}

	events := uc.captured()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.Name != model.EventPullRequest || ev.Action != "opened" {
		t.Errorf("Name/Action = %v/%q", ev.Name, ev.Action)
	}
	if ev.SHA != "def456" || ev.BaseRef != "main" {
		t.Errorf("SHA/BaseRef = %q/%q", ev.SHA, ev.BaseRef)
	}
	if ev.Branch() != "main" {
		t.Errorf("Branch() = %q, want base branch main", ev.Branch())
	}
}

func TestWebhookHandler_IgnoresOtherEvents(t *testing.T) {
	secret := "test-secret"
	uc := &captureWebhookUC{}
	handler := controller.NewWebhookHandler(secret, uc)

	payload := `{"action":"released","release":{"id":1},"repository":{"full_name":"pyscf/pyscf"}}`
	w := postWebhook(t, handler, "release", payload, generateSignature(secret, []byte(payload)))

	if w.Code != http.StatusOK {
		t.Errorf("Handle() status = %v, want %v", w.Code, http.StatusOK)
	}
	if got := uc.captured(); len(got) != 0 {
		t.Errorf("events = %v, want none for release", got)
	}
}
