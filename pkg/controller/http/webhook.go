package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v75/github"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

// WebhookHandler handles GitHub webhooks
type WebhookHandler struct {
	secret    string
	webhookUC interfaces.WebhookUseCase
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(secret string, webhookUC interfaces.WebhookUseCase) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		webhookUC: webhookUC,
	}
}

// Handle processes webhook requests
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := ctxlog.From(ctx)

	// Read payload
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Failed to read request body", "error", err)
		writeError(w, goerr.Wrap(err, "failed to read request body"), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Verify signature
	signature := r.Header.Get("X-Hub-Signature-256")
	if !h.verifySignature(body, signature) {
		logger.Warn("Invalid webhook signature")
		writeError(w, goerr.New("invalid signature"), http.StatusUnauthorized)
		return
	}

	// Parse event using GitHub SDK
	eventType := r.Header.Get("X-GitHub-Event")
	payload, err := github.ParseWebHook(eventType, body)
	if err != nil {
		logger.Error("Failed to parse webhook payload", "error", err)
		writeError(w, goerr.Wrap(err, "invalid JSON payload"), http.StatusBadRequest)
		return
	}

	event, supported := extractEvent(payload, r.Header.Get("X-GitHub-Delivery"))
	if !supported {
		// Acknowledge and ignore anything that is not push / pull_request.
		logger.Info("Ignoring unsupported event type", "event_type", eventType)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// Process event via UseCase
	if err := h.webhookUC.ProcessEvent(ctx, event); err != nil {
		logger.Error("Failed to process webhook event", "error", err)
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// extractEvent normalizes a parsed GitHub payload into a model.Event. The
// second return value is false for event types drover does not run
// workflows for.
func extractEvent(payload any, deliveryID string) (*model.Event, bool) {
	now := time.Now()

	switch e := payload.(type) {
	case *github.PushEvent:
		ref := e.GetRef()
		return &model.Event{
			Name:       model.EventPush,
			Repository: e.GetRepo().GetFullName(),
			SHA:        e.GetAfter(),
			Ref:        ref,
			RefName:    strings.TrimPrefix(ref, "refs/heads/"),
			Actor:      e.GetSender().GetLogin(),
			DeliveryID: deliveryID,
			ReceivedAt: now,
		}, true

	case *github.PullRequestEvent:
		pr := e.GetPullRequest()
		return &model.Event{
			Name:       model.EventPullRequest,
			Action:     e.GetAction(),
			Repository: e.GetRepo().GetFullName(),
			SHA:        pr.GetHead().GetSHA(),
			Ref:        pr.GetHead().GetRef(),
			RefName:    pr.GetHead().GetRef(),
			BaseRef:    pr.GetBase().GetRef(),
			Actor:      e.GetSender().GetLogin(),
			DeliveryID: deliveryID,
			ReceivedAt: now,
		}, true

	default:
		return nil, false
	}
}

// verifySignature verifies the webhook signature
func (h *WebhookHandler) verifySignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}

	// Remove "sha256=" prefix if present
	signature = strings.TrimPrefix(signature, "sha256=")

	// Calculate HMAC-SHA256
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(payload)
	expectedMAC := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedMAC))
}
