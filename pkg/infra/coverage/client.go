package coverage

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = time.Second
)

// Client uploads coverage reports to an HTTP reporting service as a
// multipart form, authenticated by a bearer-style token header.
type Client struct {
	endpoint    string
	token       string
	httpClient  *http.Client
	maxAttempts int
	backoff     time.Duration
}

var _ interfaces.CoverageUploader = (*Client)(nil)

// Option is a functional option for Client configuration
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetry overrides attempt count and the initial backoff, which doubles
// per retry.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(client *Client) {
		client.maxAttempts = attempts
		client.backoff = backoff
	}
}

// New creates an upload client for the given service endpoint.
func New(endpoint, token string, opts ...Option) *Client {
	client := &Client{
		endpoint:    endpoint,
		token:       token,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Upload sends the report. Server errors and network failures are retried
// with doubling backoff; a 4xx response is terminal.
func (c *Client) Upload(ctx context.Context, report *model.CoverageReport) error {
	body, contentType, err := buildForm(report)
	if err != nil {
		return err
	}

	logger := ctxlog.From(ctx)
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		terminal, err := c.post(ctx, body, contentType)
		if err == nil {
			return nil
		}
		if terminal {
			return err
		}
		lastErr = err

		if attempt < c.maxAttempts {
			logger.Warn("Coverage upload failed, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return goerr.Wrap(ctx.Err(), "coverage upload cancelled")
			}
			backoff *= 2
		}
	}

	return goerr.Wrap(lastErr, "coverage upload failed",
		goerr.V("attempts", c.maxAttempts), goerr.V("path", report.Path))
}

// post performs one upload attempt. The bool result marks terminal
// failures that must not be retried.
func (c *Client) post(ctx context.Context, body []byte, contentType string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return true, goerr.Wrap(err, "failed to create upload request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "token "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, goerr.Wrap(err, "failed to reach coverage service")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	uploadErr := goerr.New("coverage service rejected upload",
		goerr.V("status", resp.StatusCode),
		goerr.V("body", string(respBody)))

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return true, uploadErr
	}
	return false, uploadErr
}

// buildForm renders the multipart body once so retries resend identical
// bytes.
func buildForm(report *model.CoverageReport) ([]byte, string, error) {
	file, err := os.Open(report.Path)
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to open coverage report", goerr.V("path", report.Path))
	}
	defer file.Close()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	fields := map[string]string{
		"commit": report.CommitSHA,
		"ref":    report.Ref,
		"flags":  strings.Join(report.Flags, ","),
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := form.WriteField(key, value); err != nil {
			return nil, "", goerr.Wrap(err, "failed to write form field", goerr.V("field", key))
		}
	}

	part, err := form.CreateFormFile("report", filepath.Base(report.Path))
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to create form file")
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", goerr.Wrap(err, "failed to read coverage report", goerr.V("path", report.Path))
	}

	if err := form.Close(); err != nil {
		return nil, "", goerr.Wrap(err, "failed to finalize form")
	}

	return buf.Bytes(), form.FormDataContentType(), nil
}
