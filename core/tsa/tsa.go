// Package tsa talks to an external timestamp authority: submit a digest,
// receive a token, poll for the timestamp proof.
package tsa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	coreerrors "github.com/davidahmann/callproof/core/errors"
)

// State is the authority's view of one submission.
type State string

const (
	StatePending  State = "pending"
	StateReceived State = "received"
	StateFailed   State = "failed"
)

// Status is the result of polling a submission token.
type Status struct {
	State      State     `json:"state"`
	Proof      string    `json:"timestamp_proof,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Client is the timestamp-authority collaborator. Implementations must be
// safe for concurrent use.
type Client interface {
	Submit(ctx context.Context, digest string) (token string, err error)
	PollStatus(ctx context.Context, token string) (Status, error)
}

// HTTPClient submits digests to an HTTP timestamp authority. Every request
// is time-bounded and transient failures get exactly one retry.
type HTTPClient struct {
	Endpoint string
	Timeout  time.Duration
	client   *http.Client
}

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		Endpoint: endpoint,
		Timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	Digest string `json:"digest"`
}

type submitResponse struct {
	Token string `json:"token"`
}

// Submit sends the digest and returns the authority's polling token.
func (c *HTTPClient) Submit(ctx context.Context, digest string) (string, error) {
	body, err := json.Marshal(submitRequest{Digest: digest})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, http.MethodPost, c.Endpoint+"/submit", body)
	if err != nil {
		return "", err
	}
	var parsed submitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", external(fmt.Errorf("parse submit response: %w", err), false)
	}
	if parsed.Token == "" {
		return "", external(fmt.Errorf("authority returned empty token"), false)
	}
	return parsed.Token, nil
}

// PollStatus fetches the submission state for a token.
func (c *HTTPClient) PollStatus(ctx context.Context, token string) (Status, error) {
	respBody, err := c.doWithRetry(ctx, http.MethodGet, c.Endpoint+"/status/"+token, nil)
	if err != nil {
		return Status{}, err
	}
	var status Status
	if err := json.Unmarshal(respBody, &status); err != nil {
		return Status{}, external(fmt.Errorf("parse status response: %w", err), false)
	}
	switch status.State {
	case StatePending, StateReceived, StateFailed:
		return status, nil
	default:
		return Status{}, external(fmt.Errorf("authority returned unknown state %q", status.State), false)
	}
}

func (c *HTTPClient) doWithRetry(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	respBody, err := c.do(ctx, method, url, body)
	if err == nil {
		return respBody, nil
	}
	if !coreerrors.RetryableOf(err) || ctx.Err() != nil {
		return nil, err
	}
	return c.do(ctx, method, url, body)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, external(fmt.Errorf("timestamp authority unreachable: %w", err), true)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, external(fmt.Errorf("read response: %w", err), true)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode >= 500:
		return nil, external(fmt.Errorf("authority status %d", resp.StatusCode), true)
	default:
		return nil, external(fmt.Errorf("authority status %d", resp.StatusCode), false)
	}
}

func external(err error, retryable bool) error {
	return coreerrors.Wrap(err, coreerrors.CategoryExternalService, "tsa_request_failed",
		"the timestamp authority can be retried later", retryable)
}
