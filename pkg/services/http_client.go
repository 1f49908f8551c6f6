package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const headerIdempotencyKey = "Idempotency-Key"

// HTTPClient implements all four collaborator interfaces against the
// CRM's REST API. Per-call timeouts come from the http.Client; a call
// that exceeds its deadline is reported as transient.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Create(ctx context.Context, idempotencyKey string, fields map[string]string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/tasks", idempotencyKey, fields, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *HTTPClient) Send(ctx context.Context, idempotencyKey, to, subject, body string) error {
	payload := map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	}
	return c.do(ctx, http.MethodPost, "/api/v1/emails", idempotencyKey, payload, nil)
}

func (c *HTTPClient) Get(ctx context.Context, entityType, id string) (*Entity, error) {
	var entity Entity
	path := fmt.Sprintf("/api/v1/entities/%s/%s", url.PathEscape(entityType), url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, path, "", nil, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (c *HTTPClient) UpdateField(ctx context.Context, idempotencyKey, entityType, id, field, value string) error {
	path := fmt.Sprintf("/api/v1/entities/%s/%s", url.PathEscape(entityType), url.PathEscape(id))
	payload := map[string]string{field: value}
	return c.do(ctx, http.MethodPatch, path, idempotencyKey, payload, nil)
}

func (c *HTTPClient) ListDateFieldDue(ctx context.Context, entityType, dateField string, now time.Time) ([]Entity, error) {
	path := fmt.Sprintf("/api/v1/entities/%s?due_field=%s&due_before=%s",
		url.PathEscape(entityType),
		url.QueryEscape(dateField),
		url.QueryEscape(now.UTC().Format(time.RFC3339)),
	)
	var resp struct {
		Entities []Entity `json:"entities"`
	}
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entities, nil
}

func (c *HTTPClient) Log(ctx context.Context, idempotencyKey string, fields map[string]string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/interactions", idempotencyKey, fields, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path, idempotencyKey string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Permanent(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failures and deadline overruns are retryable.
		return Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Transient(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	default:
		return Permanent(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return Transient(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
