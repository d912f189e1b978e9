// Package sessionapi is an HTTP client for the session persistence API.
// Every mutating call returns the full, authoritative session record.
package sessionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/resilience"
)

// ErrNotFound is returned when the session does not exist (or has expired).
var ErrNotFound = eris.New("sessionapi: session not found")

// Client reads and patches session records.
type Client interface {
	Create(ctx context.Context, zip, email string) (*model.Session, error)
	Get(ctx context.Context, id string) (*model.Session, error)
	Patch(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a session API client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Create(ctx context.Context, zip, email string) (*model.Session, error) {
	body := map[string]string{"zip": zip, "email": email}
	s, err := c.do(ctx, http.MethodPost, "/sessions", body)
	return s, eris.Wrap(err, "sessionapi: create")
}

func (c *httpClient) Get(ctx context.Context, id string) (*model.Session, error) {
	s, err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil)
	return s, eris.Wrapf(err, "sessionapi: get %s", id)
}

func (c *httpClient) Patch(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	s, err := c.do(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(id), patch)
	return s, eris.Wrapf(err, "sessionapi: patch %s", id)
}

func (c *httpClient) do(ctx context.Context, method, path string, in any) (*model.Session, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, eris.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
			resp.StatusCode,
		)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, eris.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var s model.Session
	if err := json.Unmarshal(respBody, &s); err != nil {
		return nil, eris.Wrap(err, "unmarshal session")
	}
	if err := s.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid session")
	}
	return &s, nil
}
