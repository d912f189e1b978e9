// Package insurer is an HTTP client for the insurance provider's enrollment
// workflow API. It performs single request/response calls and never retries.
package insurer

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
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.petinsurer.example/v1"

// Client performs the four workflow operations against the provider.
type Client interface {
	CreateLead(ctx context.Context, req CreateLeadRequest) (*CreateLeadResponse, error)
	SetPlan(ctx context.Context, quoteDetailID string, req SetPlanRequest) (*SetPlanResponse, error)
	SetupPending(ctx context.Context, leadID string, req SetupPendingRequest) (*SetupPendingResponse, error)
	Enroll(ctx context.Context, leadID string, req EnrollRequest) (*EnrollResponse, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a provider API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) CreateLead(ctx context.Context, req CreateLeadRequest) (*CreateLeadResponse, error) {
	var out CreateLeadResponse
	if err := c.post(ctx, "/leads", req, &out); err != nil {
		return nil, eris.Wrap(err, "insurer: create lead")
	}
	return &out, nil
}

func (c *httpClient) SetPlan(ctx context.Context, quoteDetailID string, req SetPlanRequest) (*SetPlanResponse, error) {
	var out SetPlanResponse
	if err := c.post(ctx, "/quotes/"+url.PathEscape(quoteDetailID)+"/plan", req, &out); err != nil {
		return nil, eris.Wrap(err, "insurer: set plan")
	}
	return &out, nil
}

func (c *httpClient) SetupPending(ctx context.Context, leadID string, req SetupPendingRequest) (*SetupPendingResponse, error) {
	var out SetupPendingResponse
	if err := c.post(ctx, "/leads/"+url.PathEscape(leadID)+"/pending-account", req, &out); err != nil {
		return nil, eris.Wrap(err, "insurer: setup pending")
	}
	return &out, nil
}

func (c *httpClient) Enroll(ctx context.Context, leadID string, req EnrollRequest) (*EnrollResponse, error) {
	var out EnrollResponse
	if err := c.post(ctx, "/leads/"+url.PathEscape(leadID)+"/enroll", req, &out); err != nil {
		return nil, eris.Wrap(err, "insurer: enroll")
	}
	return &out, nil
}

func (c *httpClient) post(ctx context.Context, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}

// decodeAPIError parses the provider's JSON error envelope. Non-JSON bodies
// (gateway pages) keep the raw text as the message.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		ResumeRef string `json:"resume_session_id"`
		Error     *struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			ResumeRef string `json:"resume_session_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code, apiErr.Message, apiErr.ResumeRef = envelope.Code, envelope.Message, envelope.ResumeRef
		if envelope.Error != nil {
			apiErr.Code, apiErr.Message, apiErr.ResumeRef = envelope.Error.Code, envelope.Error.Message, envelope.Error.ResumeRef
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
