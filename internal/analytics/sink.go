// Package analytics delivers funnel events best-effort. Delivery never
// blocks the caller and its failures never reach the enrollment flow.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enroll-cli/internal/resilience"
)

// Event is one funnel event.
type Event struct {
	Name       string            `json:"event"`
	SessionID  string            `json:"session_id"`
	Step       string            `json:"step,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	At         time.Time         `json:"at"`
}

// Sink accepts events. Track must return immediately.
type Sink interface {
	Track(e Event)
	// Close waits for in-flight deliveries.
	Close()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Track(Event) {}
func (Nop) Close()      {}

// HTTPSink POSTs each event as JSON in its own goroutine.
type HTTPSink struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	retry    resilience.RetryConfig

	wg sync.WaitGroup
}

// Option configures an HTTPSink.
type Option func(*HTTPSink)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *HTTPSink) {
		s.http = hc
	}
}

// WithTimeout bounds each delivery including retries.
func WithTimeout(d time.Duration) Option {
	return func(s *HTTPSink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetry sets the delivery retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *HTTPSink) {
		s.retry = cfg
	}
}

// NewHTTPSink creates a sink posting to endpoint.
func NewHTTPSink(endpoint string, opts ...Option) *HTTPSink {
	s := &HTTPSink{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 5 * time.Second},
		timeout:  10 * time.Second,
		retry:    resilience.DefaultRetryConfig(),
	}
	s.retry.OnRetry = resilience.RetryLogger("analytics", "track")
	for _, o := range opts {
		o(s)
	}
	return s
}

// Track queues e for delivery and returns immediately.
func (s *HTTPSink) Track(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
			return s.send(ctx, e)
		}); err != nil {
			zap.L().Debug("analytics: event dropped",
				zap.String("event", e.Name),
				zap.String("session_id", e.SessionID),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for in-flight deliveries to finish or time out.
func (s *HTTPSink) Close() {
	s.wg.Wait()
}

func (s *HTTPSink) send(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "analytics: marshal event")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "analytics: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "analytics: send")
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		err := eris.Errorf("analytics: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
