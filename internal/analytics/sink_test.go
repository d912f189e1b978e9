package analytics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/enroll-cli/internal/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestHTTPSink_Delivers(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewHTTPSink(srv.URL, WithRetry(fastRetry(1)))
	s.Track(Event{Name: "quote_confirmed", SessionID: "s1", Step: "details"})
	s.Track(Event{Name: "details_submitted", SessionID: "s1"})
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, "s1", e.SessionID)
		assert.False(t, e.At.IsZero())
	}
}

func TestHTTPSink_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSink(srv.URL, WithRetry(fastRetry(3)))
	s.Track(Event{Name: "lead_created", SessionID: "s1"})
	s.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSink_SwallowsFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewHTTPSink(srv.URL, WithRetry(fastRetry(3)))
	s.Track(Event{Name: "x", SessionID: "s1"})
	s.Close()

	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestHTTPSink_TrackDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSink(srv.URL, WithRetry(fastRetry(1)), WithTimeout(2*time.Second))
	start := time.Now()
	s.Track(Event{Name: "slow", SessionID: "s1"})
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	s.Close()
}

func TestHTTPSink_UnreachableEndpoint(t *testing.T) {
	s := NewHTTPSink("http://127.0.0.1:1/events", WithRetry(fastRetry(2)), WithTimeout(time.Second))
	s.Track(Event{Name: "x", SessionID: "s1"})
	s.Close()
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	s.Track(Event{Name: "x"})
	s.Close()
}
