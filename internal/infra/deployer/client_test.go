package deployer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/deploy-armada/internal/domain/deployment"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.RateLimit = 0
	cfg.MaxRetries = 3
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := NewClient(cfg, srv.Client(), logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return c, srv
}

func jsonResponse(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, body)
	}
}

func TestQueryStatus_Documents(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantStage    remotetask.Stage
		wantSubstage int
		hasSubstage  bool
		wantReason   string
		wantResultID string
	}{
		{
			name:      "created maps to running",
			body:      `{"taskState":{"stage":"CREATED"}}`,
			wantStage: remotetask.StageRunning,
		},
		{
			name:         "started with substage",
			body:         `{"taskState":{"stage":"STARTED","subStage":"DEPROVISION_HOSTS"}}`,
			wantStage:    remotetask.StageRunning,
			wantSubstage: int(deployment.RemoveSubstageDeprovisionHosts),
			hasSubstage:  true,
		},
		{
			name:      "unknown substage is dropped",
			body:      `{"taskState":{"stage":"STARTED","subStage":"MIGRATE"}}`,
			wantStage: remotetask.StageRunning,
		},
		{
			name:         "finished carries deployment id",
			body:         `{"taskState":{"stage":"FINISHED"},"deploymentId":"dep-1"}`,
			wantStage:    remotetask.StageFinished,
			wantResultID: "dep-1",
		},
		{
			name:       "failed carries message",
			body:       `{"taskState":{"stage":"FAILED","failure":{"message":"hosts unreachable"}}}`,
			wantStage:  remotetask.StageFailed,
			wantReason: "hosts unreachable",
		},
		{
			name:      "cancelled",
			body:      `{"taskState":{"stage":"CANCELLED"}}`,
			wantStage: remotetask.StageCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, jsonResponse(tt.body))

			obs, err := c.QueryStatus(context.Background(), "/workflows/remove/1")
			require.NoError(t, err)

			found, ok := obs.(remotetask.Found)
			require.True(t, ok, "expected Found, got %T", obs)
			assert.Equal(t, tt.wantStage, found.State.Stage())
			sub, has := found.State.Substage()
			assert.Equal(t, tt.hasSubstage, has)
			assert.Equal(t, tt.wantSubstage, sub)
			assert.Equal(t, tt.wantReason, found.State.FailureReason())
			assert.Equal(t, tt.wantResultID, found.State.ResultEntityID())
		})
	}
}

func TestQueryStatus_RequestPath(t *testing.T) {
	var path atomic.Value
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = fmt.Fprint(w, `{"taskState":{"stage":"STARTED"}}`)
	})

	_, err := c.QueryStatus(context.Background(), "workflows/remove/7")
	require.NoError(t, err)
	assert.Equal(t, "/workflows/remove/7", path.Load())
}

func TestQueryStatus_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	obs, err := c.QueryStatus(context.Background(), "/workflows/remove/1")
	require.NoError(t, err)
	assert.IsType(t, remotetask.NotFound{}, obs)
}

func TestQueryStatus_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, `{"taskState":{"stage":"FINISHED"}}`)
	})

	obs, err := c.QueryStatus(context.Background(), "/workflows/remove/1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, remotetask.StageFinished, obs.(remotetask.Found).State.Stage())
}

func TestQueryStatus_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.QueryStatus(context.Background(), "/workflows/remove/1")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, int32(4), calls.Load())
}

func TestQueryStatus_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprint(w, "denied")
	})

	_, err := c.QueryStatus(context.Background(), "/workflows/remove/1")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "denied", se.Body)
	assert.False(t, se.Temporary())
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueryStatus_InvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"taskState":`},
		{name: "missing task state", body: `{"deploymentId":"x"}`},
		{name: "unknown stage", body: `{"taskState":{"stage":"PAUSED"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				_, _ = fmt.Fprint(w, tt.body)
			})

			_, err := c.QueryStatus(context.Background(), "/workflows/remove/1")

			var de *DocumentError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, remotetask.Link("/workflows/remove/1"), de.Link)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestQueryStatus_CancelledContextStopsRetrying(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.cfg.MaxRetries = 1000
	c.cfg.InitialInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.QueryStatus(ctx, "/workflows/remove/1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueryStatus_BreakerOpensAfterConsecutiveServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(cfg *Config) {
		cfg.MaxRetries = 0
		cfg.BreakerFailures = 3
		cfg.BreakerTimeout = time.Minute
	})

	for i := 0; i < 3; i++ {
		_, err := c.QueryStatus(context.Background(), "/workflows/remove/1")
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}
	assert.Equal(t, gobreaker.StateOpen, c.breaker.State())

	_, err := c.QueryStatus(context.Background(), "/workflows/remove/1")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), calls.Load(), "open breaker must not reach the server")
}

func TestQueryStatus_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}, func(cfg *Config) {
		cfg.MaxRetries = 0
		cfg.BreakerFailures = 2
	})

	for i := 0; i < 5; i++ {
		_, err := c.QueryStatus(context.Background(), "/workflows/remove/1")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	}

	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())
	assert.Equal(t, int32(5), calls.Load())
}

func TestQueryStatus_RecoversWhenBreakerTimeoutElapses(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprint(w, `{"taskState":{"stage":"FINISHED"}}`)
	}, func(cfg *Config) {
		cfg.MaxRetries = 100
		cfg.InitialInterval = 10 * time.Millisecond
		cfg.MaxInterval = 20 * time.Millisecond
		cfg.BreakerFailures = 1
		cfg.BreakerTimeout = 50 * time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	obs, err := c.QueryStatus(ctx, "/workflows/remove/1")
	require.NoError(t, err)

	assert.Equal(t, remotetask.StageFinished, obs.(remotetask.Found).State.Stage())
	assert.Equal(t, int32(2), calls.Load(), "rejections while open must not reach the server")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())
}

func TestQueryStatus_RateLimited(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = fmt.Fprint(w, `{"taskState":{"stage":"STARTED"}}`)
	}, func(cfg *Config) {
		cfg.RateLimit = 20
		cfg.RateBurst = 1
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.QueryStatus(context.Background(), "/workflows/remove/1")
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "denied", n: 10, want: "denied"},
		{name: "ascii", in: "gateway timeout", n: 7, want: "gateway"},
		{name: "keeps whole rune", in: "ab\u00e9cd", n: 3, want: "ab"},
		{name: "multi byte boundary", in: "\u65e5\u672c\u8a9e", n: 4, want: "\u65e5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{}, nil, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)
}
