// Package deployer reads the state of remote deployment workflows from the
// deployer service.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff"
	"github.com/sony/gobreaker"
	"github.com/valyala/fastjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/deploy-armada/internal/domain/deployment"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/pkg/common"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

const maxBodyBytes = 1 << 20

// Config holds the settings of a Client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
	// MaxRetries bounds retries of server and network errors per query.
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// BreakerFailures is the number of consecutive server or network errors
	// that opens the circuit breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns the client defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		RequestTimeout:  30 * time.Second,
		RateLimit:       10,
		RateBurst:       5,
		MaxRetries:      5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// StatusError is returned when the deployer answers with an unexpected HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("deployer returned status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool { return e.StatusCode >= http.StatusInternalServerError }

// DocumentError is returned when a workflow document cannot be interpreted.
type DocumentError struct {
	Link   remotetask.Link
	Reason string
	Err    error
}

func (e *DocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid workflow document at %s: %s: %v", e.Link, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid workflow document at %s: %s", e.Link, e.Reason)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// Client queries remove-deployment workflow documents.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *common.RateLimiter
	breaker    *gobreaker.CircuitBreaker
	parsers    fastjson.ParserPool
	cfg        Config

	logger *logger.Logger
	tracer trace.Tracer
}

var _ remotetask.StatusQuery = (*Client)(nil)

// NewClient creates a Client. A nil httpClient gets one with an otelhttp
// transport and cfg.RequestTimeout.
func NewClient(cfg Config, httpClient *http.Client, log *logger.Logger, tracer trace.Tracer) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("deployer base url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.RequestTimeout,
		}
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    common.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		cfg:        cfg,
		logger:     log.With("component", "deployer_client"),
		tracer:     tracer,
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "deployer",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only outages count against the breaker; a bad request is the caller's problem.
		IsSuccessful: func(err error) bool { return err == nil || !isTransient(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn(context.Background(), "deployer circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c, nil
}

// QueryStatus fetches the workflow document behind link. A 404 is reported as
// remotetask.NotFound. Server and network errors are retried with exponential
// backoff; any other failure is returned immediately.
func (c *Client) QueryStatus(ctx context.Context, link remotetask.Link) (remotetask.Observation, error) {
	ctx, span := c.tracer.Start(ctx, "deployer_client.query_status",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("remote_task.link", link.String())))
	defer span.End()

	var (
		obs      remotetask.Observation
		attempts int
	)
	operation := func() error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetch(ctx, link)
		})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			if isTransient(err) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				span.AddEvent("retrying_status_query", trace.WithAttributes(
					attribute.Int("attempt", attempts),
					attribute.String("error", err.Error()),
				))
				return err
			}
			return backoff.Permanent(err)
		}
		obs = res.(remotetask.Observation)
		return nil
	}

	if err := backoff.Retry(operation, c.newBackOff(ctx)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status query failed")
		return nil, fmt.Errorf("querying remote task %s: %w", link, err)
	}

	span.SetAttributes(attribute.Int("attempts", attempts))
	span.SetStatus(codes.Ok, "status query completed")
	return obs, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if c.cfg.InitialInterval > 0 {
		exp.InitialInterval = c.cfg.InitialInterval
	}
	if c.cfg.MaxInterval > 0 {
		exp.MaxInterval = c.cfg.MaxInterval
	}
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.cfg.MaxRetries), ctx)
}

func (c *Client) fetch(ctx context.Context, link remotetask.Link) (remotetask.Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(link), nil)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("reading status response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return remotetask.NotFound{}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return c.decode(ctx, link, body)
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
}

func (c *Client) resolve(link remotetask.Link) string {
	l := link.String()
	if strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") {
		return l
	}
	return c.baseURL + "/" + strings.TrimLeft(l, "/")
}

// decode reads a document of the form
// {"taskState":{"stage","subStage","failure":{"message"}},"deploymentId"}.
func (c *Client) decode(ctx context.Context, link remotetask.Link, body []byte) (remotetask.Observation, error) {
	p := c.parsers.Get()
	defer c.parsers.Put(p)

	doc, err := p.ParseBytes(body)
	if err != nil {
		return nil, &DocumentError{Link: link, Reason: "malformed json", Err: err}
	}

	taskState := doc.Get("taskState")
	if taskState == nil {
		return nil, &DocumentError{Link: link, Reason: "missing taskState"}
	}

	rawStage := string(taskState.GetStringBytes("stage"))
	stage, ok := mapStage(rawStage)
	if !ok {
		return nil, &DocumentError{Link: link, Reason: "unknown stage " + strconv.Quote(rawStage)}
	}

	var opts []remotetask.StateOption
	if name := string(taskState.GetStringBytes("subStage")); name != "" {
		if sub, ok := deployment.ParseRemoveSubstage(name); ok {
			opts = append(opts, remotetask.WithSubstage(int(sub)))
		} else {
			c.logger.Debug(ctx, "ignoring unknown workflow substage", "link", link.String(), "sub_stage", name)
		}
	}
	if msg := taskState.GetStringBytes("failure", "message"); len(msg) > 0 {
		opts = append(opts, remotetask.WithFailureReason(string(msg)))
	}
	if id := doc.GetStringBytes("deploymentId"); len(id) > 0 {
		opts = append(opts, remotetask.WithResultEntityID(string(id)))
	}

	return remotetask.Observed(stage, opts...), nil
}

// mapStage folds the workflow engine stages onto remote task stages.
func mapStage(s string) (remotetask.Stage, bool) {
	switch s {
	case "CREATED", "STARTED":
		return remotetask.StageRunning, true
	case "FINISHED":
		return remotetask.StageFinished, true
	case "FAILED":
		return remotetask.StageFailed, true
	case "CANCELLED":
		return remotetask.StageCancelled, true
	default:
		return "", false
	}
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
