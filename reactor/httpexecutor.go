package reactor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/fluxpoint-media/fluxpoint/workflows"
)

// HTTPExecutor resolves stream names by asking an external decision service.
//
// The service receives a POST with a JSON body {"stream_name": "..."} and
// answers 200 with a workflow definition document, or 404 when no workflow
// applies to the stream. All retrying lives here; by the time GetWorkflow
// returns an error the executor has given up for good.
type HTTPExecutor struct {
	url         string
	client      *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// HTTPOption configures an HTTPExecutor.
type HTTPOption func(*HTTPExecutor)

// WithRequestTimeout bounds each individual attempt. Default is 10 seconds.
func WithRequestTimeout(timeout time.Duration) HTTPOption {
	return func(e *HTTPExecutor) {
		e.client.Timeout = timeout
	}
}

// WithMaxAttempts bounds retries per resolution. Default is 5.
func WithMaxAttempts(n int) HTTPOption {
	return func(e *HTTPExecutor) {
		e.maxAttempts = n
	}
}

// WithRateLimit caps outbound decision-service calls per second.
// Zero disables the limit.
func WithRateLimit(perSecond float64) HTTPOption {
	return func(e *HTTPExecutor) {
		if perSecond > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewHTTPExecutor creates an executor that queries the decision service at url.
func NewHTTPExecutor(url string, opts ...HTTPOption) *HTTPExecutor {
	e := &HTTPExecutor{
		url:         url,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 5,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type resolutionRequest struct {
	StreamName string `json:"stream_name"`
}

// GetWorkflow asks the decision service which workflow serves the stream.
func (e *HTTPExecutor) GetWorkflow(ctx context.Context, streamName string) (*workflows.Definition, error) {
	tracer := otel.Tracer("fluxpoint/reactor")
	ctx, span := tracer.Start(ctx, "executor.get_workflow")
	defer span.End()
	span.SetAttributes(attribute.String("stream_name", streamName))

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		def, retryable, err := e.resolve(ctx, streamName)
		attempts++
		if err == nil {
			if def != nil {
				span.SetAttributes(attribute.String("workflow", def.Name))
			}
			return def, nil
		}
		lastErr = err
		if !retryable {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.calculateBackoff(attempt)):
		}
	}

	err := fmt.Errorf("decision service resolution failed after %d attempts: %w", attempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "resolution failed")
	return nil, err
}

// resolve performs a single attempt. retryable reports whether a failure is
// worth another try.
func (e *HTTPExecutor) resolve(ctx context.Context, streamName string) (def *workflows.Definition, retryable bool, err error) {
	body, err := json.Marshal(resolutionRequest{StreamName: streamName})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("decision service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out workflows.Definition
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, false, fmt.Errorf("failed to decode definition: %w", err)
		}
		if r := workflows.Validate(&out); r.HasErrors() {
			return nil, false, fmt.Errorf("decision service returned invalid workflow: %s", r.Errors[0])
		}
		return &out, false, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil

	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("decision service returned status %d", resp.StatusCode)

	default:
		return nil, false, fmt.Errorf("decision service returned status %d", resp.StatusCode)
	}
}

// calculateBackoff returns the delay before the next attempt, exponential
// with a cap and ±25% jitter. math/rand is intentional; the jitter only
// spreads retry timing.
func (e *HTTPExecutor) calculateBackoff(attempt int) time.Duration {
	delay := float64(e.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(e.maxDelay) {
		delay = float64(e.maxDelay)
	}

	jitter := delay * 0.25 * (rand.Float64()*2 - 1)
	delay += jitter

	if delay < 0 {
		delay = float64(e.baseDelay)
	}
	if delay > float64(e.maxDelay) {
		delay = float64(e.maxDelay)
	}

	return time.Duration(delay)
}
