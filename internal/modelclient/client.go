// internal/modelclient/client.go
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// Client talks to a Responses-style computer-use model endpoint. Transient
// failures are retried locally; only exhausted retries or permanent errors
// surface to the caller.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	cfg        config.ModelConfig

	// sleep is swapped out in tests to observe the retry schedule without
	// waiting for it.
	sleep func(ctx context.Context, d time.Duration) error
}

// apiError carries the HTTP status for retry classification.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("model endpoint error: status %d, body: %s", e.Status, e.Body)
}

// New initializes the client.
func New(cfg config.ModelConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model API key is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("model endpoint is required")
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:  logger.Named("model_client"),
		sleep:   sleepCtx,
	}, nil
}

// CreateResponse submits the conversation items plus tool manifest and returns
// the model's output items with a new continuation token.
func (c *Client) CreateResponse(ctx context.Context, req schemas.ModelRequest) (*schemas.ModelResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.Truncation == "" {
		req.Truncation = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	var rateLimitHits, transientHits int
	for {
		resp, err := c.doOnce(ctx, body)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		apiErr, isAPI := err.(*apiError)
		switch {
		case isAPI && apiErr.Status == http.StatusTooManyRequests:
			// 429 signals throughput exhaustion, not a bug; it gets its own
			// extended delay ladder.
			delays := c.rateLimitDelays()
			if rateLimitHits >= len(delays) {
				return nil, fmt.Errorf("model endpoint rate limit persisted after %d retries: %w", rateLimitHits, err)
			}
			delay := delays[rateLimitHits]
			rateLimitHits++
			c.logger.Warn("Model endpoint rate limited, backing off.",
				zap.Duration("delay", delay),
				zap.Int("attempt", rateLimitHits),
			)
			if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}

		case isAPI && !retryableStatus(apiErr.Status):
			return nil, err

		default:
			// Network failure or retryable status (5xx, 408, 409).
			if transientHits >= c.maxRetries() {
				return nil, fmt.Errorf("model endpoint unavailable after %d retries: %w", transientHits, err)
			}
			transientHits++
			delay := bo.NextBackOff()
			c.logger.Warn("Transient model endpoint failure, retrying.",
				zap.Error(err),
				zap.Duration("delay", delay),
				zap.Int("attempt", transientHits),
			)
			if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}
}

// doOnce performs a single HTTP round trip.
func (c *Client) doOnce(ctx context.Context, body []byte) (*schemas.ModelResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var payload schemas.ModelResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}

	c.logger.Debug("Model call complete.",
		zap.Duration("duration", time.Since(start)),
		zap.Int("output_items", len(payload.Output)),
		zap.String("response_id", payload.ID),
	)
	return &payload, nil
}

func (c *Client) rateLimitDelays() []time.Duration {
	if len(c.cfg.RateLimitDelays) > 0 {
		return c.cfg.RateLimitDelays
	}
	return []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second}
}

func (c *Client) maxRetries() int {
	if c.cfg.MaxRetries > 0 {
		return c.cfg.MaxRetries
	}
	return 3
}

// retryableStatus classifies HTTP statuses worth another attempt. 429 is
// handled separately by the caller.
func retryableStatus(status int) bool {
	switch {
	case status >= http.StatusInternalServerError:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusConflict:
		return true
	default:
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
