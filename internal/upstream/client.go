// Package upstream sends built request bodies to the configured
// OpenAI-compatible chat completions API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/runixer/janiproxy/internal/outbound"
)

// Retry configuration
const (
	maxRetries   = 3
	baseDelay    = 1 * time.Second
	maxDelay     = 30 * time.Second
	jitterFactor = 0.2 // 20% jitter
)

const userAgent = "janiproxy/1.0"

// Client forwards chat completion requests upstream.
type Client interface {
	// Send posts body to <base>/chat/completions. Retryable failures (429,
	// 5xx, network errors) are retried with backoff; the final response is
	// returned with its body unread, whatever its status. The caller must
	// close it.
	Send(ctx context.Context, body outbound.RequestBody, authHeader string) (*http.Response, error)
}

type clientImpl struct {
	httpClient *http.Client
	apiKey     string
	endpoint   string
	logger     *slog.Logger
	backoff    func(attempt int) time.Duration
}

// isRetryableStatusCode returns true if the HTTP status code indicates a retryable error.
func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// isRetryableError returns true if the error is a network/timeout error that should be retried.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// calculateBackoff returns the delay for the given attempt using exponential backoff with jitter.
func calculateBackoff(attempt int) time.Duration {
	// 2^5 seconds already exceeds maxDelay.
	if attempt > 5 {
		attempt = 5
	}
	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}

	jitter := time.Duration(float64(delay) * jitterFactor * (2*rand.Float64() - 1))
	return delay + jitter
}

// NewClient builds a client for baseURL (e.g. https://openrouter.ai/api/v1).
// timeout bounds the wait for response headers only, so long streams are
// not cut off; cancel the request context to abort a stream.
func NewClient(logger *slog.Logger, baseURL, apiKey, proxyURL string, timeout time.Duration) (Client, error) {
	endpoint, err := url.JoinPath(baseURL, "chat/completions")
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   10,
	}

	clientLogger := logger.With("component", "upstream_client")

	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxy)

		safe := *proxy
		if safe.User != nil {
			safe.User = url.UserPassword(safe.User.Username(), "*****")
		}
		clientLogger.Info("Using proxy for upstream", "proxy_url", safe.String())
	}

	return &clientImpl{
		httpClient: &http.Client{Transport: transport},
		apiKey:     apiKey,
		endpoint:   endpoint,
		logger:     clientLogger,
		backoff:    calculateBackoff,
	}, nil
}

func (c *clientImpl) Send(ctx context.Context, body outbound.RequestBody, authHeader string) (*http.Response, error) {
	startTime := time.Now()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Sending request upstream",
		"model", body.Model,
		"message_count", len(body.Messages),
		"stream", body.Stream,
		"body_bytes", len(payload),
	)

	auth := authHeader
	if c.apiKey != "" {
		auth = "Bearer " + c.apiKey
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			RecordRetry(body.Model)
			delay := c.backoff(attempt - 1)
			c.logger.Warn("Retrying upstream request",
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", delay,
				"last_error", lastErr,
			)

			select {
			case <-ctx.Done():
				RecordRequest(body.Model, time.Since(startTime).Seconds(), false)
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if auth != "" {
			httpReq.Header.Set("Authorization", auth)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("User-Agent", userAgent)
		if body.Stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if isRetryableError(err) && attempt < maxRetries {
				lastErr = err
				continue
			}
			RecordRequest(body.Model, time.Since(startTime).Seconds(), false)
			return nil, fmt.Errorf("upstream request failed: %w", err)
		}

		c.logger.Debug("Upstream response received", "status", resp.Status, "attempt", attempt)

		if isRetryableStatusCode(resp.StatusCode) && attempt < maxRetries {
			// Drain so the connection can be reused.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream API error: %s", resp.Status)
			continue
		}

		success := resp.StatusCode < http.StatusBadRequest
		if !success {
			c.logger.Error("Upstream returned non-OK status", "status", resp.Status, "attempt", attempt)
		}
		RecordRequest(body.Model, time.Since(startTime).Seconds(), success)
		return resp, nil
	}

	// Unreachable: the last attempt always returns.
	return nil, lastErr
}

// Usage is the token accounting block of a chat completion response.
type Usage struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	Cost             *float64 `json:"cost,omitempty"` // Cost in USD, reported by OpenRouter
}

// ParseUsage extracts usage from a buffered JSON response, or from the last
// SSE data chunk that carries it.
func ParseUsage(body []byte) (Usage, bool) {
	var envelope struct {
		Usage *Usage `json:"usage"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Usage != nil {
		return *envelope.Usage, true
	}

	var found Usage
	ok := false
	for _, line := range strings.Split(string(body), "\n") {
		data, isData := strings.CutPrefix(strings.TrimSpace(line), "data:")
		if !isData {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}
		envelope.Usage = nil
		if json.Unmarshal([]byte(data), &envelope) == nil && envelope.Usage != nil {
			found, ok = *envelope.Usage, true
		}
	}
	return found, ok
}
