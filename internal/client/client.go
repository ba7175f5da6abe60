package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"device-checkin/internal/config"
	"device-checkin/internal/logging"
)

// HeaderRequestID carries a unique id per HTTP request
const HeaderRequestID = "X-Request-ID"

// Signer produces authentication headers for a request body
type Signer interface {
	SignedHeaders(body []byte, now time.Time) (map[string]string, error)
}

// HTTPClient talks to the registration service with retry on transient failures
type HTTPClient struct {
	httpClient   *http.Client
	baseURL      string
	logger       *logrus.Logger
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitterFactor float64
}

// ClientConfig holds configuration for the HTTP client
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultClientConfig returns a client configuration with sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.1,
	}
}

// NewHTTPClient creates a new HTTP client for the configured server
func NewHTTPClient(cfg *config.Config, logger *logrus.Logger) (*HTTPClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	clientCfg := DefaultClientConfig()
	clientCfg.BaseURL = cfg.ServerURL
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.TimeoutDuration()
	}

	return NewHTTPClientWithConfig(clientCfg, logger)
}

// NewHTTPClientWithConfig creates a new HTTP client from an explicit client configuration
func NewHTTPClientWithConfig(clientCfg *ClientConfig, logger *logrus.Logger) (*HTTPClient, error) {
	if clientCfg == nil {
		return nil, fmt.Errorf("client config is required")
	}
	if clientCfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := &http.Client{
		Timeout: clientCfg.Timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          4,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	return &HTTPClient{
		httpClient:   httpClient,
		baseURL:      strings.TrimSuffix(clientCfg.BaseURL, "/"),
		logger:       logger,
		maxRetries:   clientCfg.MaxRetries,
		baseDelay:    clientCfg.BaseDelay,
		maxDelay:     clientCfg.MaxDelay,
		jitterFactor: clientCfg.JitterFactor,
	}, nil
}

// Request represents an HTTP request to be made
type Request struct {
	Method  string
	Path    string
	Body    interface{}
	Headers map[string]string
	Signer  Signer // optional
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// StatusError is returned for HTTP responses with status >= 400
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Do executes an HTTP request with signing and retry logic
func (c *HTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateDelay(attempt)
			c.logger.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Debug("Retrying request")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.doRequest(ctx, req)
		if err != nil {
			lastErr = err

			if !c.shouldRetry(ctx, err, resp) {
				return resp, err
			}

			c.logger.WithError(err).WithField("attempt", attempt+1).Warn("Request failed, will retry")
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// doRequest performs a single HTTP request
func (c *HTTPClient) doRequest(ctx context.Context, req *Request) (*Response, error) {
	fullURL := c.baseURL + req.Path

	var bodyReader io.Reader
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	// Signed per attempt so retries carry a fresh timestamp
	if req.Signer != nil {
		headers, err := req.Signer.SignedHeaders(bodyBytes, time.Now())
		if err != nil {
			logging.LogSecurityError(c.logger, err, "", "sign_request")
			return nil, err
		}
		for key, value := range headers {
			httpReq.Header.Set(key, value)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"method":     req.Method,
		"url":        fullURL,
		"signed":     req.Signer != nil,
		"request_id": httpReq.Header.Get(HeaderRequestID),
	}).Debug("Making HTTP request")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		Headers:    httpResp.Header,
	}

	c.logger.WithFields(logrus.Fields{
		"status_code": httpResp.StatusCode,
		"body_length": len(respBody),
	}).Debug("HTTP response received")

	if httpResp.StatusCode >= 400 {
		return resp, &StatusError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	return resp, nil
}

// shouldRetry determines if a request should be retried based on the error and response
func (c *HTTPClient) shouldRetry(ctx context.Context, err error, resp *Response) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}

	return isNetworkError(err)
}

// calculateDelay calculates the delay for exponential backoff with jitter
func (c *HTTPClient) calculateDelay(attempt int) time.Duration {
	delay := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))

	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}

	jitter := delay * c.jitterFactor * (rand.Float64()*2 - 1)
	delay += jitter

	if delay < float64(c.baseDelay) {
		delay = float64(c.baseDelay)
	}

	return time.Duration(delay)
}

// Close closes idle connections
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// isNetworkError checks if an error is a network-related error that should be retried
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if logging.ClassifyError(err) == logging.ErrorCategoryNetwork {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "eof")
}

// parseJSONResponse parses a JSON response into the provided interface
func parseJSONResponse(resp *Response, v interface{}) error {
	if resp == nil {
		return fmt.Errorf("response is nil")
	}

	if len(resp.Body) == 0 {
		return fmt.Errorf("response body is empty")
	}

	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON response: %w", err)
	}

	return nil
}
