// Package forge is the client for the Forge Core API: it creates and
// finishes remote agent sessions, submits prompts and exec commands, and
// polls both until they reach the states the caller asked for.
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultRequestTimeout bounds metadata reads and prompt submissions.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultExecTimeout bounds synchronous exec calls, which run real
	// build/test tooling and legitimately take minutes.
	DefaultExecTimeout = 5 * time.Minute
	// DefaultPollInterval is the fixed sleep between state polls.
	DefaultPollInterval = 3 * time.Second
)

// Config carries the explicit construction parameters for a Client.
// Environment lookup happens at the process boundary, never here.
type Config struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	ExecTimeout    time.Duration
	PollInterval   time.Duration
}

// Option customizes Client construction.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// Client talks to the Forge Core API. All methods are safe for concurrent
// use; the client holds no per-session state.
type Client struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	requestTimeout time.Duration
	execTimeout    time.Duration
	pollInterval   time.Duration
	tracer         trace.Tracer
}

// New builds a Client from explicit configuration.
func New(cfg Config, options ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("api token is required")
	}

	client := &Client{
		baseURL:        baseURL,
		token:          token,
		httpClient:     &http.Client{},
		requestTimeout: cfg.RequestTimeout,
		execTimeout:    cfg.ExecTimeout,
		pollInterval:   cfg.PollInterval,
		tracer:         otel.Tracer("bridge/forge"),
	}
	if client.requestTimeout <= 0 {
		client.requestTimeout = DefaultRequestTimeout
	}
	if client.execTimeout <= 0 {
		client.execTimeout = DefaultExecTimeout
	}
	if client.pollInterval <= 0 {
		client.pollInterval = DefaultPollInterval
	}

	for _, option := range options {
		option(client)
	}
	return client, nil
}

// PollInterval returns the configured default poll interval.
func (c *Client) PollInterval() time.Duration {
	return c.pollInterval
}

// send performs one authenticated JSON exchange. Non-2xx responses become
// *APIError with the raw body attached; empty successful bodies return an
// empty byte slice rather than a parse failure.
func (c *Client) send(
	ctx context.Context,
	method string,
	path string,
	body any,
	timeout time.Duration,
) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "forge.request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	))
	defer span.End()

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			span.SetStatus(codes.Error, "encode request")
			return nil, fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
		payload = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		span.SetStatus(codes.Error, "build request")
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, fmt.Errorf("send %s %s: %w", method, path, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response")
		return nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", response.StatusCode))
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &APIError{
			Method:     method,
			Path:       path,
			StatusCode: response.StatusCode,
			Body:       string(raw),
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", response.StatusCode))
		return nil, apiErr
	}

	span.SetStatus(codes.Ok, "")
	return raw, nil
}

// decodeInto unmarshals a response body into the endpoint's typed result.
// Empty bodies leave the target at its zero value.
func decodeInto(path string, raw []byte, target any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}
