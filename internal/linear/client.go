// Package linear is a minimal client for the Linear GraphQL API covering
// the issue operations the run pipeline needs: fetching issue metadata,
// posting a result comment, and moving the issue into review. A network
// free Stub with canned fixtures stands in when no API key is configured.
package linear

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
)

const (
	// DefaultBaseURL is the public Linear GraphQL endpoint.
	DefaultBaseURL = "https://api.linear.app/graphql"
	// DefaultTimeout bounds each GraphQL request.
	DefaultTimeout = 30 * time.Second
)

// Config carries the settings for a Linear API client.
type Config struct {
	// APIKey is sent as the Authorization header value. Linear personal
	// keys are passed bare, without a Bearer prefix.
	APIKey string
	// BaseURL overrides the GraphQL endpoint, mostly for tests.
	BaseURL string
	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client
}

// Client talks to the Linear GraphQL API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client from cfg. The API key is required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("linear api key is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
	}, nil
}

// APIError is a non-2xx HTTP response from the Linear API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("linear api error %d: %s", e.StatusCode, e.Body)
}

// Is enables errors.Is checks against any APIError.
func (e *APIError) Is(target error) bool {
	_, ok := target.(*APIError)
	return ok
}

// GraphQLError is an errors array returned in an otherwise successful
// HTTP response.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return fmt.Sprintf("linear graphql errors: %s", strings.Join(e.Messages, "; "))
}

// Is enables errors.Is checks against any GraphQLError.
func (e *GraphQLError) Is(target error) bool {
	_, ok := target.(*GraphQLError)
	return ok
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// execute posts one GraphQL operation and decodes its data payload into out.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	if variables == nil {
		variables = map[string]any{}
	}
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("linear request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read linear response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return fmt.Errorf("decode linear response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		messages := make([]string, 0, len(decoded.Errors))
		for _, item := range decoded.Errors {
			messages = append(messages, item.Message)
		}
		return &GraphQLError{Messages: messages}
	}

	if out == nil {
		return nil
	}
	if len(decoded.Data) == 0 {
		return errors.New("linear response has no data")
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("decode linear data: %w", err)
	}
	return nil
}
