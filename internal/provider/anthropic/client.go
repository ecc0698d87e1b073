package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/calliope-ai/calliope/internal/domain"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// ClientOption configures the API client.
type ClientOption func(*apiClient)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *apiClient) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *apiClient) {
		c.httpClient = httpClient
	}
}

// apiClient is a minimal HTTP client for the Anthropic Messages API.
type apiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(apiKey string, opts ...ClientOption) *apiClient {
	c := &apiClient{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *apiClient) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("content-type", "application/json")
}

// messagesRequest is the wire request for /v1/messages.
type messagesRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use blocks
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type wireTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// messagesResponse is the wire response for a non-streaming call.
type messagesResponse struct {
	ID         string        `json:"id"`
	Content    []contentPart `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      wireUsage     `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseAPIError(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		ce := domain.ErrProvider(er.Error.Message).WithStatusCode(http.StatusBadGateway)
		if status == http.StatusTooManyRequests {
			ce.Code = domain.ErrorCodeRateLimited
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return domain.ErrConfiguration(er.Error.Message).
				WithCode(domain.ErrorCodeMissingCredentials)
		}
		return ce
	}
	return domain.ErrProvider(fmt.Sprintf("anthropic API error (status %d)", status))
}

func (c *apiClient) createMessage(ctx context.Context, req *messagesRequest) (*messagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, normalizeTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrProvider("failed to read anthropic response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	var result messagesResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.ErrProvider("failed to decode anthropic response").WithCause(err)
	}
	return &result, nil
}

// streamEvent pairs an SSE event name with its raw data payload.
type streamEvent struct {
	eventType string
	data      json.RawMessage
	err       error
}

func (c *apiClient) streamMessage(ctx context.Context, req *messagesRequest) (<-chan streamEvent, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, normalizeTransportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	out := make(chan streamEvent)
	go c.streamReader(resp.Body, out)
	return out, nil
}

func (c *apiClient) streamReader(body io.ReadCloser, out chan<- streamEvent) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var currentEvent string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			out <- streamEvent{eventType: currentEvent, data: json.RawMessage(data)}
			if currentEvent == "message_stop" {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		out <- streamEvent{err: domain.ErrProvider("stream read error").WithCause(err)}
	}
}

func normalizeTransportError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return domain.ErrTimeout("anthropic call exceeded its deadline").WithCause(err)
	}
	if ctx.Err() == context.Canceled {
		return domain.ErrCancelled("anthropic call cancelled").WithCause(err)
	}
	return domain.ErrProvider(err.Error()).WithCause(err)
}
