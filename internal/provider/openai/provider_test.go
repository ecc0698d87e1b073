package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/calliope-ai/calliope/internal/domain"
)

func testClient(serverURL string) *Client {
	return New(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(serverURL),
		option.WithMaxRetries(0),
	)
}

type wireRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	MaxCompletionTokens int64 `json:"max_completion_tokens"`
	Tools               []struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
	Stream bool `json:"stream"`
}

func TestCompleteMapsResponse(t *testing.T) {
	var gotReq wireRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "Hello world",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "search", "arguments": "{\"q\":\"go\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
		}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	resp, err := client.Complete(context.Background(), &domain.CompletionRequest{
		Model:     "gpt-4o",
		MaxTokens: 100,
		Messages: []domain.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
		Tools: []domain.ToolDefinition{
			{Type: "function", Function: domain.FunctionDef{Name: "search", Parameters: map[string]any{"type": "object"}}},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != "Hello world" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "search" || resp.ToolCalls[0].ID != "call_1" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 30 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}

	if gotReq.Model != "gpt-4o" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("request messages = %+v", gotReq.Messages)
	}
	if gotReq.MaxCompletionTokens != 100 {
		t.Errorf("max_completion_tokens = %d", gotReq.MaxCompletionTokens)
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Function.Name != "search" {
		t.Errorf("request tools = %+v", gotReq.Tools)
	}
}

func TestStreamAccumulatesDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var gotReq wireRequest
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !gotReq.Stream {
			t.Error("request did not ask for a stream")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
		}
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := testClient(server.URL)
	events, err := client.Stream(context.Background(), &domain.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var content strings.Builder
	var terminal *domain.TokenEvent
	for evt := range events {
		if evt.Err != nil {
			t.Fatalf("stream error: %v", evt.Err)
		}
		if evt.Usage != nil {
			e := evt
			terminal = &e
			continue
		}
		content.WriteString(evt.ContentDelta)
	}

	if content.String() != "Hello" {
		t.Errorf("content = %q", content.String())
	}
	if terminal == nil {
		t.Fatal("missing terminal event")
	}
	if terminal.FinishReason != "stop" {
		t.Errorf("finish reason = %q", terminal.FinishReason)
	}
	if terminal.Usage.PromptTokens != 7 || terminal.Usage.CompletionTokens != 2 {
		t.Errorf("usage = %+v", terminal.Usage)
	}
}

func TestStreamStartFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Stream(context.Background(), &domain.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if ce := domain.AsCoreError(err); ce.Type != domain.ErrorTypeProvider {
		t.Errorf("error type = %s, want provider", ce.Type)
	}
}

func TestErrorNormalization(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType domain.ErrorType
		wantCode domain.ErrorCode
	}{
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"message":"slow down","type":"rate_limit_error"}}`,
			wantType: domain.ErrorTypeProvider,
			wantCode: domain.ErrorCodeRateLimited,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `{"error":{"message":"boom","type":"server_error"}}`,
			wantType: domain.ErrorTypeProvider,
			wantCode: domain.ErrorCodeProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := testClient(server.URL)
			_, err := client.Complete(context.Background(), &domain.CompletionRequest{
				Model:    "gpt-4o",
				Messages: []domain.Message{{Role: "user", Content: "hi"}},
			})
			if err == nil {
				t.Fatal("expected error")
			}
			ce := domain.AsCoreError(err)
			if ce.Type != tt.wantType {
				t.Errorf("type = %s, want %s", ce.Type, tt.wantType)
			}
			if ce.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", ce.Code, tt.wantCode)
			}
		})
	}
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Complete(context.Background(), &domain.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
	if ce := domain.AsCoreError(err); ce.Type != domain.ErrorTypeProvider {
		t.Errorf("error type = %s, want provider", ce.Type)
	}
}
