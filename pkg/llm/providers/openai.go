// Package providers contains concrete implementations of LLM providers.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llmgateway/core/pkg/errors"
	"github.com/llmgateway/core/pkg/httpclient"
	"github.com/llmgateway/core/pkg/llm"
)

const openAIAPIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements the Provider interface for OpenAI's chat
// completions API. Structurally mirrors AnthropicProvider: a thin,
// stateless HTTP client plus request/response translation.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	lastUsage  *llm.TokenUsage
	usageMu    sync.RWMutex
}

// NewOpenAIProvider creates a new OpenAI provider instance.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{
			Key:    "openai.api_key",
			Reason: "API key is required for OpenAI provider",
		}
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 120 * time.Second
	cfg.UserAgent = "llmgateway-openai/1.0"
	cfg.RetryAttempts = 0

	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    openAIAPIBaseURL,
		httpClient: httpClient,
	}, nil
}

// NewOpenAIWithCredentials builds an OpenAI provider from llm.Credentials
// for registration as a plugin factory.
func NewOpenAIWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	apiKeyCreds, ok := creds.(llm.APIKeyCredentials)
	if !ok {
		return nil, &errors.ConfigError{
			Key:    "openai.credentials",
			Reason: fmt.Sprintf("openai provider requires APIKeyCredentials, got %T", creds),
		}
	}
	provider, err := NewOpenAIProvider(apiKeyCreds.APIKey)
	if err != nil {
		return nil, err
	}
	if apiKeyCreds.BaseURL != "" {
		provider.baseURL = apiKeyCreds.BaseURL
	}
	return provider, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Streaming: false,
		Tools:     true,
		Models:    openAIModels,
	}
}

// openAIMessage is one entry in a chat completions request/response.
type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIToolCallFunc `json:"function"`
}

type openAIToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func buildOpenAIMessages(messages []llm.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		om := openAIMessage{Content: m.Content}
		switch m.Role {
		case llm.MessageRoleSystem:
			om.Role = "system"
		case llm.MessageRoleUser:
			om.Role = "user"
		case llm.MessageRoleAssistant:
			om.Role = "assistant"
			for _, tc := range m.ToolCalls {
				om.ToolCalls = append(om.ToolCalls, openAIToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openAIToolCallFunc{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		case llm.MessageRoleTool:
			om.Role = "tool"
			om.ToolCallID = m.ToolCallID
			om.Name = m.Name
		}
		out = append(out, om)
	}
	return out
}

func buildOpenAITools(tools []llm.Tool) []openAITool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openAITool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) buildAPIRequest(req llm.CompletionRequest, stream bool) *openAIRequest {
	return &openAIRequest{
		Model:       p.resolveModel(req.Model),
		Messages:    buildOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       buildOpenAITools(req.Tools),
		Stop:        req.StopSequences,
		Stream:      stream,
	}
}

func (p *OpenAIProvider) resolveModel(model string) string {
	switch model {
	case string(llm.ModelTierFast):
		return "gpt-3.5-turbo"
	case string(llm.ModelTierBalanced):
		return "gpt-4"
	case string(llm.ModelTierStrategic):
		return "gpt-4-turbo"
	case "":
		return "gpt-4"
	default:
		return model
	}
}

// Complete sends a synchronous completion request to the chat completions API.
func (p *OpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	apiReq := p.buildAPIRequest(req, false)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "openai", Message: fmt.Sprintf("failed to marshal request: %v", err), RequestID: requestID}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{Provider: "openai", Message: fmt.Sprintf("failed to create request: %v", err), RequestID: requestID}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "openai", Message: fmt.Sprintf("request failed: %v", err), RequestID: requestID}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err), RequestID: requestID}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &errors.ProviderError{
				Provider:   "openai",
				StatusCode: resp.StatusCode,
				Message:    errResp.Error.Message,
				Suggestion: openAIErrorSuggestion(resp.StatusCode),
				RequestID:  requestID,
			}
		}
		return nil, &errors.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, string(respBody)),
			RequestID:  requestID,
		}
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ProviderError{Provider: "openai", Message: fmt.Sprintf("failed to parse response: %v", err), RequestID: requestID}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &errors.ProviderError{Provider: "openai", Message: "response contained no choices", RequestID: requestID}
	}

	choice := apiResp.Choices[0]
	var toolCalls []llm.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}

	usage := llm.TokenUsage{
		InputTokens:  apiResp.Usage.PromptTokens,
		OutputTokens: apiResp.Usage.CompletionTokens,
		TotalTokens:  apiResp.Usage.TotalTokens,
	}
	p.setLastUsage(usage)

	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
		Usage:        usage,
		Model:        apiResp.Model,
		RequestID:    requestID,
		Created:      time.Now(),
	}, nil
}

// Stream is not yet implemented; chat_completion workflow steps that
// request streaming against an OpenAI-backed model fail with a clear
// ProviderError rather than silently falling back to a non-streaming call.
func (p *OpenAIProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, &errors.ProviderError{
		Provider:   "openai",
		Message:    "streaming is not implemented for the OpenAI provider",
		Suggestion: "Use a non-streaming chat_completion step, or route this model to a provider that supports streaming",
	}
}

func mapOpenAIFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishReasonStop
	case "length":
		return llm.FinishReasonLength
	case "tool_calls", "function_call":
		return llm.FinishReasonToolCalls
	case "content_filter":
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}

func openAIErrorSuggestion(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Check that your API key is valid and correctly configured"
	case http.StatusForbidden:
		return "Your API key may not have access to this model"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Consider implementing backoff or reducing request frequency"
	case http.StatusBadRequest:
		return "Check the request parameters for errors"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "OpenAI API is experiencing issues. Retry after a short delay"
	default:
		return "Check the OpenAI API documentation for more details"
	}
}

// GetLastUsage returns the token usage from the most recent request.
func (p *OpenAIProvider) GetLastUsage() *llm.TokenUsage {
	p.usageMu.RLock()
	defer p.usageMu.RUnlock()

	if p.lastUsage == nil {
		return nil
	}
	usage := *p.lastUsage
	return &usage
}

func (p *OpenAIProvider) setLastUsage(usage llm.TokenUsage) {
	p.usageMu.Lock()
	defer p.usageMu.Unlock()
	p.lastUsage = &usage
}

// openAIModels contains model metadata for OpenAI's chat models.
var openAIModels = []llm.ModelInfo{
	{
		ID:              "gpt-4-turbo",
		Name:            "GPT-4 Turbo",
		Tier:            llm.ModelTierStrategic,
		MaxTokens:       128000,
		MaxOutputTokens: 4096,
		SupportsTools:   true,
		SupportsVision:  true,
		Description:     "Most capable GPT-4 model for complex tasks.",
	},
	{
		ID:              "gpt-4",
		Name:            "GPT-4",
		Tier:            llm.ModelTierBalanced,
		MaxTokens:       8192,
		MaxOutputTokens: 4096,
		SupportsTools:   true,
		SupportsVision:  false,
		Description:     "Balanced model for most tasks.",
	},
	{
		ID:              "gpt-3.5-turbo",
		Name:            "GPT-3.5 Turbo",
		Tier:            llm.ModelTierFast,
		MaxTokens:       16385,
		MaxOutputTokens: 4096,
		SupportsTools:   true,
		SupportsVision:  false,
		Description:     "Fast and cost-effective for simple tasks.",
	},
}
