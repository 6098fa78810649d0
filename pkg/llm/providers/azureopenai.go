package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llmgateway/core/pkg/errors"
	"github.com/llmgateway/core/pkg/httpclient"
	"github.com/llmgateway/core/pkg/llm"
)

// AzureOpenAIProvider implements Provider against an Azure OpenAI resource.
// Unlike the public OpenAI API, requests are addressed to a tenant-specific
// endpoint and deployment name rather than a global host and model string,
// and authentication uses the "api-key" header instead of a bearer token.
type AzureOpenAIProvider struct {
	apiKey       string
	endpoint     string
	deploymentID string
	apiVersion   string
	httpClient   *http.Client
	lastUsage    *llm.TokenUsage
	usageMu      sync.RWMutex
}

// NewAzureOpenAIWithCredentials builds an Azure OpenAI provider from
// llm.Credentials, for registration as a plugin factory.
func NewAzureOpenAIWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	azureCreds, ok := creds.(llm.AzureOpenAICredentials)
	if !ok {
		return nil, &errors.ConfigError{
			Key:    "azure_openai.credentials",
			Reason: fmt.Sprintf("azure_openai provider requires AzureOpenAICredentials, got %T", creds),
		}
	}
	if err := azureCreds.Validate(); err != nil {
		return nil, &errors.ConfigError{Key: "azure_openai.credentials", Reason: err.Error()}
	}

	apiVersion := azureCreds.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-06-01"
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 120 * time.Second
	cfg.UserAgent = "llmgateway-azureopenai/1.0"
	cfg.RetryAttempts = 0

	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &AzureOpenAIProvider{
		apiKey:       azureCreds.APIKey,
		endpoint:     strings.TrimRight(azureCreds.Endpoint, "/"),
		deploymentID: azureCreds.DeploymentID,
		apiVersion:   apiVersion,
		httpClient:   httpClient,
	}, nil
}

func (p *AzureOpenAIProvider) Name() string { return "azure_openai" }

func (p *AzureOpenAIProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Streaming: false,
		Tools:     true,
		Models:    openAIModels,
	}
}

func (p *AzureOpenAIProvider) url() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", p.endpoint, p.deploymentID, p.apiVersion)
}

// Complete sends a synchronous completion request to the deployment's chat
// completions endpoint. The request/response wire shapes are identical to
// the public OpenAI API; only the URL and auth header differ.
func (p *AzureOpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	apiReq := &openAIRequest{
		Messages:    buildOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       buildOpenAITools(req.Tools),
		Stop:        req.StopSequences,
	}
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "azure_openai", Message: fmt.Sprintf("failed to marshal request: %v", err), RequestID: requestID}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(), bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{Provider: "azure_openai", Message: fmt.Sprintf("failed to create request: %v", err), RequestID: requestID}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "azure_openai", Message: fmt.Sprintf("request failed: %v", err), RequestID: requestID}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "azure_openai", StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err), RequestID: requestID}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &errors.ProviderError{
				Provider:   "azure_openai",
				StatusCode: resp.StatusCode,
				Message:    errResp.Error.Message,
				Suggestion: openAIErrorSuggestion(resp.StatusCode),
				RequestID:  requestID,
			}
		}
		return nil, &errors.ProviderError{
			Provider:   "azure_openai",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, string(respBody)),
			RequestID:  requestID,
		}
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ProviderError{Provider: "azure_openai", Message: fmt.Sprintf("failed to parse response: %v", err), RequestID: requestID}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &errors.ProviderError{Provider: "azure_openai", Message: "response contained no choices", RequestID: requestID}
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

	model := apiResp.Model
	if model == "" {
		model = p.deploymentID
	}

	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
		Usage:        usage,
		Model:        model,
		RequestID:    requestID,
		Created:      time.Now(),
	}, nil
}

// Stream is not yet implemented for Azure OpenAI deployments.
func (p *AzureOpenAIProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, &errors.ProviderError{
		Provider:   "azure_openai",
		Message:    "streaming is not implemented for the Azure OpenAI provider",
		Suggestion: "Use a non-streaming chat_completion step, or route this model to a provider that supports streaming",
	}
}

// GetLastUsage returns the token usage from the most recent request.
func (p *AzureOpenAIProvider) GetLastUsage() *llm.TokenUsage {
	p.usageMu.RLock()
	defer p.usageMu.RUnlock()
	if p.lastUsage == nil {
		return nil
	}
	usage := *p.lastUsage
	return &usage
}

func (p *AzureOpenAIProvider) setLastUsage(usage llm.TokenUsage) {
	p.usageMu.Lock()
	defer p.usageMu.Unlock()
	p.lastUsage = &usage
}
