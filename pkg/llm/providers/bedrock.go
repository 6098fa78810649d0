package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/uuid"

	"github.com/llmgateway/core/pkg/errors"
	"github.com/llmgateway/core/pkg/llm"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockProvider implements Provider against AWS Bedrock's Anthropic Claude
// model family via the InvokeModel API. Bedrock's runtime is model-agnostic,
// but the request/response envelope is model-specific; this provider speaks
// the Claude Messages body format that Bedrock's anthropic.claude-* models
// expect.
type BedrockProvider struct {
	client    *bedrockruntime.Client
	region    string
	lastUsage *llm.TokenUsage
	usageMu   sync.RWMutex
}

// NewBedrockWithCredentials builds a Bedrock provider from llm.Credentials,
// for registration as a plugin factory. When AccessKeyID is empty the
// default AWS SDK credential chain (environment, shared config, instance
// or task role) supplies authentication instead.
func NewBedrockWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	awsCreds, ok := creds.(llm.AWSCredentials)
	if !ok {
		return nil, &errors.ConfigError{
			Key:    "aws_bedrock.credentials",
			Reason: fmt.Sprintf("aws_bedrock provider requires AWSCredentials, got %T", creds),
		}
	}
	if err := awsCreds.Validate(); err != nil {
		return nil, &errors.ConfigError{Key: "aws_bedrock.credentials", Reason: err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(awsCreds.Region)}
	if awsCreds.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(awsCreds.AccessKeyID, awsCreds.SecretAccessKey, awsCreds.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &errors.ConfigError{Key: "aws_bedrock.credentials", Reason: fmt.Sprintf("failed to load AWS config: %v", err), Cause: err}
	}

	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(cfg),
		region: awsCreds.Region,
	}, nil
}

func (p *BedrockProvider) Name() string { return "aws_bedrock" }

func (p *BedrockProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Streaming: false,
		Tools:     true,
		Models:    bedrockModels,
	}
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	Messages         []bedrockMessage `json:"messages"`
	System           string           `json:"system,omitempty"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      *float64         `json:"temperature,omitempty"`
	StopSequences    []string         `json:"stop_sequences,omitempty"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type bedrockTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

type bedrockResponse struct {
	Content    []bedrockContentBlock `json:"content"`
	StopReason string                `json:"stop_reason"`
	Usage      bedrockUsage          `json:"usage"`
}

type bedrockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func buildBedrockRequest(req llm.CompletionRequest) *bedrockRequest {
	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	var system strings.Builder
	var messages []bedrockMessage
	for _, m := range req.Messages {
		switch m.Role {
		case llm.MessageRoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		case llm.MessageRoleUser:
			messages = append(messages, bedrockMessage{Role: "user", Content: []bedrockContentBlock{{Type: "text", Text: m.Content}}})
		case llm.MessageRoleAssistant:
			blocks := []bedrockContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, bedrockContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, bedrockContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: json.RawMessage(tc.Arguments)})
			}
			messages = append(messages, bedrockMessage{Role: "assistant", Content: blocks})
		case llm.MessageRoleTool:
			messages = append(messages, bedrockMessage{Role: "user", Content: []bedrockContentBlock{{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}}})
		}
	}

	var tools []bedrockTool
	for _, t := range req.Tools {
		tools = append(tools, bedrockTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	return &bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		Messages:         messages,
		System:           system.String(),
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		StopSequences:    req.StopSequences,
		Tools:            tools,
	}
}

func (p *BedrockProvider) resolveModel(modelOrTier string) string {
	switch modelOrTier {
	case string(llm.ModelTierFast):
		return "anthropic.claude-3-haiku-20240307-v1:0"
	case string(llm.ModelTierBalanced), "":
		return "anthropic.claude-3-sonnet-20240229-v1:0"
	case string(llm.ModelTierStrategic):
		return "anthropic.claude-3-opus-20240229-v1:0"
	default:
		return modelOrTier
	}
}

// Complete invokes the resolved Claude model on Bedrock via InvokeModel.
func (p *BedrockProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	modelID := p.resolveModel(req.Model)
	body, err := json.Marshal(buildBedrockRequest(req))
	if err != nil {
		return nil, &errors.ProviderError{Provider: "aws_bedrock", Message: fmt.Sprintf("failed to marshal request: %v", err), RequestID: requestID}
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &modelID,
		ContentType: strPtr("application/json"),
		Accept:      strPtr("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:   "aws_bedrock",
			Message:    fmt.Sprintf("InvokeModel failed: %v", err),
			Suggestion: "Check IAM permissions for bedrock:InvokeModel and that the model is enabled in this region",
			RequestID:  requestID,
			Retryable:  isBedrockRetryable(err),
			Cause:      err,
		}
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, &errors.ProviderError{Provider: "aws_bedrock", Message: fmt.Sprintf("failed to parse response: %v", err), RequestID: requestID}
	}

	var content strings.Builder
	var toolCalls []llm.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: string(block.Input)})
		}
	}

	usage := llm.TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	p.setLastUsage(usage)

	return &llm.CompletionResponse{
		Content:      content.String(),
		ToolCalls:    toolCalls,
		FinishReason: mapBedrockStopReason(resp.StopReason),
		Usage:        usage,
		Model:        modelID,
		RequestID:    requestID,
		Created:      time.Now(),
	}, nil
}

// Stream is not implemented; Bedrock's InvokeModelWithResponseStream would
// be the natural fit but is out of scope until a streaming consumer exists.
func (p *BedrockProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, &errors.ProviderError{
		Provider:   "aws_bedrock",
		Message:    "streaming is not implemented for the Bedrock provider",
		Suggestion: "Use a non-streaming chat_completion step, or route this model to a provider that supports streaming",
	}
}

func mapBedrockStopReason(reason string) llm.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return llm.FinishReasonStop
	case "max_tokens":
		return llm.FinishReasonLength
	case "tool_use":
		return llm.FinishReasonToolCalls
	default:
		return llm.FinishReasonStop
	}
}

func isBedrockRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"throttl", "timeout", "service unavailable", "internalfailure", "toomanyrequests"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func strPtr(s string) *string { return &s }

// GetLastUsage returns the token usage from the most recent request.
func (p *BedrockProvider) GetLastUsage() *llm.TokenUsage {
	p.usageMu.RLock()
	defer p.usageMu.RUnlock()
	if p.lastUsage == nil {
		return nil
	}
	usage := *p.lastUsage
	return &usage
}

func (p *BedrockProvider) setLastUsage(usage llm.TokenUsage) {
	p.usageMu.Lock()
	defer p.usageMu.Unlock()
	p.lastUsage = &usage
}

var bedrockModels = []llm.ModelInfo{
	{
		ID:              "anthropic.claude-3-opus-20240229-v1:0",
		Name:            "Claude 3 Opus (Bedrock)",
		Tier:            llm.ModelTierStrategic,
		MaxTokens:       200000,
		MaxOutputTokens: 4096,
		SupportsTools:   true,
		SupportsVision:  true,
		Description:     "Most capable Claude model, served via AWS Bedrock.",
	},
	{
		ID:              "anthropic.claude-3-sonnet-20240229-v1:0",
		Name:            "Claude 3 Sonnet (Bedrock)",
		Tier:            llm.ModelTierBalanced,
		MaxTokens:       200000,
		MaxOutputTokens: 4096,
		SupportsTools:   true,
		SupportsVision:  true,
		Description:     "Balanced Claude model, served via AWS Bedrock.",
	},
	{
		ID:              "anthropic.claude-3-haiku-20240307-v1:0",
		Name:            "Claude 3 Haiku (Bedrock)",
		Tier:            llm.ModelTierFast,
		MaxTokens:       200000,
		MaxOutputTokens: 4096,
		SupportsTools:   true,
		SupportsVision:  true,
		Description:     "Fast, cost-effective Claude model, served via AWS Bedrock.",
	},
}
