package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIModel speaks the OpenAI chat-completions protocol. It also serves
// the platform default (any OpenAI-compatible endpoint via BaseURL) and
// Azure OpenAI (deployment-scoped endpoint).
type OpenAIModel struct {
	client   *openai.Client
	provider string
}

// NewOpenAI creates a model against api.openai.com.
func NewOpenAI(apiKey string) *OpenAIModel {
	return &OpenAIModel{
		client:   openai.NewClient(apiKey),
		provider: "openai",
	}
}

// NewOpenAICompatible creates a model against any OpenAI-compatible
// endpoint. Used for the platform default.
func NewOpenAICompatible(apiKey, baseURL, provider string) *OpenAIModel {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIModel{
		client:   openai.NewClientWithConfig(cfg),
		provider: provider,
	}
}

// NewAzureOpenAI creates a model against an Azure OpenAI resource. The
// request model name is the Azure deployment name.
func NewAzureOpenAI(apiKey, endpoint, apiVersion string) *OpenAIModel {
	cfg := openai.DefaultAzureConfig(apiKey, endpoint)
	if apiVersion != "" {
		cfg.APIVersion = apiVersion
	}
	return &OpenAIModel{
		client:   openai.NewClientWithConfig(cfg),
		provider: "azure-openai",
	}
}

func (m *OpenAIModel) Provider() string { return m.provider }

func (m *OpenAIModel) Complete(ctx context.Context, req *Request) (*Completion, error) {
	oaReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    toOpenAIMessages(req.Messages),
		Tools:       toOpenAITools(req.Tools),
	}

	resp, err := m.client.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		return nil, classifyOpenAIError(m.provider, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm.OpenAIModel.Complete: empty choices: %w", ErrProtocol)
	}

	msg := resp.Choices[0].Message
	out := &Completion{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	return out, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaMsg := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role == RoleTool {
			oaMsg.Name = msg.Name
		}
		for _, tc := range msg.ToolCalls {
			oaMsg.ToolCalls = append(oaMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, oaMsg)
	}
	return out
}

func toOpenAITools(tools []ToolDef) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

func classifyOpenAIError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("llm: %s status %d: %w", provider, apiErr.HTTPStatusCode, ErrTransient)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return fmt.Errorf("llm: %s status %d: %w", provider, apiErr.HTTPStatusCode, ErrProtocol)
		default:
			return fmt.Errorf("llm: %s status %d: %w", provider, apiErr.HTTPStatusCode, ErrProtocol)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("llm: %s: %v: %w", provider, context.DeadlineExceeded, ErrTransient)
	}
	// Network-level failures are transient.
	return fmt.Errorf("llm: %s: %w", provider, errors.Join(ErrTransient, err))
}
