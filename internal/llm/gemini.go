package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiModel speaks the Gemini API via the Google Gen AI SDK.
type GeminiModel struct {
	client *genai.Client
}

func NewGemini(ctx context.Context, apiKey string) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm.NewGemini: %w", err)
	}
	return &GeminiModel{client: client}, nil
}

func (m *GeminiModel) Provider() string { return "gemini" }

func (m *GeminiModel) Complete(ctx context.Context, req *Request) (*Completion, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents, system := toGeminiContents(req.Messages)
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Schema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := m.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	out := &Completion{Content: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		args, marshalErr := json.Marshal(fc.Args)
		if marshalErr != nil {
			return nil, fmt.Errorf("llm.GeminiModel.Complete: marshal args: %w", ErrProtocol)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			// Gemini does not assign call IDs; the tool name links the
			// response back to the call.
			ID:        fc.Name,
			Name:      fc.Name,
			Arguments: args,
		})
	}

	return out, nil
}

// toGeminiContents converts the conversation, pulling system messages out
// into the system instruction (Gemini has no system role in contents).
func toGeminiContents(messages []Message) ([]*genai.Content, string) {
	var system strings.Builder
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		case RoleAssistant:
			parts := make([]*genai.Part, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
				})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     msg.Name,
						Response: map[string]any{"output": msg.Content},
					},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	return contents, system.String()
}

// classifyGeminiError inspects the error text: the SDK does not expose a
// stable typed error across transports.
func classifyGeminiError(err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("llm: gemini: %w", errors.Join(ErrTransient, err))
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "permission"):
		return fmt.Errorf("llm: gemini: %w", errors.Join(ErrProtocol, err))
	default:
		return fmt.Errorf("llm: gemini: %w", errors.Join(ErrProtocol, err))
	}
}
