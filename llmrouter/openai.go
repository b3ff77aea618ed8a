package llmrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIAdapter implements Client against the Chat Completions API.
type OpenAIAdapter struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAIAdapter builds an adapter from an API key and default model.
func NewOpenAIAdapter(apiKey, defaultModel string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("llmrouter: openai api key is required")
	}
	if defaultModel == "" {
		return nil, errors.New("llmrouter: openai default model is required")
	}
	return &OpenAIAdapter{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Chat(ctx context.Context, messages []Message, opts CallOptions) (Response, error) {
	return a.call(ctx, messages, nil, opts)
}

func (a *OpenAIAdapter) ToolCall(ctx context.Context, messages []Message, tools []Tool, opts CallOptions) (Response, error) {
	return a.call(ctx, messages, tools, opts)
}

func (a *OpenAIAdapter) Generate(ctx context.Context, prompt string, opts CallOptions) (Response, error) {
	return a.call(ctx, []Message{{Role: RoleUser, Content: prompt}}, nil, opts)
}

func (a *OpenAIAdapter) call(ctx context.Context, messages []Message, tools []Tool, opts CallOptions) (Response, error) {
	model := opts.Model
	if model == "" {
		model = a.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	if opts.Temperature != 0 {
		params.Temperature = openai.Float(float64(opts.Temperature))
	}
	if opts.MaxTokens != 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		case RoleTool:
			params.Messages = append(params.Messages, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if len(tools) > 0 {
		params.Tools = make([]openai.ChatCompletionToolParam, len(tools))
		for i, t := range tools {
			params.Tools[i] = openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  shared.FunctionParameters(t.Parameters),
				},
			}
		}
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, classifyOpenAIError(a.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, &AdapterError{Kind: ErrTransient, Provider: a.Name(), Err: errors.New("no choices returned")}
	}

	choice := resp.Choices[0]
	out := Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func classifyOpenAIError(provider string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &AdapterError{Kind: ErrAuth, Provider: provider, Err: err}
		case 400, 404, 422:
			return &AdapterError{Kind: ErrInvalidRequest, Provider: provider, Err: err}
		case 429:
			return &AdapterError{Kind: ErrRateLimit, Provider: provider, Err: err}
		case 408, 504:
			return &AdapterError{Kind: ErrTimeout, Provider: provider, Err: err}
		default:
			return &AdapterError{Kind: ErrTransient, Provider: provider, Err: err}
		}
	}
	return &AdapterError{Kind: ErrTransient, Provider: provider, Err: fmt.Errorf("openai call: %w", err)}
}
