package llmrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter implements Client against the Anthropic Messages API.
type AnthropicAdapter struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicAdapter builds an adapter from an API key and default model
// (e.g. anthropic.ModelClaude3_7SonnetLatest).
func NewAnthropicAdapter(apiKey, defaultModel string) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("llmrouter: anthropic api key is required")
	}
	if defaultModel == "" {
		return nil, errors.New("llmrouter: anthropic default model is required")
	}
	return &AnthropicAdapter{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Chat(ctx context.Context, messages []Message, opts CallOptions) (Response, error) {
	return a.call(ctx, messages, nil, opts)
}

func (a *AnthropicAdapter) ToolCall(ctx context.Context, messages []Message, tools []Tool, opts CallOptions) (Response, error) {
	return a.call(ctx, messages, tools, opts)
}

func (a *AnthropicAdapter) Generate(ctx context.Context, prompt string, opts CallOptions) (Response, error) {
	return a.call(ctx, []Message{{Role: RoleUser, Content: prompt}}, nil, opts)
}

func (a *AnthropicAdapter) call(ctx context.Context, messages []Message, tools []Tool, opts CallOptions) (Response, error) {
	model := opts.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}

	var system string
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system += m.Content + "\n"
		case RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  params,
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		req.Tools = make([]anthropic.ToolUnionParam, len(tools))
		for i, t := range tools {
			schema, err := toInputSchema(t.Parameters)
			if err != nil {
				return Response{}, &AdapterError{Kind: ErrInvalidRequest, Provider: a.Name(), Err: err}
			}
			req.Tools[i] = anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: schema,
				},
			}
		}
	}

	resp, err := a.client.Messages.New(ctx, req)
	if err != nil {
		return Response{}, classifyAnthropicError(a.Name(), err)
	}

	out := Response{Model: string(resp.Model), FinishReason: string(resp.StopReason)}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &args)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	out.Usage = Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return out, nil
}

func toInputSchema(params map[string]any) (anthropic.ToolInputSchemaParam, error) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	props, _ := params["properties"].(map[string]any)
	var required []string
	if r, ok := params["required"].([]string); ok {
		required = r
	}
	return anthropic.ToolInputSchemaParam{Properties: props, Required: required}, nil
}

func classifyAnthropicError(provider string, err error) error {
	var apiErr *anthropic.Error
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
	return &AdapterError{Kind: ErrTransient, Provider: provider, Err: fmt.Errorf("anthropic call: %w", err)}
}
