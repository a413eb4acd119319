package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	kerrors "github.com/jllopis/kopl/pkg/errors"
)

// OpenAIProvider implements Provider for the OpenAI chat completions API and
// any server speaking it (vLLM, Qwen, Azure proxies).
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// OpenAIOption configures the OpenAIProvider.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	model   string
	options []option.RequestOption
}

// WithModel sets the default model.
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		c.model = model
	}
}

// WithBaseURL sets a custom base URL for compatible servers.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		if url != "" {
			c.options = append(c.options, option.WithBaseURL(url))
		}
	}
}

// WithAPIKey sets the API key. Without it the client reads OPENAI_API_KEY.
func WithAPIKey(apiKey string) OpenAIOption {
	return func(c *openAIConfig) {
		if apiKey != "" {
			c.options = append(c.options, option.WithAPIKey(apiKey))
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openAIConfig) {
		c.options = append(c.options, option.WithHTTPClient(hc))
	}
}

// NewOpenAI creates a new OpenAI provider.
func NewOpenAI(opts ...OpenAIOption) *OpenAIProvider {
	cfg := openAIConfig{model: "gpt-4o-mini"}
	for _, opt := range opts {
		opt(&cfg)
	}
	// Retries are handled by the resilience layer.
	cfg.options = append(cfg.options, option.WithMaxRetries(0))
	return &OpenAIProvider{
		client: openai.NewClient(cfg.options...),
		model:  cfg.model,
	}
}

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertTool(tool))
		}
		params.Tools = tools
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if stderrors.As(err, &apiErr) {
			return nil, statusError("openai", apiErr.StatusCode, []byte(apiErr.Message))
		}
		return nil, kerrors.New(kerrors.CodeLLMError, "openai chat completion failed", err).WithRecoverable(true)
	}
	return convertResponse(completion), nil
}

func convertMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case RoleSystem:
		return openai.SystemMessage(msg.Content)
	case RoleUser:
		return openai.UserMessage(msg.Content)
	case RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Content)
		}
		toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
		if msg.Content != "" {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: param.NewOpt(msg.Content),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
	case RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID)
	default:
		return openai.UserMessage(msg.Content)
	}
}

func convertTool(tool Tool) openai.ChatCompletionToolParam {
	var params openai.FunctionParameters
	if raw, err := json.Marshal(tool.Function.Parameters); err == nil {
		_ = json.Unmarshal(raw, &params)
	}
	return openai.ChatCompletionToolParam{
		Function: openai.FunctionDefinitionParam{
			Name:        tool.Function.Name,
			Description: openai.String(tool.Function.Description),
			Parameters:  params,
		},
	}
}

func convertResponse(completion *openai.ChatCompletion) *ChatResponse {
	resp := &ChatResponse{
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp
	}
	choice := completion.Choices[0]
	resp.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: ToolTypeFunction,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return resp
}
