package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/first-fluke/cratos-sub006/internal/retry"
	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// AnthropicConfig configures an AnthropicPlanner.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicPlanner implements Planner against Anthropic's Messages API,
// one non-streaming call per CompleteWithTools — the engine drives
// iteration, so unlike the chat-product provider this adapts from, there
// is no need to expose a token-by-token stream here.
type AnthropicPlanner struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicPlanner builds a planner backed by the Anthropic SDK.
func NewAnthropicPlanner(cfg AnthropicConfig) (*AnthropicPlanner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("planner: anthropic API key is required")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultAnthropicModel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicPlanner{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}, nil
}

// Provider identifies this planner's backend for metrics/tracing labels.
func (p *AnthropicPlanner) Provider() string { return "anthropic" }

func (p *AnthropicPlanner) CompleteWithTools(ctx context.Context, req Request) (Response, error) {
	messages, err := convertTurns(req.Messages)
	if err != nil {
		return Response{}, retry.Permanent(fmt.Errorf("planner: invalid conversation: %w", err))
	}
	tools, err := convertToolDefinitions(req.Tools)
	if err != nil {
		return Response{}, retry.Permanent(fmt.Errorf("planner: invalid tool schema: %w", err))
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.ToolChoice.Mode == models.ToolChoiceNone {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	} else if req.ToolChoice.Mode == models.ToolChoiceRequired {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	} else if req.ToolChoice.Mode == models.ToolChoiceNamed && req.ToolChoice.Name != "" {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: req.ToolChoice.Name}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, classifyAnthropicError(err)
	}

	resp := Response{
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				CallID:    variant.ID,
				ToolName:  variant.Name,
				Arguments: json.RawMessage(variant.Input),
			})
		}
	}
	resp.Content = text.String()

	return resp, nil
}

func convertTurns(turns []Turn) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		if t.Role == models.RoleSystem {
			continue // system turns are carried via MessageNewParams.System by the caller's session assembly
		}

		var content []anthropic.ContentBlockParamUnion
		if t.Content != "" {
			content = append(content, anthropic.NewTextBlock(t.Content))
		}
		for _, tr := range t.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.CallID, tr.Output, !tr.Success))
		}
		for _, tc := range t.ToolCalls {
			var input map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("tool call %s: %w", tc.CallID, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.CallID, input, tc.ToolName))
		}
		if len(content) == 0 {
			continue
		}

		if t.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertToolDefinitions(defs []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(d.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: %w", d.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", d.Name)
		}
		toolParam.OfTool.Description = anthropic.String(d.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// classifyAnthropicError marks 4xx client errors (aside from rate limits)
// as permanent so RetryingPlanner does not waste attempts on them.
func classifyAnthropicError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate_limit") {
		return err
	}
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return err
	}
	return retry.Permanent(err)
}
