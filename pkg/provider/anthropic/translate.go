package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rhuss/dolmetscher/pkg/api"
	"github.com/rhuss/dolmetscher/pkg/observability"
)

// DefaultMaxTokens is used when the request sets neither max_tokens nor
// max_completion_tokens.
const DefaultMaxTokens = 4096

// Truncation kinds reported to metrics.
const (
	truncatedToolCalls  = "tool_calls"
	truncatedImage      = "image"
	truncatedToolResult = "tool_result"
	truncatedToolArgs   = "tool_arguments"
)

// MapOptions parameterize TranslateRequest.
type MapOptions struct {
	// Resolver turns image_url parts into inline image blocks. A nil
	// Resolver omits every image.
	Resolver ImageResolver

	// DefaultMaxTokens overrides DefaultMaxTokens when positive.
	DefaultMaxTokens int

	// ModelAliases rewrites the requested model name.
	ModelAliases map[string]string
}

// TranslateRequest maps a Chat Completions request to a Messages request.
// The only error is a request without messages. Content that has no
// counterpart upstream (extra tool calls, unresolvable images) is dropped
// with a warning instead of failing the request.
func TranslateRequest(ctx context.Context, req *api.ChatCompletionRequest, opts MapOptions) (*Request, error) {
	if len(req.Messages) == 0 {
		return nil, api.NewInvalidRequestError("messages", "messages must contain at least one message")
	}

	out := &Request{
		Model:         resolveModel(req.Model, opts.ModelAliases),
		MaxTokens:     resolveMaxTokens(req, opts.DefaultMaxTokens),
		Stream:        req.Stream,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: []string(req.Stop),
		Messages:      make([]Message, 0, len(req.Messages)),
	}

	m := &messageMapper{ctx: ctx, resolver: opts.Resolver, dropped: map[string]bool{}}

	systemSeen := false
	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case api.RoleSystem:
			if systemSeen {
				slog.Debug("ignoring additional system message", "index", i)
				continue
			}
			systemSeen = true
			if text := msg.Content.Flatten(); text != "" {
				out.System = []TextBlock{{Type: BlockText, Text: text}}
			}
		case api.RoleFunction:
			slog.Debug("dropping deprecated function message", "index", i)
		case api.RoleTool:
			if mapped, ok := m.toolResult(msg); ok {
				out.Messages = append(out.Messages, mapped)
			}
		case api.RoleAssistant:
			out.Messages = append(out.Messages, m.assistant(msg))
		default:
			out.Messages = append(out.Messages, Message{Role: RoleUser, Content: m.content(&msg.Content)})
		}
	}

	out.Tools, out.ToolChoice = mapTools(req.Tools, req.ToolChoice)
	return out, nil
}

type messageMapper struct {
	ctx      context.Context
	resolver ImageResolver

	// dropped holds ids of tool calls that were not forwarded, so their
	// results can be dropped as well.
	dropped map[string]bool
}

// assistant maps an assistant turn. Only the first tool call survives.
func (m *messageMapper) assistant(msg *api.Message) Message {
	if len(msg.ToolCalls) == 0 {
		return Message{Role: RoleAssistant, Content: m.content(&msg.Content)}
	}

	var blocks []ContentBlock
	if text := msg.Content.Flatten(); text != "" {
		blocks = append(blocks, TextContentBlock(text))
	}

	first := msg.ToolCalls[0]
	blocks = append(blocks, ToolUseContentBlock(first.ID, first.Function.Name, toolInput(first.Function.Arguments)))

	if extra := msg.ToolCalls[1:]; len(extra) > 0 {
		for _, tc := range extra {
			m.dropped[tc.ID] = true
		}
		slog.Warn("dropping additional tool calls, only the first is forwarded",
			"dropped", len(extra), "kept", first.ID)
		observability.RecordTruncation(truncatedToolCalls, len(extra))
	}

	return Message{Role: RoleAssistant, Content: BlockContent(blocks...)}
}

// toolResult maps a tool message to a user turn holding one tool_result.
func (m *messageMapper) toolResult(msg *api.Message) (Message, bool) {
	if m.dropped[msg.ToolCallID] {
		slog.Warn("dropping tool result for a tool call that was not forwarded",
			"tool_call_id", msg.ToolCallID)
		observability.RecordTruncation(truncatedToolResult, 1)
		return Message{}, false
	}
	block := ToolResultContentBlock(msg.ToolCallID, msg.Content.Flatten(), false)
	return Message{Role: RoleUser, Content: BlockContent(block)}, true
}

// content keeps string content as a string and maps parts 1:1.
func (m *messageMapper) content(c *api.MessageContent) Content {
	if !c.IsParts() {
		return StringContent(c.Text)
	}

	blocks := make([]ContentBlock, 0, len(c.Parts))
	for _, part := range c.Parts {
		switch part.Type {
		case api.ContentPartText:
			blocks = append(blocks, TextContentBlock(part.Text))
		case api.ContentPartImageURL:
			if block, ok := m.image(part.ImageURL); ok {
				blocks = append(blocks, block)
			}
		default:
			slog.Warn("dropping unsupported content part", "type", part.Type)
		}
	}
	return BlockContent(blocks...)
}

func (m *messageMapper) image(ref *api.ImageURL) (ContentBlock, bool) {
	if ref == nil || m.resolver == nil {
		slog.Warn("omitting image part, no resolver available")
		observability.RecordTruncation(truncatedImage, 1)
		return ContentBlock{}, false
	}
	mediaType, data, err := m.resolver.Resolve(m.ctx, ref.URL)
	if err != nil {
		slog.Warn("omitting image part that could not be resolved", "error", err)
		observability.RecordTruncation(truncatedImage, 1)
		return ContentBlock{}, false
	}
	return ImageContentBlock(mediaType, data), true
}

// toolInput parses tool call arguments as a JSON object. Anything else,
// including an empty string, becomes {}.
func toolInput(arguments string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(arguments))
	var obj map[string]json.RawMessage
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &obj) != nil || obj == nil {
		if len(trimmed) > 0 {
			slog.Warn("replacing tool call arguments that are not a JSON object with {}")
			observability.RecordTruncation(truncatedToolArgs, 1)
		}
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(trimmed)
}

func mapTools(tools []api.Tool, choice *api.ToolChoice) ([]Tool, *ToolChoice) {
	if choice != nil && choice.Function == "" && choice.Mode == api.ToolChoiceNone {
		return nil, nil
	}

	var out []Tool
	for _, t := range tools {
		if t.Type != "function" {
			slog.Warn("skipping non-function tool", "type", t.Type)
			continue
		}
		schema := t.Function.Parameters
		if len(bytes.TrimSpace(schema)) == 0 || bytes.Equal(bytes.TrimSpace(schema), []byte("null")) {
			schema = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}
	if len(out) == 0 {
		return nil, nil
	}

	switch {
	case choice == nil || choice.Mode == api.ToolChoiceAuto:
		return out, &ToolChoice{Type: ToolChoiceAuto}
	case choice.Function != "":
		return out, &ToolChoice{Type: ToolChoiceTool, Name: choice.Function}
	case choice.Mode == api.ToolChoiceRequired:
		return out, &ToolChoice{Type: ToolChoiceAny}
	default:
		return out, &ToolChoice{Type: ToolChoiceAuto}
	}
}

func resolveMaxTokens(req *api.ChatCompletionRequest, fallback int) int {
	switch {
	case req.MaxTokens != nil && *req.MaxTokens > 0:
		return *req.MaxTokens
	case req.MaxCompletionTokens != nil && *req.MaxCompletionTokens > 0:
		return *req.MaxCompletionTokens
	case fallback > 0:
		return fallback
	default:
		return DefaultMaxTokens
	}
}

func resolveModel(model string, aliases map[string]string) string {
	if alias, ok := aliases[model]; ok && alias != "" {
		return alias
	}
	return model
}
