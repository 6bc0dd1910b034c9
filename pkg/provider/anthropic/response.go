package anthropic

import (
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/dolmetscher/pkg/api"
	"github.com/rhuss/dolmetscher/pkg/observability"
)

// MapStopReason maps an upstream stop reason to a downstream finish
// reason. Unknown and empty reasons map to "stop".
func MapStopReason(reason string) string {
	switch reason {
	case StopMaxTokens:
		return api.FinishReasonLength
	case StopToolUse:
		return api.FinishReasonToolCalls
	case StopEndTurn, StopSequence:
		return api.FinishReasonStop
	default:
		return api.FinishReasonStop
	}
}

// TranslateResponse maps a Messages document to a chat completion. Text
// blocks are concatenated in order. When tool_use blocks exist the content
// is null and only the first becomes a tool call.
func TranslateResponse(resp *Response) *api.ChatCompletion {
	var text strings.Builder
	var toolUses []ContentBlock
	for _, block := range resp.Content {
		switch block.Type {
		case BlockText:
			text.WriteString(block.Text)
		case BlockToolUse:
			toolUses = append(toolUses, block)
		default:
			slog.Debug("skipping unsupported response block", "type", block.Type)
		}
	}

	msg := api.ResponseMessage{Role: api.RoleAssistant}
	if len(toolUses) > 0 {
		first := toolUses[0]
		args := string(first.Input)
		if args == "" {
			args = "{}"
		}
		msg.ToolCalls = []api.ToolCall{{
			ID:   first.ID,
			Type: "function",
			Function: api.FunctionCall{
				Name:      first.Name,
				Arguments: args,
			},
		}}
		if extra := len(toolUses) - 1; extra > 0 {
			slog.Warn("dropping additional tool_use blocks, only the first is returned",
				"dropped", extra, "message_id", resp.ID)
			observability.RecordTruncation(truncatedToolCalls, extra)
		}
	} else {
		content := text.String()
		msg.Content = &content
	}

	id := resp.ID
	if id == "" {
		id = api.NewCompletionID()
	}

	return &api.ChatCompletion{
		ID:      id,
		Object:  api.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: MapStopReason(resp.StopReason),
		}},
		Usage: api.NewUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}
}
