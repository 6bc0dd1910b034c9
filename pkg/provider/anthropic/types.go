package anthropic

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Messages API roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons reported by the Messages API.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopSequence  = "stop_sequence"
	StopToolUse   = "tool_use"
	StopPauseTurn = "pause_turn"
	StopRefusal   = "refusal"
)

// Request is the body of POST /messages.
type Request struct {
	Model         string      `json:"model"`
	System        []TextBlock `json:"system,omitempty"`
	Messages      []Message   `json:"messages"`
	Tools         []Tool      `json:"tools,omitempty"`
	ToolChoice    *ToolChoice `json:"tool_choice,omitempty"`
	MaxTokens     int         `json:"max_tokens"`
	Stream        bool        `json:"stream,omitempty"`
	Temperature   *float64    `json:"temperature,omitempty"`
	TopP          *float64    `json:"top_p,omitempty"`
	StopSequences []string    `json:"stop_sequences,omitempty"`
}

// TextBlock is a system prompt element.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is one conversation turn. Role is user or assistant.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is either a plain string or a list of blocks. Blocks is non-nil
// exactly when the list form is used.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// StringContent returns string-form content.
func StringContent(s string) Content {
	return Content{Text: s}
}

// BlockContent returns list-form content.
func BlockContent(blocks ...ContentBlock) Content {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return Content{Blocks: blocks}
}

// IsBlocks reports whether the content uses the list form.
func (c Content) IsBlocks() bool {
	return c.Blocks != nil
}

// MarshalJSON writes the list form when blocks are present.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsBlocks() {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a string or a list of blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*c = Content{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or a list of blocks: %w", err)
	}
	c.Blocks = BlockContent(blocks...).Blocks
	return nil
}

// ContentBlock is a tagged union discriminated by Type. Only the fields of
// the active variant are populated.
type ContentBlock struct {
	Type string

	// text
	Text string

	// image
	Source *ImageSource

	// tool_use
	ID    string
	Name  string
	Input json.RawMessage

	// tool_result
	ToolUseID     string
	ResultContent string
	IsError       bool
}

// TextContentBlock returns a text block.
func TextContentBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageContentBlock returns a base64 image block.
func ImageContentBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: data}}
}

// ToolUseContentBlock returns a tool_use block. A nil input becomes {}.
func ToolUseContentBlock(id, name string, input json.RawMessage) ContentBlock {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultContentBlock returns a tool_result block.
func ToolResultContentBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, ResultContent: content, IsError: isError}
}

type textWire struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imageWire struct {
	Type   string       `json:"type"`
	Source *ImageSource `json:"source"`
}

type toolUseWire struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type toolResultWire struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// MarshalJSON writes only the fields of the active variant. is_error is
// always present on tool_result blocks.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(textWire{Type: b.Type, Text: b.Text})
	case BlockImage:
		return json.Marshal(imageWire{Type: b.Type, Source: b.Source})
	case BlockToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return json.Marshal(toolUseWire{Type: b.Type, ID: b.ID, Name: b.Name, Input: input})
	case BlockToolResult:
		return json.Marshal(toolResultWire{Type: b.Type, ToolUseID: b.ToolUseID, Content: b.ResultContent, IsError: b.IsError})
	default:
		return nil, fmt.Errorf("unknown content block type %q", b.Type)
	}
}

// UnmarshalJSON decodes any known variant. Unknown variants keep only
// their Type so callers can skip them.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      string          `json:"type"`
		Text      string          `json:"text"`
		Source    *ImageSource    `json:"source"`
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Input     json.RawMessage `json:"input"`
		ToolUseID string          `json:"tool_use_id"`
		Content   json.RawMessage `json:"content"`
		IsError   bool            `json:"is_error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = ContentBlock{Type: raw.Type}
	switch raw.Type {
	case BlockText:
		b.Text = raw.Text
	case BlockImage:
		b.Source = raw.Source
	case BlockToolUse:
		b.ID, b.Name, b.Input = raw.ID, raw.Name, raw.Input
	case BlockToolResult:
		b.ToolUseID, b.IsError = raw.ToolUseID, raw.IsError
		if len(raw.Content) > 0 && raw.Content[0] == '"' {
			if err := json.Unmarshal(raw.Content, &b.ResultContent); err != nil {
				return err
			}
		}
	}
	return nil
}

// ImageSource carries inline image bytes.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Tool declares a callable tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Tool choice types.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceAny  = "any"
	ToolChoiceTool = "tool"
)

// ToolChoice constrains tool use.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Response is the non-streaming Messages document.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ModelsResponse is the body of GET /models.
type ModelsResponse struct {
	Data    []ModelEntry `json:"data"`
	HasMore bool         `json:"has_more"`
}

// ModelEntry describes one upstream model.
type ModelEntry struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

// ErrorBody is the upstream error envelope, used both for non-2xx bodies
// and for in-stream error events.
type ErrorBody struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the inner upstream error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
