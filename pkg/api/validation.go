package api

import "fmt"

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxMessages int
	MaxTools    int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessages: 2000,
		MaxTools:    128,
	}
}

// ValidateRequest checks a ChatCompletionRequest for validity. It returns an
// *APIError describing the first validation failure, or nil if the request is valid.
func ValidateRequest(req *ChatCompletionRequest, cfg ValidationConfig) *APIError {
	if req.Model == "" {
		return NewInvalidRequestError("model", "model is required")
	}

	if len(req.Messages) == 0 {
		return NewInvalidRequestError("messages", "messages must contain at least one message")
	}

	if cfg.MaxMessages > 0 && len(req.Messages) > cfg.MaxMessages {
		return NewInvalidRequestError("messages",
			fmt.Sprintf("messages exceeds maximum of %d", cfg.MaxMessages))
	}

	for i, msg := range req.Messages {
		if err := validateMessage(i, &msg); err != nil {
			return err
		}
	}

	if cfg.MaxTools > 0 && len(req.Tools) > cfg.MaxTools {
		return NewInvalidRequestError("tools",
			fmt.Sprintf("tools exceeds maximum of %d", cfg.MaxTools))
	}

	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return NewInvalidRequestError("max_tokens", "max_tokens must be positive")
	}
	if req.MaxCompletionTokens != nil && *req.MaxCompletionTokens <= 0 {
		return NewInvalidRequestError("max_completion_tokens", "max_completion_tokens must be positive")
	}

	if req.Temperature != nil {
		if *req.Temperature < 0.0 || *req.Temperature > 2.0 {
			return NewInvalidRequestError("temperature", "temperature must be between 0.0 and 2.0")
		}
	}

	if req.TopP != nil {
		if *req.TopP < 0.0 || *req.TopP > 1.0 {
			return NewInvalidRequestError("top_p", "top_p must be between 0.0 and 1.0")
		}
	}

	if req.N != nil && *req.N != 1 {
		return NewInvalidRequestError("n", "only n=1 is supported")
	}

	if req.ToolChoice != nil {
		switch {
		case req.ToolChoice.Function != "":
			if !hasTool(req.Tools, req.ToolChoice.Function) {
				return NewInvalidRequestError("tool_choice",
					fmt.Sprintf("tool_choice references unknown tool %q", req.ToolChoice.Function))
			}
		case req.ToolChoice.Mode == ToolChoiceNone,
			req.ToolChoice.Mode == ToolChoiceAuto,
			req.ToolChoice.Mode == ToolChoiceRequired:
		default:
			return NewInvalidRequestError("tool_choice",
				fmt.Sprintf("tool_choice must be 'none', 'auto', 'required' or a function, got %q", req.ToolChoice.Mode))
		}
	}

	return nil
}

func validateMessage(i int, msg *Message) *APIError {
	param := fmt.Sprintf("messages[%d]", i)
	switch msg.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleFunction:
	case RoleTool:
		if msg.ToolCallID == "" {
			return NewInvalidRequestError(param+".tool_call_id", "tool messages require tool_call_id")
		}
	case "":
		return NewInvalidRequestError(param+".role", "role is required")
	default:
		return NewInvalidRequestError(param+".role", fmt.Sprintf("unknown role %q", msg.Role))
	}

	for j, part := range msg.Content.Parts {
		switch part.Type {
		case ContentPartText:
		case ContentPartImageURL:
			if part.ImageURL == nil || part.ImageURL.URL == "" {
				return NewInvalidRequestError(fmt.Sprintf("%s.content[%d].image_url", param, j), "image_url.url is required")
			}
		default:
			return NewInvalidRequestError(fmt.Sprintf("%s.content[%d].type", param, j),
				fmt.Sprintf("unsupported content part type %q", part.Type))
		}
	}
	return nil
}

func hasTool(tools []Tool, name string) bool {
	for _, tool := range tools {
		if tool.Function.Name == name {
			return true
		}
	}
	return false
}
