package provider

import (
	"github.com/rhuss/dolmetscher/pkg/api"
)

// ValidateCapabilities checks whether the given request is compatible with
// the provider's declared capabilities. Returns an APIError identifying
// the specific unsupported feature, or nil if the request is compatible.
func ValidateCapabilities(caps ProviderCapabilities, req *api.ChatCompletionRequest) *api.APIError {
	if req.Stream && !caps.Streaming {
		return api.NewInvalidRequestError("stream",
			"the configured provider does not support streaming responses")
	}

	if len(req.Tools) > 0 && !caps.ToolCalling {
		return api.NewInvalidRequestError("tools",
			"the configured provider does not support tool calling")
	}

	if caps.Vision {
		return nil
	}
	for _, msg := range req.Messages {
		for _, part := range msg.Content.Parts {
			if part.Type == api.ContentPartImageURL {
				return api.NewInvalidRequestError("messages",
					"the configured provider does not support image inputs")
			}
		}
	}

	return nil
}
