package provider

import (
	"github.com/rhuss/dolmetscher/pkg/api"
)

// ProviderCapabilities declares what features the backend supports.
// Used by the engine for early request validation.
type ProviderCapabilities struct {
	// Streaming indicates whether the provider supports streaming responses.
	Streaming bool

	// ToolCalling indicates whether the provider supports function/tool calls.
	ToolCalling bool

	// Vision indicates whether the provider supports image inputs.
	Vision bool

	// Passthrough indicates whether the provider implements Forwarder.
	Passthrough bool
}

// StreamEvent is one element of a provider stream. Exactly one of Chunk,
// Done or Err is set; Usage accompanies Done.
type StreamEvent struct {
	// Chunk is a translated downstream chunk ready to be framed.
	Chunk *api.ChatCompletionChunk

	// Done marks the successful end of the stream. The consumer answers it
	// with the terminal [DONE] frame.
	Done bool

	// Usage is the upstream token count for the whole stream, reported
	// whether or not the client asked for a usage chunk.
	Usage *api.Usage

	// Err is the failure that ended the stream.
	Err error
}

// ModelInfo holds information about a model served by the provider.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Created     int64  `json:"created,omitempty"`
	OwnedBy     string `json:"owned_by,omitempty"`
}
