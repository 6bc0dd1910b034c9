package provider

import (
	"context"
	"io"
	"net/http"

	"github.com/rhuss/dolmetscher/pkg/api"
)

// Provider abstracts an upstream inference backend. Each adapter maps the
// downstream request into its own wire protocol and maps the answer back.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic").
	Name() string

	// Capabilities returns what this provider supports.
	Capabilities() ProviderCapabilities

	// Complete performs non-streaming inference.
	Complete(ctx context.Context, req *api.ChatCompletionRequest) (*api.ChatCompletion, error)

	// Stream performs streaming inference. The returned channel is
	// unbuffered and is closed by the provider when the stream ends. A
	// successful stream ends with a StreamEvent whose Done is true; a failed
	// one ends with a StreamEvent carrying Err. Cancelling ctx stops the
	// producer without draining.
	Stream(ctx context.Context, req *api.ChatCompletionRequest) (<-chan StreamEvent, error)

	// ListModels returns available models from the backend.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Close releases provider resources (HTTP clients, connections).
	Close() error
}

// Forwarder is implemented by providers that can relay a request body to
// the backend's native endpoint unchanged. The caller owns the returned
// response and must close its body.
type Forwarder interface {
	Forward(ctx context.Context, header http.Header, body io.Reader) (*http.Response, error)
}
