package transport

import (
	"context"

	"github.com/rhuss/dolmetscher/pkg/api"
)

// ChatCompleter handles the create-chat-completion operation. The
// implementation receives a validated-shape request and writes the result
// (streamed chunks or a single completion document) to the ResponseWriter.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req *api.ChatCompletionRequest, w ResponseWriter) error
}

// ChatCompleterFunc is an adapter that allows using an ordinary function
// as a ChatCompleter.
type ChatCompleterFunc func(ctx context.Context, req *api.ChatCompletionRequest, w ResponseWriter) error

// CreateChatCompletion calls f(ctx, req, w).
func (f ChatCompleterFunc) CreateChatCompletion(ctx context.Context, req *api.ChatCompletionRequest, w ResponseWriter) error {
	return f(ctx, req, w)
}

// ResponseWriter abstracts streaming and non-streaming output for the handler.
// The transport layer creates a ResponseWriter for each request and provides
// it to the handler. The handler uses WriteChunk and WriteDone for streaming
// responses or WriteCompletion for non-streaming responses.
//
// WriteChunk and WriteCompletion are mutually exclusive on a single writer
// instance. Calling WriteChunk after WriteDone returns an error.
type ResponseWriter interface {
	// WriteChunk sends a single streamed chunk and flushes it.
	WriteChunk(ctx context.Context, chunk *api.ChatCompletionChunk) error

	// WriteDone sends the terminal [DONE] marker. No further writes are
	// accepted afterwards.
	WriteDone(ctx context.Context) error

	// WriteCompletion sends a complete non-streaming response. Returns an
	// error if called after WriteChunk was called on this writer.
	WriteCompletion(ctx context.Context, resp *api.ChatCompletion) error

	// Flush ensures buffered data is sent to the client. Returns an error
	// if the client has disconnected.
	Flush() error
}
