package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rhuss/dolmetscher/pkg/api"
	"github.com/rhuss/dolmetscher/pkg/debug"
	"github.com/rhuss/dolmetscher/pkg/observability"
	"github.com/rhuss/dolmetscher/pkg/provider"
	"github.com/rhuss/dolmetscher/pkg/transport"
)

// Engine orchestrates request processing between the transport layer
// and the provider backend. It implements transport.ChatCompleter.
type Engine struct {
	provider provider.Provider
	cfg      Config
}

// Ensure Engine implements transport.ChatCompleter at compile time.
var _ transport.ChatCompleter = (*Engine)(nil)

// New creates a new Engine. The provider must not be nil.
func New(p provider.Provider, cfg Config) (*Engine, error) {
	if p == nil {
		return nil, fmt.Errorf("engine: provider must not be nil")
	}
	return &Engine{
		provider: p,
		cfg:      cfg,
	}, nil
}

// CreateChatCompletion handles a non-streaming or streaming request.
func (e *Engine) CreateChatCompletion(ctx context.Context, req *api.ChatCompletionRequest, w transport.ResponseWriter) error {
	// Apply default model if the request omits it.
	if req.Model == "" {
		req.Model = e.cfg.DefaultModel
	}

	if apiErr := api.ValidateRequest(req, e.cfg.validation()); apiErr != nil {
		return apiErr
	}
	if apiErr := provider.ValidateCapabilities(e.provider.Capabilities(), req); apiErr != nil {
		return apiErr
	}

	observability.SetModel(ctx, req.Model)

	if req.Stream {
		return e.stream(ctx, req, w)
	}
	return e.complete(ctx, req, w)
}

func (e *Engine) complete(ctx context.Context, req *api.ChatCompletionRequest, w transport.ResponseWriter) error {
	start := time.Now()
	resp, err := e.provider.Complete(ctx, req)
	if err != nil {
		observability.RecordUpstream(req.Model, upstreamStatus(err), time.Since(start), 0, 0)
		return err
	}

	var in, out int
	if resp.Usage != nil {
		in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	observability.RecordUpstream(req.Model, "success", time.Since(start), in, out)

	return w.WriteCompletion(ctx, resp)
}

// stream relays provider chunks to the writer. A Done event is answered
// with WriteDone; an error event, or a channel that closes without Done,
// is returned so the transport can end the stream with an error frame.
func (e *Engine) stream(ctx context.Context, req *api.ChatCompletionRequest, w transport.ResponseWriter) error {
	start := time.Now()
	ch, err := e.provider.Stream(ctx, req)
	if err != nil {
		observability.RecordUpstream(req.Model, upstreamStatus(err), time.Since(start), 0, 0)
		return err
	}
	observability.MarkStreaming(ctx)

	chunks := 0
	for ev := range ch {
		switch {
		case ev.Err != nil:
			observability.RecordUpstream(req.Model, "error", time.Since(start), 0, 0)
			observability.RecordStreamError(streamErrorKind(ev.Err))
			return ev.Err

		case ev.Done:
			var in, out int
			if ev.Usage != nil {
				in, out = ev.Usage.PromptTokens, ev.Usage.CompletionTokens
			}
			observability.RecordUpstream(req.Model, "success", time.Since(start), in, out)
			debug.Log("streaming", "stream completed", "model", req.Model, "chunks", chunks)
			return w.WriteDone(ctx)

		case ev.Chunk != nil:
			chunks++
			if err := w.WriteChunk(ctx, ev.Chunk); err != nil {
				return err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	observability.RecordStreamError("truncated")
	return api.NewStreamError("truncated", "provider stream ended without completion")
}

// upstreamStatus labels a failed upstream call with the upstream status
// code when one was received.
func upstreamStatus(err error) string {
	var verbatim transport.VerbatimError
	if errors.As(err, &verbatim) {
		return strconv.Itoa(verbatim.HTTPStatus())
	}
	return "error"
}

// streamErrorKind extracts the failure kind for the stream error metric.
func streamErrorKind(err error) string {
	if apiErr := transport.AsAPIError(err); apiErr.Type == api.ErrorTypeStream && apiErr.Code != "" {
		return apiErr.Code
	}
	return "unknown"
}
