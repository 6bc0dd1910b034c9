package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/rhuss/dolmetscher/pkg/api"
	"github.com/rhuss/dolmetscher/pkg/debug"
	"github.com/rhuss/dolmetscher/pkg/observability"
	"github.com/rhuss/dolmetscher/pkg/provider"
	"github.com/rhuss/dolmetscher/pkg/transport"
)

// ModelLister lists the models served upstream.
type ModelLister interface {
	ListModels(ctx context.Context) ([]provider.ModelInfo, error)
}

// Adapter serves the Chat Completions API over HTTP.
// It routes requests to the appropriate handler and serializes responses.
type Adapter struct {
	creator   transport.ChatCompleter
	models    ModelLister        // nil disables GET /v1/models
	forwarder provider.Forwarder // nil disables POST /v1/messages
	inflight  *transport.InFlightRegistry
	mux       *http.ServeMux
	config    Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
	OpenAPI     OpenAPIConfig
}

// OpenAPIConfig controls the generated OpenAPI document route.
type OpenAPIConfig struct {
	Enabled bool
	Path    string
	Title   string

	// UpstreamURL is published as x-origin-servers.
	UpstreamURL string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 << 20, // 10 MB
		OpenAPI: OpenAPIConfig{
			Enabled: true,
			Path:    "/openapi.json",
			Title:   "dolmetscher",
		},
	}
}

// AdapterOption configures optional Adapter collaborators.
type AdapterOption func(*Adapter)

// WithModelLister enables GET /v1/models.
func WithModelLister(m ModelLister) AdapterOption {
	return func(a *Adapter) { a.models = m }
}

// WithForwarder enables the POST /v1/messages pass-through.
func WithForwarder(f provider.Forwarder) AdapterOption {
	return func(a *Adapter) { a.forwarder = f }
}

// WithInFlightRegistry shares the registry of open streams with the caller.
func WithInFlightRegistry(r *transport.InFlightRegistry) AdapterOption {
	return func(a *Adapter) { a.inflight = r }
}

// WithMiddleware wraps the ChatCompleter with the given chain.
func WithMiddleware(middlewares ...transport.Middleware) AdapterOption {
	return func(a *Adapter) {
		if len(middlewares) > 0 {
			a.creator = transport.Chain(middlewares...)(a.creator)
		}
	}
}

// NewAdapter creates an HTTP adapter for the given ChatCompleter.
func NewAdapter(creator transport.ChatCompleter, cfg Config, opts ...AdapterOption) *Adapter {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}
	if cfg.OpenAPI.Path == "" {
		cfg.OpenAPI.Path = DefaultConfig().OpenAPI.Path
	}

	a := &Adapter{
		creator:  creator,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("POST /v1/chat/completions", a.handleChatCompletion)
	a.mux.HandleFunc("POST /chat/completions", a.handleChatCompletion)
	if a.forwarder != nil {
		a.mux.HandleFunc("POST /v1/messages", a.handleMessages)
	}
	if a.models != nil {
		a.mux.HandleFunc("GET /v1/models", a.handleListModels)
	}
	if cfg.OpenAPI.Enabled {
		a.mux.HandleFunc("GET "+cfg.OpenAPI.Path, a.handleOpenAPI)
	}

	return a
}

// InFlight returns the registry of open streams.
func (a *Adapter) InFlight() *transport.InFlightRegistry {
	return a.inflight
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// httpRequestIDMiddleware propagates the X-Request-ID header. A client
// supplied value is reused; otherwise a fresh one is generated. Either way
// the ID is placed in the context and echoed on the response.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = transport.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		next.ServeHTTP(w, r)
	})
}

// handleChatCompletion handles POST /v1/chat/completions.
func (a *Adapter) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r.Header.Get("Content-Type")) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return
	}

	// Limit body size.
	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return
	}

	if req.Stream {
		a.handleStreamingCompletion(w, r, &req)
		return
	}

	rw := newSSEResponseWriter(w)
	if err := a.creator.CreateChatCompletion(r.Context(), &req, rw); err != nil {
		a.writeHandlerError(r.Context(), w, rw, err)
	}
}

// handleStreamingCompletion handles requests with stream: true. The stream
// is registered in the in-flight registry for the duration of the call so
// that shutdown can cancel it.
func (a *Adapter) handleStreamingCompletion(w http.ResponseWriter, r *http.Request, req *api.ChatCompletionRequest) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := transport.RequestIDFromContext(ctx)
	a.inflight.Register(id, cancel)
	defer a.inflight.Remove(id)

	rw := newSSEResponseWriter(w)
	if err := a.creator.CreateChatCompletion(ctx, req, rw); err != nil {
		a.writeHandlerError(r.Context(), w, rw, err)
	}
}

// handleMessages handles POST /v1/messages by relaying the body to the
// upstream Messages endpoint and copying the reply back unchanged,
// flushing as bytes arrive so that event streams pass through live.
func (a *Adapter) handleMessages(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	resp, err := a.forwarder.Forward(r.Context(), r.Header, body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return
		}
		transport.WriteError(w, err)
		return
	}
	defer resp.Body.Close()

	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "text/event-stream" {
		observability.MarkStreaming(r.Context())
	}

	for name, values := range resp.Header {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if err := copyFlushing(w, resp.Body); err != nil && r.Context().Err() == nil {
		debug.Log("transport", "pass-through copy aborted", "error", err)
	}
}

// hopByHopHeaders are not relayed from the upstream reply.
var hopByHopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Content-Length":    true,
	"Upgrade":           true,
	"Trailer":           true,
}

// copyFlushing copies src to w, flushing after every read.
func copyFlushing(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// handleListModels handles GET /v1/models.
func (a *Adapter) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := a.models.ListModels(r.Context())
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	list := api.ModelList{Object: "list", Data: make([]api.Model, 0, len(models))}
	for _, m := range models {
		list.Data = append(list.Data, api.Model{
			ID:      m.ID,
			Object:  "model",
			Created: m.Created,
			OwnedBy: m.OwnedBy,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// handleOpenAPI serves the generated OpenAPI document.
func (a *Adapter) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(BuildOpenAPI(a.config.OpenAPI))
}

// writeHandlerError writes an error returned by the handler. If streaming
// has already started, it ends the stream with an error frame and no
// [DONE]. Otherwise it writes a JSON error response, or relays the
// upstream reply verbatim.
func (a *Adapter) writeHandlerError(ctx context.Context, w http.ResponseWriter, rw *sseResponseWriter, err error) {
	if ctx.Err() != nil {
		debug.Log("transport", "client went away", "request_id", transport.RequestIDFromContext(ctx), "error", err)
		return
	}

	if rw.isCompleted() {
		slog.Warn("handler error after response completed",
			"request_id", transport.RequestIDFromContext(ctx),
			"error", err,
		)
		return
	}

	// A stream that failed before its first chunk still ends as a stream.
	if apiErr := transport.AsAPIError(err); rw.hasStartedStreaming() || apiErr.Type == api.ErrorTypeStream {
		if werr := rw.writeErrorFrame(apiErr); werr != nil {
			debug.Log("transport", "failed to write error frame", "error", werr)
		}
		return
	}

	transport.WriteError(w, err)
}

// isJSONContentType accepts an absent Content-Type or application/json
// with optional parameters.
func isJSONContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/json"
}
