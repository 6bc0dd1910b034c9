// Package transport defines the handler interface and middleware chain for
// the dolmetscher HTTP/SSE transport layer.
//
// The transport layer bridges OpenAI-style clients and the translation
// engine. It deserializes incoming requests into the types defined in
// pkg/api, dispatches them for processing, and serializes results back to
// the client either as one JSON document or as a server-sent event stream.
//
// # Handler Interface
//
// ChatCompleter is the contract between the transport layer and the
// engine. The ResponseWriter interface abstracts streaming and
// non-streaming output, so the engine can emit chunks or a complete
// completion without knowing the wire framing.
//
// # Middleware
//
// The middleware chain wraps ChatCompleter with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID), and structured logging via log/slog.
//
// # Errors
//
// Handler errors are rendered with WriteError. Upstream replies that
// implement VerbatimError are relayed unchanged; everything else becomes
// an api.ErrorResponse with a status derived by HTTPStatusFromError.
package transport
