// Package api defines the downstream protocol types served by dolmetscher:
// the OpenAI-style Chat Completions request, the single-shot completion
// document, and the streamed completion chunk.
//
// The package performs no I/O. Types that accept more than one JSON shape
// on the wire (message content, stop, tool_choice) carry custom codecs so
// that the rest of the gateway can work with one Go representation.
//
// Core types:
//   - [ChatCompletionRequest]: inbound request
//   - [ChatCompletion]: non-streaming response document
//   - [ChatCompletionChunk]: one streamed SSE frame payload
//   - [APIError]: structured error with type, code, param, and message
package api
