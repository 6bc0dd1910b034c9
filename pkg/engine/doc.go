// Package engine implements the request orchestration for dolmetscher.
// The Engine struct implements transport.ChatCompleter, bridging incoming
// Chat Completions requests to a provider backend. It applies defaults,
// validates the request against the protocol rules and the provider's
// capabilities, relays completions or streamed chunks to the transport
// writer, and records upstream metrics.
package engine
