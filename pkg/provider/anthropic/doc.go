// Package anthropic implements provider.Provider on top of an
// Anthropic-style Messages API.
//
// The package holds both directions of the protocol translation:
// TranslateRequest maps a Chat Completions request into a Messages request,
// TranslateResponse maps a Messages document back, and the Decoder plus
// StreamTranslator pair turns a live Messages event stream into Chat
// Completions chunks. Client ties these to HTTP and also offers a raw
// pass-through for clients that already speak the Messages protocol.
package anthropic
