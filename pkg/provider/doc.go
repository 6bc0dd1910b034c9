// Package provider defines the interface between the engine and an upstream
// inference backend. The interface speaks dolmetscher's downstream types
// (api.ChatCompletionRequest in, api.ChatCompletion or a channel of
// StreamEvent out), so upstream protocol details stay inside each adapter.
package provider
