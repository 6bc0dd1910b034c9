package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/dolmetscher/pkg/api"
	"github.com/rhuss/dolmetscher/pkg/auth"
	"github.com/rhuss/dolmetscher/pkg/debug"
	"github.com/rhuss/dolmetscher/pkg/provider"
)

// DefaultVersion is the anthropic-version header sent when none is configured.
const DefaultVersion = "2023-06-01"

// forwardedHeaders are the only inbound headers relayed by Forward.
var forwardedHeaders = []string{"x-api-key", "anthropic-version", "anthropic-beta", "content-type"}

// errStreamDone ends Decoder.Run after message_stop.
var errStreamDone = errors.New("stream done")

// Config holds configuration for the Messages API client.
type Config struct {
	// BaseURL is the API root including the version segment
	// (e.g., "https://api.anthropic.com/v1").
	BaseURL string

	// APIKey is used when the request context carries no credential.
	APIKey string

	// Version is the anthropic-version header. Defaults to DefaultVersion.
	Version string

	// Beta is sent as anthropic-beta when set.
	Beta string

	// Timeout for non-streaming requests. Defaults to 120s. Streams are
	// bounded by the request context only.
	Timeout time.Duration

	// DefaultMaxTokens is used when the request sets no token limit.
	DefaultMaxTokens int

	// ModelAliases rewrites requested model names.
	ModelAliases map[string]string

	// Images configures the default image resolver.
	Images ImageConfig

	// Resolver overrides the default image resolver.
	Resolver ImageResolver
}

// Client implements provider.Provider and provider.Forwarder against a
// Messages API. It never retries.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	streamClient *http.Client
	resolver     ImageResolver
}

var (
	_ provider.Provider  = (*Client)(nil)
	_ provider.Forwarder = (*Client)(nil)
)

// New creates a Client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("anthropic: BaseURL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewImageResolver(cfg.Images)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
		streamClient: &http.Client{Transport: transport},
		resolver:     resolver,
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return "anthropic" }

// Capabilities returns what the Messages API supports through this client.
func (c *Client) Capabilities() provider.ProviderCapabilities {
	return provider.ProviderCapabilities{
		Streaming:   true,
		ToolCalling: true,
		Vision:      true,
		Passthrough: true,
	}
}

// Complete performs one non-streaming call.
func (c *Client) Complete(ctx context.Context, req *api.ChatCompletionRequest) (*api.ChatCompletion, error) {
	upReq, err := c.mapRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, c.httpClient, upReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var msg Response
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to parse upstream response: %s", err.Error()))
	}
	return TranslateResponse(&msg), nil
}

// Stream starts a streaming call. Upstream failures that happen before the
// first byte of the stream are returned directly. Afterwards a single
// goroutine decodes and translates the body and sends each result on an
// unbuffered channel, so upstream reads never run ahead of the consumer.
func (c *Client) Stream(ctx context.Context, req *api.ChatCompletionRequest) (<-chan provider.StreamEvent, error) {
	upReq, err := c.mapRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, c.streamClient, upReq)
	if err != nil {
		return nil, err
	}

	ch := make(chan provider.StreamEvent)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		pumpStream(ctx, resp.Body, NewStreamState(req.IncludeUsage()), ch)
	}()
	return ch, nil
}

// pumpStream runs the decode and translate fold over body and reports the
// outcome as the final event on ch. Nothing is sent once ctx is done.
func pumpStream(ctx context.Context, body io.Reader, state *StreamState, ch chan<- provider.StreamEvent) {
	send := func(ev provider.StreamEvent) error {
		select {
		case ch <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var translator StreamTranslator
	err := NewDecoder().Run(ctx, body, func(ev Event) error {
		chunks, done, err := translator.Translate(state, ev)
		if err != nil {
			return err
		}
		for i := range chunks {
			if err := send(provider.StreamEvent{Chunk: &chunks[i]}); err != nil {
				return err
			}
		}
		if done {
			return errStreamDone
		}
		return nil
	})

	if ctx.Err() != nil {
		debug.Log("streaming", "stream cancelled by client", "error", ctx.Err())
		return
	}

	var streamErr *StreamError
	switch {
	case errors.Is(err, errStreamDone):
		in, out := state.Usage()
		_ = send(provider.StreamEvent{Done: true, Usage: api.NewUsage(in, out)})
		return
	case errors.As(err, &streamErr):
	case err != nil:
		streamErr = &StreamError{Kind: StreamTruncated, Message: "upstream read failed", Err: err}
	default:
		streamErr = &StreamError{Kind: StreamTruncated, Message: "upstream closed the stream before message_stop"}
	}
	_ = send(provider.StreamEvent{Err: streamErr})
}

// ListModels queries GET {base_url}/models.
func (c *Client) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	c.setHeaders(ctx, httpReq.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newUpstreamHTTPError(resp)
	}
	defer resp.Body.Close()

	var models ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to parse models response: %s", err.Error()))
	}

	out := make([]provider.ModelInfo, 0, len(models.Data))
	for _, m := range models.Data {
		info := provider.ModelInfo{ID: m.ID, DisplayName: m.DisplayName, OwnedBy: "anthropic"}
		if ts, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
			info.Created = ts.Unix()
		}
		out = append(out, info)
	}
	return out, nil
}

// Forward relays a Messages request body unchanged. Only x-api-key,
// anthropic-version, anthropic-beta and content-type are copied from
// header; missing ones are filled from the request credential and the
// configuration. The response is returned whatever its status.
func (c *Client) Forward(ctx context.Context, header http.Header, body io.Reader) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", body)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	c.setHeaders(ctx, httpReq.Header)
	httpReq.Header.Set("Content-Type", "application/json")
	for _, name := range forwardedHeaders {
		if v := header.Get(name); v != "" {
			httpReq.Header.Set(name, v)
		}
	}

	debug.Log("providers", "forwarding messages request", "url", httpReq.URL.String())
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	return resp, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) mapRequest(ctx context.Context, req *api.ChatCompletionRequest, stream bool) (*Request, error) {
	upReq, err := TranslateRequest(ctx, req, MapOptions{
		Resolver:         c.resolver,
		DefaultMaxTokens: c.cfg.DefaultMaxTokens,
		ModelAliases:     c.cfg.ModelAliases,
	})
	if err != nil {
		return nil, err
	}
	upReq.Stream = stream
	return upReq, nil
}

// send posts upReq to /messages. A non-2xx answer is returned as
// *UpstreamHTTPError with its body already consumed.
func (c *Client) send(ctx context.Context, client *http.Client, upReq *Request) (*http.Response, error) {
	body, err := json.Marshal(upReq)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	c.setHeaders(ctx, httpReq.Header)
	httpReq.Header.Set("Content-Type", "application/json")
	if upReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	debug.Log("providers", "upstream request", "url", httpReq.URL.String(), "model", upReq.Model, "stream", upReq.Stream)
	debug.Trace("providers", "upstream request body", "body", string(body))

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := newUpstreamHTTPError(resp)
		debug.Log("providers", "upstream error", "status", httpErr.StatusCode, "body", debug.Truncate(string(httpErr.Body), 500))
		return nil, httpErr
	}
	return resp, nil
}

func (c *Client) setHeaders(ctx context.Context, h http.Header) {
	h.Set("anthropic-version", c.cfg.Version)
	if c.cfg.Beta != "" {
		h.Set("anthropic-beta", c.cfg.Beta)
	}
	if key, ok := auth.APIKeyFromContext(ctx); ok {
		h.Set("x-api-key", key)
	} else if c.cfg.APIKey != "" {
		h.Set("x-api-key", c.cfg.APIKey)
	}
}
