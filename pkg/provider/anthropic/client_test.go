package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/dolmetscher/pkg/api"
	"github.com/rhuss/dolmetscher/pkg/auth"
	"github.com/rhuss/dolmetscher/pkg/provider"
)

// capture records the last request seen by a test upstream.
type capture struct {
	header http.Header
	body   Request
	path   string
}

func newTestClient(t *testing.T, cfg Config, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *capture) {
	t.Helper()
	got := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.header = r.Header.Clone()
		got.path = r.URL.Path
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&got.body)
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL + "/v1/"
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, got
}

func simpleRequest(stream bool) *api.ChatCompletionRequest {
	return &api.ChatCompletionRequest{
		Model:    "claude-x",
		Messages: []api.Message{{Role: api.RoleUser, Content: api.TextContent("hi")}},
		Stream:   stream,
	}
}

func writeSSE(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
		w.(http.Flusher).Flush()
	}
}

// collect drains ch and returns the chunks and the terminal event.
func collect(t *testing.T, ch <-chan provider.StreamEvent) ([]api.ChatCompletionChunk, provider.StreamEvent) {
	t.Helper()
	var chunks []api.ChatCompletionChunk
	var last provider.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return chunks, last
			}
			if ev.Chunk != nil {
				chunks = append(chunks, *ev.Chunk)
			} else {
				last = ev
			}
		case <-timeout:
			t.Fatal("stream did not end")
		}
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without BaseURL")
	}
}

func TestClientNameAndCapabilities(t *testing.T) {
	c, err := New(Config{BaseURL: "http://localhost"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Name() != "anthropic" {
		t.Errorf("name = %q", c.Name())
	}
	caps := c.Capabilities()
	if !caps.Streaming || !caps.ToolCalling || !caps.Vision || !caps.Passthrough {
		t.Errorf("capabilities = %+v", caps)
	}
}

func TestCompleteHeadersAndBody(t *testing.T) {
	c, got := newTestClient(t, Config{APIKey: "sk-config", Beta: "tools-2024"}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-x",
			"content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn","usage":{"input_tokens":2,"output_tokens":1}}`)
	})

	out, err := c.Complete(context.Background(), simpleRequest(false))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if got.path != "/v1/messages" {
		t.Errorf("path = %q", got.path)
	}
	if got.header.Get("x-api-key") != "sk-config" {
		t.Errorf("x-api-key = %q", got.header.Get("x-api-key"))
	}
	if got.header.Get("anthropic-version") != DefaultVersion {
		t.Errorf("anthropic-version = %q", got.header.Get("anthropic-version"))
	}
	if got.header.Get("anthropic-beta") != "tools-2024" {
		t.Errorf("anthropic-beta = %q", got.header.Get("anthropic-beta"))
	}
	if got.header.Get("Authorization") != "" {
		t.Error("Authorization must not be sent upstream")
	}
	if got.body.Stream || got.body.MaxTokens != DefaultMaxTokens || got.body.Model != "claude-x" {
		t.Errorf("body = %+v", got.body)
	}

	if *out.Choices[0].Message.Content != "hello" || out.Usage.TotalTokens != 3 {
		t.Errorf("completion = %+v", out)
	}
}

func TestCompleteUsesContextKey(t *testing.T) {
	c, got := newTestClient(t, Config{APIKey: "sk-config"}, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"content":[],"usage":{}}`)
	})

	ctx := auth.WithAPIKey(context.Background(), "sk-caller")
	if _, err := c.Complete(ctx, simpleRequest(false)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.header.Get("x-api-key") != "sk-caller" {
		t.Errorf("x-api-key = %q, want the caller key", got.header.Get("x-api-key"))
	}
}

func TestCompleteNoKey(t *testing.T) {
	c, got := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"content":[],"usage":{}}`)
	})
	if _, err := c.Complete(context.Background(), simpleRequest(false)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, ok := got.header["X-Api-Key"]; ok {
		t.Error("x-api-key sent without any credential")
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	const body = `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`
	c, _ := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, body)
	})

	_, err := c.Complete(context.Background(), simpleRequest(false))
	var httpErr *UpstreamHTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %T %v, want *UpstreamHTTPError", err, err)
	}
	if httpErr.HTTPStatus() != http.StatusTooManyRequests || httpErr.ContentType() != "application/json" {
		t.Errorf("status/content-type = %d/%s", httpErr.HTTPStatus(), httpErr.ContentType())
	}
	if string(httpErr.ResponseBody()) != body {
		t.Errorf("body = %s", httpErr.ResponseBody())
	}
	if httpErr.Header.Get("Retry-After") != "5" {
		t.Error("upstream headers not kept")
	}
	if !strings.Contains(httpErr.Error(), "slow down") {
		t.Errorf("Error() = %q", httpErr.Error())
	}
}

func TestCompleteUnreachable(t *testing.T) {
	c, err := New(Config{BaseURL: "http://127.0.0.1:1/v1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Complete(context.Background(), simpleRequest(false))
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeUpstreamUnavailable {
		t.Errorf("err = %v, want upstream_unavailable", err)
	}
}

func TestCompleteUndecodableBody(t *testing.T) {
	c, _ := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `not json`)
	})
	_, err := c.Complete(context.Background(), simpleRequest(false))
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeServerError {
		t.Errorf("err = %v, want server_error", err)
	}
}

func TestStreamSuccess(t *testing.T) {
	c, got := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			evStart, evTextStart, textDelta(0, "hi"), evBlockStop,
			messageDelta(StopEndTurn, 1), evStop)
	})

	ch, err := c.Stream(context.Background(), simpleRequest(true))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunks, last := collect(t, ch)

	if !got.body.Stream || got.header.Get("Accept") != "text/event-stream" {
		t.Errorf("upstream request not marked as streaming")
	}
	if !last.Done || last.Err != nil {
		t.Fatalf("terminal event = %+v, want Done", last)
	}
	if len(chunks) != 4 {
		t.Errorf("got %d chunks, want role, text, finish and stop", len(chunks))
	}
	for _, c := range chunks {
		if c.Usage != nil {
			t.Errorf("usage chunk sent without include_usage")
		}
	}
	if last.Usage == nil {
		t.Fatal("Done event carries no usage")
	}
	if last.Usage.PromptTokens != 10 || last.Usage.CompletionTokens != 1 || last.Usage.TotalTokens != 11 {
		t.Errorf("usage = %+v, want 10/1/11", *last.Usage)
	}
}

func TestStreamFailures(t *testing.T) {
	tests := []struct {
		name     string
		payloads []string
		want     StreamErrorKind
	}{
		{"truncated", []string{evStart, evTextStart, textDelta(0, "x")}, StreamTruncated},
		{"protocol", []string{textDelta(0, "x")}, StreamProtocol},
		{"malformed", []string{evStart, `{"type":`}, StreamMalformed},
		{"upstream", []string{evStart, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`}, StreamUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
				writeSSE(w, tt.payloads...)
			})
			ch, err := c.Stream(context.Background(), simpleRequest(true))
			if err != nil {
				t.Fatalf("Stream: %v", err)
			}
			_, last := collect(t, ch)
			if last.Done {
				t.Fatal("failed stream reported Done")
			}
			if !IsStreamError(last.Err, tt.want) {
				t.Errorf("err = %v, want %s", last.Err, tt.want)
			}
		})
	}
}

func TestStreamUpstreamErrorBeforeFirstByte(t *testing.T) {
	c, _ := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	})

	ch, err := c.Stream(context.Background(), simpleRequest(true))
	if ch != nil {
		t.Error("channel returned with an error")
	}
	var httpErr *UpstreamHTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("err = %v, want 401 upstream error", err)
	}
}

func TestStreamCancelStopsProducer(t *testing.T) {
	released := make(chan struct{})
	c, _ := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, evStart, evTextStart)
		<-r.Context().Done()
		close(released)
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Stream(ctx, simpleRequest(true))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	<-ch // role chunk
	cancel()

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request not cancelled")
	}
	for ev := range ch {
		if ev.Done || ev.Err != nil {
			t.Errorf("terminal event after cancellation: %+v", ev)
		}
	}
}

func TestListModels(t *testing.T) {
	c, got := newTestClient(t, Config{APIKey: "sk-config"}, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[
			{"id":"claude-a","type":"model","display_name":"A","created_at":"2025-02-19T00:00:00Z"},
			{"id":"claude-b","type":"model","display_name":"B","created_at":"not a date"}
		],"has_more":false}`)
	})

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if got.path != "/v1/models" || got.header.Get("x-api-key") != "sk-config" {
		t.Errorf("request = %s key=%q", got.path, got.header.Get("x-api-key"))
	}
	if len(models) != 2 {
		t.Fatalf("got %d models", len(models))
	}
	if models[0].ID != "claude-a" || models[0].OwnedBy != "anthropic" || models[0].Created != 1739923200 {
		t.Errorf("models[0] = %+v", models[0])
	}
	if models[1].Created != 0 {
		t.Errorf("unparseable created_at = %d, want 0", models[1].Created)
	}
}

func TestForward(t *testing.T) {
	c, got := newTestClient(t, Config{APIKey: "sk-config", Version: "2099-01-01"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, `{"ok":true}`)
	})

	in := http.Header{}
	in.Set("x-api-key", "sk-native")
	in.Set("anthropic-beta", "beta-1")
	in.Set("Cookie", "secret")

	resp, err := c.Forward(context.Background(), in, strings.NewReader(`{"model":"claude-x","max_tokens":1,"messages":[]}`))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, non-2xx must be returned as is", resp.StatusCode)
	}
	if got.header.Get("x-api-key") != "sk-native" || got.header.Get("anthropic-beta") != "beta-1" {
		t.Errorf("forwarded headers = %v", got.header)
	}
	if got.header.Get("anthropic-version") != "2099-01-01" {
		t.Errorf("anthropic-version = %q, want configured version", got.header.Get("anthropic-version"))
	}
	if got.header.Get("Cookie") != "" {
		t.Error("unlisted header forwarded")
	}
	if got.body.Model != "claude-x" {
		t.Errorf("body not relayed: %+v", got.body)
	}
}
