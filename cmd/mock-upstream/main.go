// Command mock-upstream runs a deterministic Anthropic Messages server for
// demos and manual conformance runs against dolmetscher. Responses are
// chosen from the request content:
//
//   - tools declared: a get_weather tool_use with input {"loc":"ams"}
//   - an image block: a fixed image description
//   - a system prompt: a pirate greeting
//   - "count from 1 to 5": "1, 2, 3, 4, 5"
//   - anything else: "hello"
//
// The model names "mock-overloaded" and "mock-stream-error" produce a 529
// response and an in-stream error event respectively. Requests without an
// x-api-key header are rejected with 401.
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rhuss/dolmetscher/pkg/provider/anthropic"
)

const defaultModel = "claude-mock"

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	srv := &http.Server{Addr: ":" + port, Handler: newMux()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock upstream starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock upstream failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock upstream shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", handleMessages)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// --- Reply plan ---

// reply is the deterministic answer to one request: either text or a
// single tool call.
type reply struct {
	text       string
	toolName   string
	toolInput  []string // JSON fragments, concatenated by the client
	stopReason string
}

func planReply(req *anthropic.Request) reply {
	if len(req.Tools) > 0 {
		return reply{
			toolName:   req.Tools[0].Name,
			toolInput:  []string{`{"loc":`, `"ams"}`},
			stopReason: anthropic.StopToolUse,
		}
	}
	if hasImage(req) {
		return textReply("I can see the image you shared. It appears to be a small red icon.")
	}
	if len(req.System) > 0 {
		return textReply("Ahoy there, matey! Welcome aboard!")
	}
	if strings.Contains(strings.ToLower(lastUserText(req)), "count from 1 to 5") {
		return textReply("1, 2, 3, 4, 5")
	}
	return textReply("hello")
}

func textReply(text string) reply {
	return reply{text: text, stopReason: anthropic.StopEndTurn}
}

// --- Handlers ---

func handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-api-key") == "" {
		writeError(w, http.StatusUnauthorized, "authentication_error", "x-api-key header is required")
		return
	}

	var req anthropic.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: "+err.Error())
		return
	}
	if req.MaxTokens <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "max_tokens: field required")
		return
	}
	if req.Model == "" {
		req.Model = defaultModel
	}
	if req.Model == "mock-overloaded" {
		writeError(w, 529, "overloaded_error", "Overloaded")
		return
	}

	plan := planReply(&req)
	slog.Info("mock request",
		"model", req.Model,
		"stream", req.Stream,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"stop_reason", plan.stopReason,
	)

	if req.Stream {
		handleStreaming(w, &req, plan)
		return
	}

	resp := anthropic.Response{
		ID:         "msg_mock_01",
		Type:       "message",
		Role:       "assistant",
		Model:      req.Model,
		StopReason: plan.stopReason,
		Usage:      anthropic.Usage{InputTokens: 10, OutputTokens: outputTokens(plan)},
	}
	if plan.toolName != "" {
		resp.Content = []anthropic.ContentBlock{
			anthropic.ToolUseContentBlock("toolu_mock_01", plan.toolName, json.RawMessage(strings.Join(plan.toolInput, ""))),
		}
	} else {
		resp.Content = []anthropic.ContentBlock{anthropic.TextContentBlock(plan.text)}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Streaming ---

func handleStreaming(w http.ResponseWriter, req *anthropic.Request, plan reply) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(event string, payload map[string]any) {
		payload["type"] = event
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	send(anthropic.EventMessageStart, map[string]any{
		"message": map[string]any{
			"id":      "msg_mock_stream",
			"type":    "message",
			"role":    "assistant",
			"model":   req.Model,
			"content": []any{},
			"usage":   map[string]any{"input_tokens": 10, "output_tokens": 1},
		},
	})
	send(anthropic.EventPing, map[string]any{})

	if plan.toolName != "" {
		send(anthropic.EventContentBlockStart, map[string]any{
			"index": 0,
			"content_block": map[string]any{
				"type":  anthropic.BlockToolUse,
				"id":    "toolu_mock_01",
				"name":  plan.toolName,
				"input": map[string]any{},
			},
		})
		for _, fragment := range plan.toolInput {
			send(anthropic.EventContentBlockDelta, map[string]any{
				"index": 0,
				"delta": map[string]any{"type": anthropic.DeltaInputJSON, "partial_json": fragment},
			})
		}
	} else {
		send(anthropic.EventContentBlockStart, map[string]any{
			"index":         0,
			"content_block": map[string]any{"type": anthropic.BlockText, "text": ""},
		})
		for _, token := range tokenize(plan.text) {
			send(anthropic.EventContentBlockDelta, map[string]any{
				"index": 0,
				"delta": map[string]any{"type": anthropic.DeltaText, "text": token},
			})
		}
	}

	if req.Model == "mock-stream-error" {
		send(anthropic.EventError, map[string]any{
			"error": map[string]any{"type": "overloaded_error", "message": "Overloaded"},
		})
		return
	}

	send(anthropic.EventContentBlockStop, map[string]any{"index": 0})
	send(anthropic.EventMessageDelta, map[string]any{
		"delta": map[string]any{"stop_reason": plan.stopReason, "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": outputTokens(plan)},
	})
	send(anthropic.EventMessageStop, map[string]any{})
}

// --- Models endpoint ---

func handleModels(w http.ResponseWriter, r *http.Request) {
	resp := anthropic.ModelsResponse{
		Data: []anthropic.ModelEntry{
			{ID: defaultModel, Type: "model", DisplayName: "Claude Mock", CreatedAt: "2025-01-01T00:00:00Z"},
			{ID: "mock-overloaded", Type: "model", DisplayName: "Always Overloaded", CreatedAt: "2025-01-01T00:00:00Z"},
			{ID: "mock-stream-error", Type: "model", DisplayName: "Fails Mid-Stream", CreatedAt: "2025-01-01T00:00:00Z"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Helpers ---

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(anthropic.ErrorBody{
		Type:  "error",
		Error: anthropic.ErrorDetail{Type: errType, Message: message},
	})
}

// tokenize splits text into word and separator pieces so streams carry
// several deltas.
func tokenize(text string) []string {
	var tokens []string
	start := 0
	for i, r := range text {
		if r == ' ' || r == ',' {
			if i > start {
				tokens = append(tokens, text[start:i])
			}
			tokens = append(tokens, string(r))
			start = i + 1
		}
	}
	if start < len(text) {
		tokens = append(tokens, text[start:])
	}
	return tokens
}

func outputTokens(plan reply) int {
	if plan.toolName != "" {
		return len(plan.toolInput) + 4
	}
	return len(tokenize(plan.text))
}

func lastUserText(req *anthropic.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role != "user" {
			continue
		}
		if !msg.Content.IsBlocks() {
			return msg.Content.Text
		}
		for _, b := range msg.Content.Blocks {
			if b.Type == anthropic.BlockText {
				return b.Text
			}
		}
	}
	return ""
}

func hasImage(req *anthropic.Request) bool {
	for _, msg := range req.Messages {
		for _, b := range msg.Content.Blocks {
			if b.Type == anthropic.BlockImage {
				return true
			}
		}
	}
	return false
}
