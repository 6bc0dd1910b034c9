// Command demo sends one streaming chat completion through dolmetscher,
// prints the text as it arrives and rebuilds tool-call arguments from
// their fragments.
//
// Configuration:
//
//	DEMO_URL     - gateway base URL (default: http://localhost:8080)
//	DEMO_API_KEY - bearer token passed through to the upstream (optional)
//	DEMO_MODEL   - model name (optional; the gateway default applies)
//	DEMO_PROMPT  - user prompt (default asks for the weather in Amsterdam)
//	DEMO_TOOLS   - set to "false" to send the request without tools
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rhuss/dolmetscher/pkg/api"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer) error {
	base := strings.TrimRight(envOrDefault("DEMO_URL", "http://localhost:8080"), "/")
	prompt := envOrDefault("DEMO_PROMPT", "What is the weather in Amsterdam?")

	req := api.ChatCompletionRequest{
		Model:         os.Getenv("DEMO_MODEL"),
		Messages:      []api.Message{{Role: api.RoleUser, Content: api.TextContent(prompt)}},
		Stream:        true,
		StreamOptions: &api.StreamOptions{IncludeUsage: true},
	}
	if os.Getenv("DEMO_TOOLS") != "false" {
		req.Tools = []api.Tool{{
			Type: "function",
			Function: api.FunctionDef{
				Name:        "get_weather",
				Description: "Current weather for a location",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"loc":{"type":"string"}},"required":["loc"]}`),
			},
		}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("DEMO_API_KEY"); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	fmt.Fprintf(out, "=== dolmetscher streaming demo ===\n> %s\n\n", prompt)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	result, err := readStream(resp.Body, func(text string) { fmt.Fprint(out, text) })
	if err != nil {
		return err
	}
	result.print(out)
	return nil
}

// streamResult is what a finished stream amounts to.
type streamResult struct {
	ID           string
	Text         string
	ToolCalls    []api.ToolCall
	FinishReason string
	Usage        *api.Usage
	Chunks       int
}

func (r *streamResult) print(out io.Writer) {
	fmt.Fprintf(out, "\n\n[id] %s  [chunks] %d  [finish_reason] %s\n", r.ID, r.Chunks, r.FinishReason)
	for _, tc := range r.ToolCalls {
		fmt.Fprintf(out, "[tool_call] %s %s(%s)\n", tc.ID, tc.Function.Name, tc.Function.Arguments)
	}
	if r.Usage != nil {
		fmt.Fprintf(out, "[usage] prompt=%d completion=%d total=%d\n",
			r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Usage.TotalTokens)
	}
}

// readStream consumes an SSE body until data: [DONE]. Tool-call fragments
// are joined by index; the first fragment of each call supplies its id and
// name. An error frame or a body that ends without [DONE] is an error.
func readStream(r io.Reader, onText func(string)) (*streamResult, error) {
	result := &streamResult{}
	calls := map[int]*api.ToolCall{}
	var text strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			result.Text = text.String()
			result.ToolCalls = sortedCalls(calls)
			return result, nil
		}

		if strings.HasPrefix(data, `{"error"`) {
			var frame api.ErrorResponse
			if err := json.Unmarshal([]byte(data), &frame); err == nil && frame.Error != nil {
				return nil, fmt.Errorf("stream aborted: %s (%s)", frame.Error.Message, frame.Error.Type)
			}
			return nil, fmt.Errorf("stream aborted: %s", data)
		}

		var chunk api.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("decoding chunk: %w", err)
		}
		result.Chunks++
		result.ID = chunk.ID
		if chunk.Usage != nil {
			result.Usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != nil {
				text.WriteString(*choice.Delta.Content)
				if onText != nil {
					onText(*choice.Delta.Content)
				}
			}
			for _, frag := range choice.Delta.ToolCalls {
				call, ok := calls[frag.Index]
				if !ok {
					call = &api.ToolCall{Type: "function"}
					calls[frag.Index] = call
				}
				if frag.ID != "" {
					call.ID = frag.ID
				}
				if frag.Function.Name != "" {
					call.Function.Name = frag.Function.Name
				}
				call.Function.Arguments += frag.Function.Arguments
			}
			if choice.FinishReason != nil && result.FinishReason == "" {
				result.FinishReason = *choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("stream ended without [DONE]")
}

func sortedCalls(calls map[int]*api.ToolCall) []api.ToolCall {
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]api.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *calls[i])
	}
	return out
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
