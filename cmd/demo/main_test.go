package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStreamRebuildsToolCall(t *testing.T) {
	body := strings.Join([]string{
		`data: {"id":"msg_1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`,
		`data: {"id":"msg_1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"toolu_1","type":"function","function":{"name":"get_weather","arguments":""}}]},"finish_reason":null}]}`,
		`data: {"id":"msg_1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"loc\":"}}]},"finish_reason":null}]}`,
		`data: {"id":"msg_1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"ams\"}"}}]},"finish_reason":null}]}`,
		`data: {"id":"msg_1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`,
		`data: {"id":"msg_1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	}, "\n\n") + "\n\n"

	result, err := readStream(strings.NewReader(body), nil)
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "toolu_1", result.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", result.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"loc":"ams"}`, result.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool_calls", result.FinishReason)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 7, result.Usage.TotalTokens)
	assert.Equal(t, 6, result.Chunks)
}

func TestReadStreamText(t *testing.T) {
	body := "data: {\"id\":\"a\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hel\"}}]}\n\n" +
		"data: {\"id\":\"a\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	var seen []string
	result, err := readStream(strings.NewReader(body), func(s string) { seen = append(seen, s) })
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, []string{"hel", "lo"}, seen)
	assert.Empty(t, result.ToolCalls)
}

func TestReadStreamErrorFrame(t *testing.T) {
	body := "data: {\"id\":\"a\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\n" +
		"data: {\"error\":{\"type\":\"stream_error\",\"code\":\"upstream\",\"message\":\"overloaded_error: Overloaded\"}}\n\n"

	_, err := readStream(strings.NewReader(body), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
}

func TestReadStreamTruncated(t *testing.T) {
	body := "data: {\"id\":\"a\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\n"

	_, err := readStream(strings.NewReader(body), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without [DONE]")
}
