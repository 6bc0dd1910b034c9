package http

// OpenAPIDocument is the subset of OpenAPI 3.1 that dolmetscher publishes.
type OpenAPIDocument struct {
	OpenAPI       string                       `json:"openapi"`
	Info          OpenAPIInfo                  `json:"info"`
	OriginServers []OpenAPIServer              `json:"x-origin-servers,omitempty"`
	Paths         map[string]map[string]any    `json:"paths"`
	Components    map[string]map[string]schema `json:"components"`
}

// OpenAPIInfo is the document info block.
type OpenAPIInfo struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// OpenAPIServer is one server entry.
type OpenAPIServer struct {
	URL string `json:"url"`
}

type schema = map[string]any

func ref(name string) schema {
	return schema{"$ref": "#/components/schemas/" + name}
}

func errorReply(description string) schema {
	return schema{
		"description": description,
		"content":     schema{"application/json": schema{"schema": ref("ErrorResponse")}},
	}
}

// BuildOpenAPI returns the document describing the chat completions
// operation. x-origin-servers names the upstream the gateway fronts.
func BuildOpenAPI(cfg OpenAPIConfig) *OpenAPIDocument {
	title := cfg.Title
	if title == "" {
		title = "dolmetscher"
	}

	doc := &OpenAPIDocument{
		OpenAPI: "3.1.0",
		Info:    OpenAPIInfo{Title: title, Version: "1.0.0"},
		Paths: map[string]map[string]any{
			"/v1/chat/completions": {
				"post": schema{
					"operationId": "createChatCompletion",
					"summary":     "Creates a model response for the given chat conversation.",
					"requestBody": schema{
						"required": true,
						"content":  schema{"application/json": schema{"schema": ref("CreateChatCompletionRequest")}},
					},
					"responses": schema{
						"200": schema{
							"description": "A completion document, or a server-sent event stream when stream is true.",
							"content": schema{
								"application/json":  schema{"schema": ref("ChatCompletion")},
								"text/event-stream": schema{"schema": ref("ChatCompletionChunk")},
							},
						},
						"400": errorReply("Invalid request."),
						"401": errorReply("Rejected credential."),
						"502": errorReply("Upstream unavailable."),
					},
				},
			},
		},
		Components: map[string]map[string]schema{
			"schemas": openAPISchemas(),
			"securitySchemes": {
				"bearerAuth": schema{"type": "http", "scheme": "bearer"},
			},
		},
	}
	if cfg.UpstreamURL != "" {
		doc.OriginServers = []OpenAPIServer{{URL: cfg.UpstreamURL}}
	}
	return doc
}

func openAPISchemas() map[string]schema {
	str := schema{"type": "string"}
	integer := schema{"type": "integer"}
	nullableString := schema{"type": []string{"string", "null"}}

	return map[string]schema{
		"CreateChatCompletionRequest": {
			"type":     "object",
			"required": []string{"model", "messages"},
			"properties": schema{
				"model":                 str,
				"messages":              schema{"type": "array", "items": ref("Message"), "minItems": 1},
				"tools":                 schema{"type": "array", "items": ref("Tool")},
				"tool_choice":           schema{"oneOf": []any{schema{"type": "string", "enum": []string{"none", "auto", "required"}}, ref("NamedToolChoice")}},
				"stream":                schema{"type": "boolean"},
				"stream_options":        schema{"type": "object", "properties": schema{"include_usage": schema{"type": "boolean"}}},
				"max_tokens":            integer,
				"max_completion_tokens": integer,
				"temperature":           schema{"type": "number", "minimum": 0, "maximum": 2},
				"top_p":                 schema{"type": "number", "minimum": 0, "maximum": 1},
				"stop":                  schema{"oneOf": []any{str, schema{"type": "array", "items": str}}},
				"user":                  str,
			},
		},
		"Message": {
			"type":     "object",
			"required": []string{"role"},
			"properties": schema{
				"role":         schema{"type": "string", "enum": []string{"system", "user", "assistant", "tool", "function"}},
				"content":      schema{"oneOf": []any{nullableString, schema{"type": "array", "items": ref("ContentPart")}}},
				"name":         str,
				"tool_calls":   schema{"type": "array", "items": ref("ToolCall")},
				"tool_call_id": str,
			},
		},
		"ContentPart": {
			"type":     "object",
			"required": []string{"type"},
			"properties": schema{
				"type":      schema{"type": "string", "enum": []string{"text", "image_url"}},
				"text":      str,
				"image_url": schema{"type": "object", "properties": schema{"url": str, "detail": str}},
			},
		},
		"Tool": {
			"type":     "object",
			"required": []string{"type", "function"},
			"properties": schema{
				"type": schema{"type": "string", "enum": []string{"function"}},
				"function": schema{
					"type":     "object",
					"required": []string{"name"},
					"properties": schema{
						"name":        str,
						"description": str,
						"parameters":  schema{"type": "object"},
					},
				},
			},
		},
		"NamedToolChoice": {
			"type": "object",
			"properties": schema{
				"type":     schema{"type": "string", "enum": []string{"function"}},
				"function": schema{"type": "object", "properties": schema{"name": str}},
			},
		},
		"ToolCall": {
			"type": "object",
			"properties": schema{
				"id":       str,
				"type":     str,
				"function": schema{"type": "object", "properties": schema{"name": str, "arguments": str}},
			},
		},
		"Usage": {
			"type": "object",
			"properties": schema{
				"prompt_tokens":     integer,
				"completion_tokens": integer,
				"total_tokens":      integer,
			},
		},
		"ChatCompletion": {
			"type": "object",
			"properties": schema{
				"id":      str,
				"object":  schema{"type": "string", "enum": []string{"chat.completion"}},
				"created": integer,
				"model":   str,
				"choices": schema{"type": "array", "items": schema{
					"type": "object",
					"properties": schema{
						"index": integer,
						"message": schema{"type": "object", "properties": schema{
							"role":       str,
							"content":    nullableString,
							"tool_calls": schema{"type": "array", "items": ref("ToolCall")},
						}},
						"finish_reason": schema{"type": "string", "enum": []string{"stop", "length", "tool_calls"}},
					},
				}},
				"usage": ref("Usage"),
			},
		},
		"ChatCompletionChunk": {
			"type": "object",
			"properties": schema{
				"id":      str,
				"object":  schema{"type": "string", "enum": []string{"chat.completion.chunk"}},
				"created": integer,
				"model":   str,
				"choices": schema{"type": "array", "items": schema{
					"type": "object",
					"properties": schema{
						"index":         integer,
						"delta":         schema{"type": "object"},
						"finish_reason": nullableString,
					},
				}},
				"usage": ref("Usage"),
			},
		},
		"ErrorResponse": {
			"type": "object",
			"properties": schema{
				"error": schema{
					"type": "object",
					"properties": schema{
						"type":    str,
						"code":    str,
						"param":   str,
						"message": str,
					},
				},
			},
		},
	}
}
